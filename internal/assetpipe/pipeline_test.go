package assetpipe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"mediagen/internal/providers"
	"mediagen/internal/storage"
)

// recordingStore captures every Put so tests can assert on what was written.
type recordingStore struct {
	mu     sync.Mutex
	puts   []string
	data   map[string][]byte
	failOn func(key string) bool
}

func newRecordingStore() *recordingStore {
	return &recordingStore{data: map[string][]byte{}}
}

func (s *recordingStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn != nil && s.failOn(key) {
		return "", errors.New("store unavailable")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	s.puts = append(s.puts, key)
	s.data[key] = data
	return "store://" + key, nil
}

func (s *recordingStore) URL(key string) string { return "store://" + key }

func (s *recordingStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *recordingStore) putCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.puts)
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{B: 180, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newTestPipeline(t *testing.T, store storage.BlobStore, maxBytes int64) *Pipeline {
	t.Helper()
	p, err := New(Options{Store: store, MaxAssetBytes: maxBytes})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return p
}

func TestPersistInlineImageDerivesThumbnail(t *testing.T) {
	store := newRecordingStore()
	p := newTestPipeline(t, store, 0)

	refs, err := p.Persist(context.Background(), "owner-1", []providers.RawAsset{{
		Data:     pngBytes(t, 640, 480),
		MIME:     "image/png",
		Required: true,
	}})
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if len(refs) != 1 {
		t.Fatalf("refs = %d, want 1", len(refs))
	}
	ref := refs[0]
	if !strings.HasPrefix(ref.URL, "store://owner-1/") {
		t.Fatalf("url = %q, want owner-scoped key", ref.URL)
	}
	if ref.ThumbnailURL == "" || ref.ThumbnailURL == ref.URL {
		t.Fatalf("thumbnail = %q, want separate derived object", ref.ThumbnailURL)
	}
	if ref.Width != 640 || ref.Height != 480 {
		t.Fatalf("dimensions = %dx%d, want probed 640x480", ref.Width, ref.Height)
	}
	if store.putCount() != 2 {
		t.Fatalf("puts = %d, want primary plus thumbnail", store.putCount())
	}
}

func TestPersistDownloadsRemoteAsset(t *testing.T) {
	payload := []byte("video-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Write(payload)
	}))
	defer srv.Close()

	store := newRecordingStore()
	p := newTestPipeline(t, store, 0)

	refs, err := p.Persist(context.Background(), "owner-1", []providers.RawAsset{{
		URL:      srv.URL + "/v.mp4",
		Required: true,
	}})
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	ref := refs[0]
	if ref.MIME != "video/mp4" {
		t.Fatalf("mime = %q, want video/mp4 from response header", ref.MIME)
	}
	if ref.SizeBytes != int64(len(payload)) {
		t.Fatalf("size = %d, want %d", ref.SizeBytes, len(payload))
	}
	if !strings.HasSuffix(strings.TrimPrefix(ref.URL, "store://"), ".mp4") {
		t.Fatalf("url = %q, want .mp4 key", ref.URL)
	}
}

func TestPersistProviderThumbnailFetchFailureFallsBackToPrimary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "thumb") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("video"))
	}))
	defer srv.Close()

	store := newRecordingStore()
	p := newTestPipeline(t, store, 0)

	refs, err := p.Persist(context.Background(), "owner-1", []providers.RawAsset{{
		URL:          srv.URL + "/v.mp4",
		ThumbnailURL: srv.URL + "/thumb.jpg",
		Required:     true,
	}})
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if refs[0].ThumbnailURL != refs[0].URL {
		t.Fatalf("thumbnail = %q, want fallback to primary %q", refs[0].ThumbnailURL, refs[0].URL)
	}
}

func TestPersistOptionalAssetFailureIsSkipped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "gif") {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("video"))
	}))
	defer srv.Close()

	store := newRecordingStore()
	p := newTestPipeline(t, store, 0)

	refs, err := p.Persist(context.Background(), "owner-1", []providers.RawAsset{
		{URL: srv.URL + "/v.mp4", Required: true},
		{URL: srv.URL + "/preview.gif", Required: false},
	})
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if len(refs) != 1 {
		t.Fatalf("refs = %d, want optional failure dropped", len(refs))
	}
}

func TestPersistRequiredAssetFailureFailsRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	store := newRecordingStore()
	p := newTestPipeline(t, store, 0)

	_, err := p.Persist(context.Background(), "owner-1", []providers.RawAsset{{
		URL:      srv.URL + "/v.mp4",
		Required: true,
	}})
	if err == nil {
		t.Fatalf("expected failure for required asset")
	}
}

func TestPersistEnforcesSizeCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Repeat("x", 2048))
	}))
	defer srv.Close()

	store := newRecordingStore()
	p := newTestPipeline(t, store, 1024)

	_, err := p.Persist(context.Background(), "owner-1", []providers.RawAsset{{
		URL:      srv.URL + "/big.bin",
		Required: true,
	}})
	if !errors.Is(err, ErrAssetTooLarge) {
		t.Fatalf("err = %v, want asset too large", err)
	}
	if store.putCount() != 0 {
		t.Fatalf("puts = %d, want nothing stored", store.putCount())
	}
}

func TestPersistStreamsDownloadAndCleansUpSpool(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("TMPDIR", tmpDir)

	payload := bytes.Repeat([]byte("v"), 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Write(payload)
	}))
	defer srv.Close()

	store := newRecordingStore()
	p := newTestPipeline(t, store, 0)

	refs, err := p.Persist(context.Background(), "owner-1", []providers.RawAsset{{
		URL:      srv.URL + "/v.mp4",
		Required: true,
	}})
	if err != nil {
		t.Fatalf("persist: %v", err)
	}

	store.mu.Lock()
	stored := store.data[strings.TrimPrefix(refs[0].URL, "store://")]
	store.mu.Unlock()
	if !bytes.Equal(stored, payload) {
		t.Fatalf("stored %d bytes, want the %d downloaded bytes", len(stored), len(payload))
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("read temp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("temp dir holds %d entries after persist, want spool removed", len(entries))
	}
}

func TestPersistThumbnailStoreFailureFallsBackToPrimary(t *testing.T) {
	store := newRecordingStore()
	// First put (primary) succeeds, later puts fail.
	allowed := 1
	store.failOn = func(string) bool {
		if allowed > 0 {
			allowed--
			return false
		}
		return true
	}
	p := newTestPipeline(t, store, 0)

	refs, err := p.Persist(context.Background(), "owner-1", []providers.RawAsset{{
		Data:     pngBytes(t, 64, 64),
		MIME:     "image/png",
		Required: true,
	}})
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if refs[0].ThumbnailURL != refs[0].URL {
		t.Fatalf("thumbnail = %q, want primary fallback", refs[0].ThumbnailURL)
	}
}

func TestPersistGeneratesFreshKeysPerRun(t *testing.T) {
	store := newRecordingStore()
	p := newTestPipeline(t, store, 0)
	raws := []providers.RawAsset{{Data: []byte("bytes"), MIME: "video/mp4", Required: true}}

	first, err := p.Persist(context.Background(), "owner-1", raws)
	if err != nil {
		t.Fatalf("first persist: %v", err)
	}
	second, err := p.Persist(context.Background(), "owner-1", raws)
	if err != nil {
		t.Fatalf("second persist: %v", err)
	}
	if first[0].URL == second[0].URL {
		t.Fatalf("re-run reused key %q, want fresh key", first[0].URL)
	}
}
