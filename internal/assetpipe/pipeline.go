// Package assetpipe downloads provider-hosted assets and writes them into
// durable blob storage under per-owner, date-partitioned keys, deriving
// thumbnails for image assets where possible.
package assetpipe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/providers"
	"mediagen/internal/storage"
)

// ErrAssetTooLarge indicates a provider asset exceeded the payload cap.
var ErrAssetTooLarge = errors.New("assetpipe: asset exceeds size limit")

const (
	thumbBox         = 512
	defaultMaxBytes  = 200 * 1024 * 1024
	defaultFetchTime = 60 * time.Second
)

// Options configures the pipeline.
type Options struct {
	Store           storage.BlobStore
	HTTPClient      *http.Client
	MaxAssetBytes   int64
	DownloadTimeout time.Duration
	Logger          *infra.Logger
}

// Pipeline persists raw provider assets. It is safe to re-run for the same
// job: every run writes under freshly generated keys, so a crash mid-way
// never leaves a destination half-claimed.
type Pipeline struct {
	store      storage.BlobStore
	httpClient *http.Client
	maxBytes   int64
	timeout    time.Duration
	logger     infra.Logger
	now        func() time.Time
}

// New constructs a pipeline writing through the given blob store.
func New(opts Options) (*Pipeline, error) {
	if opts.Store == nil {
		return nil, errors.New("assetpipe: blob store is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	maxBytes := opts.MaxAssetBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	timeout := opts.DownloadTimeout
	if timeout <= 0 {
		timeout = defaultFetchTime
	}
	logger := infra.NopLogger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Pipeline{
		store:      opts.Store,
		httpClient: httpClient,
		maxBytes:   maxBytes,
		timeout:    timeout,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Persist stores every raw asset for the owner and returns the canonical
// references in input order. Failure of a required asset fails the whole
// run; failure of an optional asset (thumbnail, preview) only degrades the
// result, with image thumbnails falling back to the primary asset URL.
func (p *Pipeline) Persist(ctx context.Context, ownerID string, raws []providers.RawAsset) ([]domain.AssetRef, error) {
	refs := make([]domain.AssetRef, 0, len(raws))
	for _, raw := range raws {
		ref, err := p.persistOne(ctx, ownerID, raw)
		if err != nil {
			if !raw.Required {
				p.logger.Warn().Err(err).Str("owner_id", ownerID).Str("url", raw.URL).
					Msg("assetpipe: optional asset skipped")
				continue
			}
			return nil, fmt.Errorf("assetpipe: persist required asset: %w", err)
		}
		refs = append(refs, *ref)
	}
	return refs, nil
}

func (p *Pipeline) persistOne(ctx context.Context, ownerID string, raw providers.RawAsset) (*domain.AssetRef, error) {
	var (
		body        io.ReadSeeker
		size        int64
		contentType = raw.MIME
	)
	if len(raw.Data) > 0 {
		body = bytes.NewReader(raw.Data)
		size = int64(len(raw.Data))
	} else {
		tmp, n, fetchedType, err := p.fetch(ctx, raw.URL)
		if err != nil {
			return nil, err
		}
		defer discard(tmp)
		body, size = tmp, n
		if contentType == "" {
			contentType = fetchedType
		}
	}

	key := storage.ObjectKey(ownerID, p.now(), extensionFor(contentType))
	url, err := p.store.Put(ctx, key, body, size, contentType)
	if err != nil {
		return nil, fmt.Errorf("store primary: %w", err)
	}

	ref := &domain.AssetRef{
		URL:       url,
		MIME:      contentType,
		SizeBytes: size,
		Width:     raw.Width,
		Height:    raw.Height,
	}
	if isImage(contentType) && (ref.Width == 0 || ref.Height == 0) {
		if _, err := body.Seek(0, io.SeekStart); err == nil {
			if cfg, _, err := image.DecodeConfig(body); err == nil {
				ref.Width, ref.Height = cfg.Width, cfg.Height
			}
		}
	}

	// Thumbnail derivation is opportunistic: any failure falls back to the
	// primary URL and never fails the asset.
	switch {
	case raw.ThumbnailURL != "":
		ref.ThumbnailURL = p.persistProviderThumbnail(ctx, ownerID, raw.ThumbnailURL, url)
	case isImage(contentType):
		ref.ThumbnailURL = url
		if _, err := body.Seek(0, io.SeekStart); err == nil {
			ref.ThumbnailURL = p.deriveThumbnail(ctx, ownerID, body, url)
		}
	}
	return ref, nil
}

// persistProviderThumbnail stores a provider-issued thumbnail, falling back
// to the primary URL when the fetch or write fails.
func (p *Pipeline) persistProviderThumbnail(ctx context.Context, ownerID, thumbURL, primaryURL string) string {
	tmp, size, contentType, err := p.fetch(ctx, thumbURL)
	if err != nil {
		p.logger.Warn().Err(err).Str("url", thumbURL).Msg("assetpipe: thumbnail fetch failed, using primary")
		return primaryURL
	}
	defer discard(tmp)
	key := storage.ObjectKey(ownerID, p.now(), extensionFor(contentType))
	url, err := p.store.Put(ctx, key, tmp, size, contentType)
	if err != nil {
		p.logger.Warn().Err(err).Str("url", thumbURL).Msg("assetpipe: thumbnail store failed, using primary")
		return primaryURL
	}
	return url
}

// deriveThumbnail renders a bounded-box JPEG from the image source, falling
// back to the primary URL on any decode or write failure.
func (p *Pipeline) deriveThumbnail(ctx context.Context, ownerID string, r io.Reader, primaryURL string) string {
	src, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		p.logger.Warn().Err(err).Msg("assetpipe: thumbnail decode failed, using primary")
		return primaryURL
	}
	thumb := imaging.Fit(src, thumbBox, thumbBox, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		p.logger.Warn().Err(err).Msg("assetpipe: thumbnail encode failed, using primary")
		return primaryURL
	}
	key := storage.ObjectKey(ownerID, p.now(), ".jpg")
	url, err := p.store.Put(ctx, key, &buf, int64(buf.Len()), "image/jpeg")
	if err != nil {
		p.logger.Warn().Err(err).Msg("assetpipe: thumbnail store failed, using primary")
		return primaryURL
	}
	return url
}

// fetch downloads an asset with a bounded timeout and payload cap, spooling
// the body into a temporary file so large assets are never held in memory.
// The caller streams from the returned file and releases it with discard.
func (p *Pipeline) fetch(ctx context.Context, rawURL string) (*os.File, int64, string, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, 0, "", errors.New("empty asset url")
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, 0, "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, 0, "", fmt.Errorf("download status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", "mediagen-asset-*")
	if err != nil {
		return nil, 0, "", fmt.Errorf("create temp file: %w", err)
	}

	n, err := io.Copy(tmp, io.LimitReader(resp.Body, p.maxBytes+1))
	if err != nil {
		discard(tmp)
		return nil, 0, "", fmt.Errorf("spool download: %w", err)
	}
	if n > p.maxBytes {
		discard(tmp)
		return nil, 0, "", ErrAssetTooLarge
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		discard(tmp)
		return nil, 0, "", fmt.Errorf("rewind temp file: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = contentType[:idx]
	}
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return tmp, n, contentType, nil
}

// discard closes and removes a spooled temp file.
func discard(f *os.File) {
	f.Close()
	os.Remove(f.Name())
}

func isImage(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(contentType), "image/")
}

func extensionFor(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
