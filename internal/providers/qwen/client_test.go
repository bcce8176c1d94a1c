package qwen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestGenerateImageDownloadsResult(t *testing.T) {
	imgData := pngBytes(t, 8, 6)

	mux := http.NewServeMux()
	var gotAuth string
	var gotPayload generationRequest
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/services/aigc/multimodal-generation/generation", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		resp := map[string]any{
			"output": map[string]any{
				"choices": []map[string]any{{
					"message": map[string]any{
						"content": []map[string]any{{"image": srv.URL + "/result.png"}},
					},
				}},
			},
			"usage":      map[string]any{"width": 8, "height": 6},
			"request_id": "req-1",
		}
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/result.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(imgData)
	})

	client, err := NewClient(Options{APIKey: "sk-test", BaseURL: srv.URL, Model: "qwen-image-plus"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	seed := 42
	asset, err := client.GenerateImage(context.Background(), ImageRequest{
		Prompt:         "a red square",
		NegativePrompt: "blurry",
		Size:           "1328*1328",
		Seed:           &seed,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("authorization = %q, want bearer key", gotAuth)
	}
	if gotPayload.Parameters.Size != "1328*1328" {
		t.Fatalf("size = %q, want 1328*1328", gotPayload.Parameters.Size)
	}
	if gotPayload.Parameters.NegativePrompt != "blurry" {
		t.Fatalf("negative prompt = %q, want blurry", gotPayload.Parameters.NegativePrompt)
	}
	if gotPayload.Parameters.Seed == nil || *gotPayload.Parameters.Seed != 42 {
		t.Fatalf("seed not propagated: %v", gotPayload.Parameters.Seed)
	}
	if !bytes.Equal(asset.Data, imgData) {
		t.Fatalf("downloaded bytes mismatch")
	}
	if asset.Format != "image/png" {
		t.Fatalf("format = %q, want image/png", asset.Format)
	}
	if asset.Width != 8 || asset.Height != 6 {
		t.Fatalf("dimensions = %dx%d, want 8x6", asset.Width, asset.Height)
	}
}

func TestGenerateImageSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"code":    "DataInspectionFailed",
			"message": "Output data may contain inappropriate content.",
		})
	}))
	defer srv.Close()

	client, err := NewClient(Options{APIKey: "sk-test", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.GenerateImage(context.Background(), ImageRequest{Prompt: "nope"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if apiErr.Code != "DataInspectionFailed" {
		t.Fatalf("code = %q, want DataInspectionFailed", apiErr.Code)
	}
	if apiErr.HTTPStatus != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", apiErr.HTTPStatus)
	}
}

func TestGenerateImageRequiresCredentials(t *testing.T) {
	client, err := NewClient(Options{})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.GenerateImage(context.Background(), ImageRequest{Prompt: "x"}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("err = %v, want missing api key", err)
	}
}

func TestGenerateImageRequiresPrompt(t *testing.T) {
	client, err := NewClient(Options{APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.GenerateImage(context.Background(), ImageRequest{Prompt: "   "}); err == nil {
		t.Fatalf("expected error for blank prompt")
	}
}
