package e2e

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"shardd/internal/download"
	"shardd/internal/engine"
	"shardd/internal/httpapi"
	"shardd/internal/model"
	"shardd/internal/tokenizer"
)

const (
	refLayers = 6
	refVocab  = 320
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// writeModels creates a models dir holding one reference model, "ref".
func writeModels(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "ref")
	if err := model.WriteReference(dir, model.Config{HiddenSize: 12, VocabSize: refVocab, NumHiddenLayers: refLayers}, 5); err != nil {
		t.Fatalf("WriteReference: %v", err)
	}
	vocab, err := tokenizer.Train(strings.Repeat("pipelines pass hidden states between nodes ", 12), refVocab)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if err := vocab.WriteHF(dir); err != nil {
		t.Fatalf("WriteHF: %v", err)
	}
	return root
}

// newNode starts an HTTP server over a fresh engine for root.
func newNode(t *testing.T, root string, tweak func(*engine.Config)) (*httptest.Server, *engine.Engine) {
	t.Helper()
	dl, err := download.NewLocal(root)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	cfg := engine.Config{Downloader: dl, Temperature: 1e-6, TopK: 1, Seed: 3}
	if tweak != nil {
		tweak(&cfg)
	}
	eng := engine.NewWithConfig(cfg)
	srv := httptest.NewServer(httpapi.NewMux(eng))
	t.Cleanup(func() {
		srv.Close()
		_ = eng.Close()
	})
	return srv, eng
}

// post sends body to url and decodes a JSON response into out when non-nil.
func post(t *testing.T, ctx context.Context, url, contentType string, body []byte, out any) (int, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.Unmarshal(b, out); err != nil {
			t.Fatalf("decode %s: %v (%s)", url, err, b)
		}
	}
	return resp.StatusCode, b
}

func postJSON(t *testing.T, ctx context.Context, url string, in, out any) (int, []byte) {
	t.Helper()
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return post(t, ctx, url, "application/json", b, out)
}
