package api

import (
	"context"
	"net/http"
	"testing"
)

func TestBearerAuthToken(t *testing.T) {
	ctx := context.Background()

	srv, _ := newTestServer(t, WithBearerToken("secret"))

	t.Run("missing", func(t *testing.T) {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/health", nil)
		resp, err := (&http.Client{}).Do(req)
		if err != nil {
			t.Fatalf("GET /v1/health: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", resp.StatusCode)
		}
	})

	t.Run("wrong", func(t *testing.T) {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/health", nil)
		req.Header.Set("Authorization", "Bearer nope")
		resp, err := (&http.Client{}).Do(req)
		if err != nil {
			t.Fatalf("GET /v1/health: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", resp.StatusCode)
		}
	})

	t.Run("ok", func(t *testing.T) {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/health", nil)
		req.Header.Set("Authorization", "Bearer secret")
		resp, err := (&http.Client{}).Do(req)
		if err != nil {
			t.Fatalf("GET /v1/health: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
	})
}
