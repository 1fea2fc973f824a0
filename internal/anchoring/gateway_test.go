package anchoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) (*Gateway, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := DefaultGatewayConfig()
	cfg.Endpoint = server.URL
	cfg.APIKey = "test-key"
	return NewGateway(cfg, nil), server
}

func TestGatewaySubmit(t *testing.T) {
	var captured submitRequest
	gateway, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/anchors" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-API-Key") != "test-key" {
			t.Errorf("missing api key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(submitResponse{TxHash: "tx-abc123"})
	})

	txHash, err := gateway.Submit(context.Background(), testDigest)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if txHash != "tx-abc123" {
		t.Errorf("expected tx-abc123, got %s", txHash)
	}
	if captured.Digest != testDigest {
		t.Errorf("expected digest %s, got %s", testDigest, captured.Digest)
	}
	if captured.Network != "sepolia" {
		t.Errorf("expected network sepolia, got %s", captured.Network)
	}
}

func TestGatewayRateLimit(t *testing.T) {
	gateway, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := gateway.Submit(context.Background(), testDigest)

	var se *SubmitError
	if !errors.As(err, &se) {
		t.Fatalf("expected SubmitError, got %v", err)
	}
	if se.Kind != KindRateLimit {
		t.Errorf("expected kind %s, got %s", KindRateLimit, se.Kind)
	}
	if se.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", se.StatusCode)
	}
}

func TestGatewayProviderError(t *testing.T) {
	gateway, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := gateway.Submit(context.Background(), testDigest)

	var se *SubmitError
	if !errors.As(err, &se) || se.Kind != KindProvider {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestGatewayTransportError(t *testing.T) {
	cfg := DefaultGatewayConfig()
	// nothing listens here
	cfg.Endpoint = "http://127.0.0.1:1"
	gateway := NewGateway(cfg, nil)

	_, err := gateway.Submit(context.Background(), testDigest)

	var se *SubmitError
	if !errors.As(err, &se) || se.Kind != KindNetwork {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestGatewayEmptyTxHash(t *testing.T) {
	gateway, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(submitResponse{})
	})

	_, err := gateway.Submit(context.Background(), testDigest)

	var se *SubmitError
	if !errors.As(err, &se) || se.Kind != KindProvider {
		t.Fatalf("expected provider error for empty tx hash, got %v", err)
	}
}

func TestGatewayRejectsMalformedDigest(t *testing.T) {
	gateway, server := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("gateway must not be called with a malformed digest")
	})
	_ = server

	for _, digest := range []string{"", "not-a-digest", "ABCDEF", testDigest + "00"} {
		if _, err := gateway.Submit(context.Background(), digest); err == nil {
			t.Errorf("expected error for digest %q", digest)
		}
	}
}
