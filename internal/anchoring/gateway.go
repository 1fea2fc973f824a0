package anchoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"go.uber.org/zap"
)

// AnchorClient submits a content digest to a distributed ledger and
// returns the resulting transaction reference.
type AnchorClient interface {
	Submit(ctx context.Context, digestHex string) (string, error)
	Network() string
}

// GatewayConfig holds configuration for the ledger gateway client.
type GatewayConfig struct {
	// Endpoint is the base URL of the anchoring gateway.
	Endpoint string
	// APIKey authenticates against the gateway.
	APIKey string
	// Network is the target ledger network identifier.
	Network string
	// RequestTimeout bounds a single submission round trip.
	RequestTimeout time.Duration
}

// DefaultGatewayConfig returns defaults for the development gateway.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Endpoint:       "http://localhost:8545",
		Network:        "sepolia",
		RequestTimeout: 10 * time.Second,
	}
}

// Gateway is an AnchorClient backed by an HTTP anchoring gateway. The
// ledger is treated as an opaque write-append service: one POST of the
// digest, one transaction hash back.
type Gateway struct {
	config GatewayConfig
	http   *http.Client
	logger *zap.Logger
}

// NewGateway creates a gateway client.
func NewGateway(cfg GatewayConfig, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultGatewayConfig().RequestTimeout
	}
	return &Gateway{
		config: cfg,
		http:   &http.Client{Timeout: cfg.RequestTimeout},
		logger: logger,
	}
}

var _ AnchorClient = (*Gateway)(nil)

var digestPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

type submitRequest struct {
	Digest  string `json:"digest"`
	Network string `json:"network"`
}

type submitResponse struct {
	TxHash string `json:"txHash"`
}

// Submit posts the digest to the gateway. Failures are classified, never
// swallowed: transport errors are KindNetwork, HTTP 429 is KindRateLimit,
// anything else non-2xx is KindProvider.
func (g *Gateway) Submit(ctx context.Context, digestHex string) (string, error) {
	if !digestPattern.MatchString(digestHex) {
		return "", &SubmitError{Kind: KindProvider, Message: fmt.Sprintf("malformed digest %q", digestHex)}
	}

	body, err := json.Marshal(submitRequest{Digest: digestHex, Network: g.config.Network})
	if err != nil {
		return "", &SubmitError{Kind: KindProvider, Message: "encode request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.Endpoint+"/v1/anchors", bytes.NewReader(body))
	if err != nil {
		return "", &SubmitError{Kind: KindProvider, Message: "build request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if g.config.APIKey != "" {
		req.Header.Set("X-API-Key", g.config.APIKey)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return "", &SubmitError{Kind: KindNetwork, Message: "submission transport failed", Cause: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &SubmitError{Kind: KindRateLimit, StatusCode: resp.StatusCode, Message: "gateway rate limit"}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", &SubmitError{
			Kind:       KindProvider,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("gateway returned %s", resp.Status),
		}
	}

	var result submitResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&result); err != nil {
		return "", &SubmitError{Kind: KindProvider, StatusCode: resp.StatusCode, Message: "decode response", Cause: err}
	}
	if result.TxHash == "" {
		return "", &SubmitError{Kind: KindProvider, StatusCode: resp.StatusCode, Message: "gateway returned no transaction hash"}
	}

	g.logger.Debug("digest anchored",
		zap.String("network", g.config.Network),
		zap.String("tx_hash", result.TxHash))

	return result.TxHash, nil
}

// Network returns the target ledger network identifier.
func (g *Gateway) Network() string {
	return g.config.Network
}
