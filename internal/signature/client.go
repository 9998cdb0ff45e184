// Package signature calls the external signing service that produces the
// detached signature embedded in every export archive. The channel is
// mutually authenticated: we present a client certificate and pin the
// service CA.
package signature

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/config"
)

// signRequest is the body sent to the signing service. Input carries the
// base64 of either the raw payload or its SHA-256 digest, depending on
// the prehashed flag.
type signRequest struct {
	Prehashed bool   `json:"prehashed"`
	Input     string `json:"input"`
}

// signResponse is the body returned by the signing service.
type signResponse struct {
	Signature string `json:"signature"`
}

// Client requests signatures over mTLS.
type Client struct {
	httpClient *resty.Client
	keyAlias   string
	prehashed  bool
	logger     *zap.Logger
}

// NewClient builds the signing client from configuration. The configured
// URL may carry an explicit scheme; without one, https is assumed.
func NewClient(cfg *config.Config, logger *zap.Logger) (*Client, error) {
	baseURL := cfg.Signature.ExternalURL
	if !strings.Contains(baseURL, "://") {
		baseURL = "https://" + baseURL
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(cfg.Signature.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	if cfg.Signature.TLSCertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.Signature.TLSCertFile, cfg.Signature.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		httpClient.SetCertificates(cert)
	}
	if cfg.Signature.CAFile != "" {
		httpClient.SetRootCertificate(cfg.Signature.CAFile)
	}

	return &Client{
		httpClient: httpClient,
		keyAlias:   cfg.Export.SignatureKeyAliasName,
		prehashed:  cfg.Signature.SendPrecomputedHash,
		logger:     logger,
	}, nil
}

// Sign returns the signature bytes for the given payload.
func (c *Client) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	input := payload
	if c.prehashed {
		digest := sha256.Sum256(payload)
		input = digest[:]
	}

	requestID := uuid.NewString()
	c.logger.Info("Requesting signature from external service",
		zap.String("request_id", requestID),
		zap.String("key_alias", c.keyAlias),
		zap.Bool("prehashed", c.prehashed),
		zap.Int("payload_size", len(payload)),
	)

	var response signResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", requestID).
		SetBody(signRequest{
			Prehashed: c.prehashed,
			Input:     base64.StdEncoding.EncodeToString(input),
		}).
		SetResult(&response).
		Post("/sign/" + c.keyAlias)
	if err != nil {
		return nil, fmt.Errorf("failed to call signature service: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("signature service returned status %d: %s", resp.StatusCode(), resp.String())
	}

	sig, err := base64.StdEncoding.DecodeString(response.Signature)
	if err != nil {
		return nil, fmt.Errorf("failed to decode signature: %w", err)
	}

	c.logger.Info("Signature received from external service",
		zap.String("request_id", requestID),
		zap.Int("signature_size", len(sig)),
	)
	return sig, nil
}
