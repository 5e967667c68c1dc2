package client

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/payway/internal/config"
	"github.com/smallbiznis/payway/internal/psp/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-PSP-Signature"

// submitTimeout bounds one submission to the processor.
const submitTimeout = 30 * time.Second

const (
	capturePath = "/api/payment/process"
	refundPath  = "/api/payment/refund"
)

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
}

type Client struct {
	baseURL string
	secret  string
	log     *zap.Logger
	http    *http.Client
}

func New(p Params) domain.GatewayClient {
	return &Client{
		baseURL: strings.TrimRight(p.Config.PSPBaseURL, "/"),
		secret:  p.Config.PSPSecret,
		log:     p.Log.Named("psp.client"),
		http:    &http.Client{Timeout: submitTimeout},
	}
}

func (c *Client) SubmitCapture(ctx context.Context, req domain.SubmitRequest) (domain.Ack, error) {
	return c.submit(ctx, capturePath, req)
}

func (c *Client) SubmitRefund(ctx context.Context, req domain.SubmitRequest) (domain.Ack, error) {
	return c.submit(ctx, refundPath, req)
}

func (c *Client) submit(ctx context.Context, path string, payload domain.SubmitRequest) (domain.Ack, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.Ack{}, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return domain.Ack{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(c.secret, body))

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Error("processor submission failed",
			zap.String("path", path),
			zap.String("operation_id", payload.OperationID),
			zap.Error(err),
		)
		return domain.Ack{}, domain.ErrGatewayUnavailable
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.Ack{}, domain.ErrGatewayUnavailable
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Error("processor rejected submission",
			zap.String("path", path),
			zap.String("operation_id", payload.OperationID),
			zap.Int("status", resp.StatusCode),
		)
		return domain.Ack{}, fmt.Errorf("%w: status %d", domain.ErrGatewayUnavailable, resp.StatusCode)
	}

	var ack domain.Ack
	if err := json.Unmarshal(raw, &ack); err != nil {
		return domain.Ack{}, fmt.Errorf("%w: malformed acknowledgment", domain.ErrGatewayUnavailable)
	}
	if ack.PSPReference == "" {
		return domain.Ack{}, fmt.Errorf("%w: missing psp_reference", domain.ErrGatewayUnavailable)
	}

	return ack, nil
}

// Sign computes the hex HMAC-SHA256 the processor protocol uses on both
// submissions and callbacks.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a callback signature in constant time.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature)))
}
