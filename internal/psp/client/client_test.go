package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smallbiznis/payway/internal/config"
	"github.com/smallbiznis/payway/internal/psp/domain"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestClient(baseURL string) domain.GatewayClient {
	return New(Params{
		Config: config.Config{
			PSPBaseURL: baseURL,
			PSPSecret:  "psp_secret",
		},
		Log: zap.NewNop(),
	})
}

func TestSubmitCapture(t *testing.T) {
	var gotPath, gotSignature string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotSignature = r.Header.Get(SignatureHeader)
		gotBody, _ = io.ReadAll(r.Body)
		json.NewEncoder(w).Encode(domain.Ack{
			PSPReference:        "psp_ref_1",
			EstimatedCompletion: "2026-03-01T11:00:00Z",
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	ack, err := c.SubmitCapture(context.Background(), domain.SubmitRequest{
		OperationID:   "1",
		TransactionID: "2",
		Amount:        "50.00",
		Currency:      "USD",
		CallbackURL:   "https://gateway.example.com/callbacks/psp",
	})
	assert.NoError(t, err)
	assert.Equal(t, "psp_ref_1", ack.PSPReference)
	assert.Equal(t, "/api/payment/process", gotPath)
	assert.Equal(t, Sign("psp_secret", gotBody), gotSignature)

	var sent domain.SubmitRequest
	assert.NoError(t, json.Unmarshal(gotBody, &sent))
	assert.Equal(t, "50.00", sent.Amount)
}

func TestSubmitRefundPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(domain.Ack{PSPReference: "psp_ref_2"})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.SubmitRefund(context.Background(), domain.SubmitRequest{OperationID: "1"})
	assert.NoError(t, err)
	assert.Equal(t, "/api/payment/refund", gotPath)
}

func TestSubmitErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"rejected", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}},
		{"malformed ack", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		}},
		{"missing reference", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"estimated_completion":"later"}`))
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			c := newTestClient(srv.URL)
			_, err := c.SubmitCapture(context.Background(), domain.SubmitRequest{OperationID: "1"})
			assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
		})
	}

	// Unreachable processor.
	c := newTestClient("http://127.0.0.1:1")
	_, err := c.SubmitCapture(context.Background(), domain.SubmitRequest{OperationID: "1"})
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"operation_id":"1"}`)
	sig := Sign("psp_secret", body)

	assert.True(t, VerifySignature("psp_secret", body, sig))
	assert.True(t, VerifySignature("psp_secret", body, " "+sig+"\n"))
	assert.False(t, VerifySignature("psp_secret", body, "deadbeef"))
	assert.False(t, VerifySignature("other_secret", body, sig))
}
