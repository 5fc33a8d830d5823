package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestGatewayClient_Send_Success(t *testing.T) {
	t.Parallel()

	var method, contentType string
	var body []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		contentType = r.Header.Get("Content-Type")
		body, _ = io.ReadAll(r.Body)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"message":"Accepted","messageId":"abc-123"}`))
	}))
	defer srv.Close()

	c := NewGatewayClient(srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msgID, err := c.Send(ctx, "+361234567", "hello", "inst-1/2")
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if msgID != "abc-123" {
		t.Fatalf("expected messageId %q, got %q", "abc-123", msgID)
	}
	if method != http.MethodPost {
		t.Fatalf("expected method POST, got %q", method)
	}
	if contentType != "application/json" {
		t.Fatalf("expected Content-Type application/json, got %q", contentType)
	}

	var req sendRequest
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatalf("failed to decode request json: %v body=%q", err, string(body))
	}
	if req.PhoneNumber != "+361234567" || req.Message != "hello" || req.Reference != "inst-1/2" {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestGatewayClient_Send_Non202_ReturnsStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("not accepted"))
	}))
	defer srv.Close()

	_, err := NewGatewayClient(srv.URL).Send(context.Background(), "+361", "hi", "")
	if err == nil {
		t.Fatalf("expected error, got nil")
	}

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StatusError, got %T", err)
	}
	if se.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", se.StatusCode)
	}
	if !strings.Contains(err.Error(), `body="not accepted"`) {
		t.Fatalf("expected error to include body, got: %v", err)
	}
}

func TestGatewayClient_Send_BadResponses(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", "THIS IS NOT JSON", "failed to decode json"},
		{"missing message id", `{"message":"Accepted"}`, "missing messageId"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusAccepted)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewGatewayClient(srv.URL).Send(context.Background(), "+361", "hi", "")
			if err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in error, got: %v", tc.want, err)
			}
		})
	}
}

func TestGatewayClient_Send_ContextCanceled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"message":"Accepted","messageId":"abc"}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewGatewayClient(srv.URL).Send(ctx, "+361", "hi", "")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got: %v", err)
	}
}
