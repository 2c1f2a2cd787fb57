package facilitator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestVerify_AffirmativeShapes(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"verified true", `{"verified":true}`},
		{"valid true", `{"valid":true}`},
		{"status success", `{"status":"success"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := NewHTTPClient(srv.URL, "")
			verified, err := c.Verify(context.Background(), VerifyRequest{PaymentID: "p1"})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !verified {
				t.Fatalf("expected verified=true for body %s", tc.body)
			}
		})
	}
}

func TestVerify_AmbiguousBodyIsNotAffirmative(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"verified":false,"valid":false,"status":"pending"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	verified, err := c.Verify(context.Background(), VerifyRequest{PaymentID: "p1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verified {
		t.Fatal("expected verified=false for ambiguous body")
	}
}

func TestVerify_NonOKStatusIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	_, err := c.Verify(context.Background(), VerifyRequest{PaymentID: "p1"})
	if err == nil {
		t.Fatal("expected an error for non-200 response")
	}
}

func TestSettle_EmptyURLIsNoOp(t *testing.T) {
	c := NewHTTPClient("", "")
	if err := c.Settle(context.Background(), SettleRequest{PaymentID: "p1"}); err != nil {
		t.Fatalf("expected nil error when settle url unconfigured, got %v", err)
	}
}

func TestSettle_NonSuccessStatusIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHTTPClient("", srv.URL)
	if err := c.Settle(context.Background(), SettleRequest{PaymentID: "p1"}); err == nil {
		t.Fatal("expected an error for non-success settle response")
	}
}
