package paypal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func newTestServer(t *testing.T, status string, planID string, tokenCalls *int32) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(tokenCalls, 1)

		user, pass, ok := r.BasicAuth()
		if !ok || user != "client-id" || pass != "client-secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.FormValue("grant_type") != "client_credentials" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "token-abc",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/v1/billing/subscriptions/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token-abc" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		id := r.URL.Path[len("/v1/billing/subscriptions/"):]
		if id == "I-MISSING" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		json.NewEncoder(w).Encode(Subscription{ID: id, Status: status, PlanID: planID})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestClient_VerifySubscription_Active(t *testing.T) {
	var tokenCalls int32
	server := newTestServer(t, StatusActive, "P-PLAN", &tokenCalls)
	client := NewClient(server.URL, "client-id", "client-secret", "P-PLAN")

	sub, err := client.VerifySubscription(context.Background(), "I-SUB123")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if sub.ID != "I-SUB123" || sub.Status != StatusActive {
		t.Errorf("Expected active I-SUB123, got %+v", sub)
	}

	// Token should be cached for the second call
	if _, err := client.VerifySubscription(context.Background(), "I-SUB456"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if calls := atomic.LoadInt32(&tokenCalls); calls != 1 {
		t.Errorf("Expected 1 token request, got %d", calls)
	}
}

func TestClient_VerifySubscription_Inactive(t *testing.T) {
	var tokenCalls int32
	server := newTestServer(t, "CANCELLED", "P-PLAN", &tokenCalls)
	client := NewClient(server.URL, "client-id", "client-secret", "")

	_, err := client.VerifySubscription(context.Background(), "I-SUB123")
	if !errors.Is(err, ErrSubscriptionInactive) {
		t.Errorf("Expected ErrSubscriptionInactive, got %v", err)
	}
}

func TestClient_VerifySubscription_WrongPlan(t *testing.T) {
	var tokenCalls int32
	server := newTestServer(t, StatusActive, "P-OTHER", &tokenCalls)
	client := NewClient(server.URL, "client-id", "client-secret", "P-PLAN")

	_, err := client.VerifySubscription(context.Background(), "I-SUB123")
	if !errors.Is(err, ErrSubscriptionInactive) {
		t.Errorf("Expected ErrSubscriptionInactive, got %v", err)
	}
}

func TestClient_VerifySubscription_NotFound(t *testing.T) {
	var tokenCalls int32
	server := newTestServer(t, StatusActive, "", &tokenCalls)
	client := NewClient(server.URL, "client-id", "client-secret", "")

	_, err := client.VerifySubscription(context.Background(), "I-MISSING")
	if !errors.Is(err, ErrSubscriptionNotFound) {
		t.Errorf("Expected ErrSubscriptionNotFound, got %v", err)
	}
}

func TestClient_VerifySubscription_BadCredentials(t *testing.T) {
	var tokenCalls int32
	server := newTestServer(t, StatusActive, "", &tokenCalls)
	client := NewClient(server.URL, "client-id", "wrong", "")

	if _, err := client.VerifySubscription(context.Background(), "I-SUB123"); err == nil {
		t.Error("Expected error for rejected credentials")
	}
}

func TestTrustingVerifier(t *testing.T) {
	sub, err := TrustingVerifier{}.VerifySubscription(context.Background(), "I-ANY")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if sub.Status != StatusActive {
		t.Errorf("Expected ACTIVE, got %s", sub.Status)
	}
}

func TestBaseURLForEnv(t *testing.T) {
	if got := BaseURLForEnv("sandbox"); got != SandboxBaseURL {
		t.Errorf("Expected sandbox URL, got %s", got)
	}
	if got := BaseURLForEnv("LIVE"); got != LiveBaseURL {
		t.Errorf("Expected live URL, got %s", got)
	}
}
