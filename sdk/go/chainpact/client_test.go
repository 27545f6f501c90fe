package chainpact

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestProposeDecodesRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/intents" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		var req struct {
			Intent    Intent  `json:"intent"`
			Signature string  `json:"signature"`
			Payload   Payload `json:"payload"`
			Proposer  string  `json:"proposer"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("unexpected body: %v", err)
		}
		if req.Intent.Nonce != 1 {
			t.Fatalf("unexpected nonce: %d", req.Intent.Nonce)
		}
		_ = json.NewEncoder(w).Encode(Record{
			IntentID: "0x1111111111111111111111111111111111111111111111111111111111111111",
			Status:   "proposed",
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	record, err := client.Propose(context.Background(), Intent{Nonce: 1}, "0xdead", Payload{}, "0x0000000000000000000000000000000000000001")
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if record.Status != "proposed" {
		t.Fatalf("unexpected status: %s", record.Status)
	}
}

func TestGetRecordUsesQueryParameter(t *testing.T) {
	const id = "0x2222222222222222222222222222222222222222222222222222222222222222"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/intents" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("id"); got != id {
			t.Fatalf("unexpected id: %s", got)
		}
		_ = json.NewEncoder(w).Encode(Record{IntentID: id, Status: "ready"})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	record, err := client.GetRecord(context.Background(), id)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if record.Status != "ready" {
		t.Fatalf("unexpected status: %s", record.Status)
	}
}

func TestValidateTierDecodesCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/contexts/validate" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(TierCheck{OK: false, Reason: "timelock_not_satisfied"})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	check, err := client.ValidateTier(context.Background(), "0x33", "enhanced", "0x")
	if err != nil {
		t.Fatalf("validate tier: %v", err)
	}
	if check.OK {
		t.Fatal("expected check to fail")
	}
	if check.Reason != "timelock_not_satisfied" {
		t.Fatalf("unexpected reason: %s", check.Reason)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(APIError{Code: "INTENT_DUPLICATE", Kind: "state", Message: "already proposed"})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.Accept(context.Background(), "0x44", "0xsig", "0x0000000000000000000000000000000000000002")
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusConflict {
		t.Fatalf("unexpected status: %d", apiErr.StatusCode)
	}
	if apiErr.Code != "INTENT_DUPLICATE" {
		t.Fatalf("unexpected error code: %s", apiErr.Code)
	}
}
