package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"ChainPact/sdk/go/chainpact"
)

func main() {
	const intentID = "0x7777777777777777777777777777777777777777777777777777777777777777"

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/intents", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			_ = json.NewEncoder(w).Encode(chainpact.Record{
				IntentID:  intentID,
				Status:    "proposed",
				CreatedAt: time.Now().UTC(),
			})
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(chainpact.Record{
				IntentID: intentID,
				Status:   "ready",
			})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/contexts/validate", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chainpact.TierCheck{OK: true, Reason: "ok"})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := chainpact.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	record, err := client.Propose(ctx, chainpact.Intent{
		Nonce:            1,
		NetworkID:        1,
		Proposer:         "0x0000000000000000000000000000000000000001",
		CoordinationType: "swap",
		Tier:             1,
		Participants:     []string{"0x0000000000000000000000000000000000000002"},
		MaxFeeBudget:     json.Number("1000000000"),
		EstimatedValue:   json.Number("0"),
	}, "0xsignature", chainpact.Payload{Version: "1", CoordinationType: "swap"}, "0x0000000000000000000000000000000000000001")
	if err != nil {
		panic(err)
	}
	fmt.Printf("proposed intent %s (%s)\n", record.IntentID, record.Status)

	check, err := client.ValidateTier(ctx, record.IntentID, "standard", "0x")
	if err != nil {
		panic(err)
	}
	fmt.Printf("tier check: ok=%v reason=%s\n", check.OK, check.Reason)

	latest, err := client.GetRecord(ctx, record.IntentID)
	if err != nil {
		panic(err)
	}
	fmt.Printf("record status: %s\n", latest.Status)
}
