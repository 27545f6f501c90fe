package chainpact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the ChainPact REST API.
//
// Addresses and hashes travel as 0x-prefixed hex strings, signatures and
// proofs as 0x-prefixed hex byte strings, matching the server encoding.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Intent mirrors the coordination intent accepted by the propose endpoint.
type Intent struct {
	PayloadHash      string      `json:"payload_hash"`
	Expiry           uint64      `json:"expiry"`
	Nonce            uint64      `json:"nonce"`
	NetworkID        uint64      `json:"network_id"`
	Proposer         string      `json:"proposer"`
	CoordinationType string      `json:"coordination_type"`
	MaxFeeBudget     json.Number `json:"max_fee_budget,omitempty"`
	Priority         uint8       `json:"priority"`
	DependsOn        *string     `json:"depends_on,omitempty"`
	Tier             uint8       `json:"tier"`
	Participants     []string    `json:"participants"`
	EstimatedValue   json.Number `json:"estimated_value,omitempty"`
}

// Payload mirrors the intent payload revealed at proposal time.
type Payload struct {
	Version          string            `json:"version"`
	CoordinationType string            `json:"coordination_type"`
	Data             []byte            `json:"data"`
	ConditionsHash   string            `json:"conditions_hash"`
	Timestamp        int64             `json:"timestamp"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// Record is the server-side view of a coordination record.
type Record struct {
	IntentID     string     `json:"intent_id"`
	Status       string     `json:"status"`
	Proposer     string     `json:"proposer"`
	Tier         uint8      `json:"tier"`
	Participants []string   `json:"participants"`
	AcceptedBy   []string   `json:"accepted_by"`
	CreatedAt    time.Time  `json:"created_at"`
	Expiry       time.Time  `json:"expiry"`
	InFlight     bool       `json:"in_flight"`
}

// SecurityContext is the server-side view of a tiered security context.
type SecurityContext struct {
	IntentID     string        `json:"intent_id"`
	Tier         uint8         `json:"tier"`
	Timelock     time.Duration `json:"timelock"`
	CreatedAt    time.Time     `json:"created_at"`
	Creator      string        `json:"creator"`
	Participants []string      `json:"participants"`
}

// TierCheck reports the advisory outcome of a tier validation.
type TierCheck struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason"`
}

// NonceInfo reports the last consumed nonce for an identity.
type NonceInfo struct {
	Identity string `json:"identity"`
	Nonce    uint64 `json:"nonce"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Kind       string `json:"kind"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("chainpact api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("chainpact api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the ChainPact API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Propose submits a signed intent together with its revealed payload.
func (c *Client) Propose(ctx context.Context, in Intent, signature string, payload Payload, proposer string) (Record, error) {
	req := struct {
		Intent    Intent  `json:"intent"`
		Signature string  `json:"signature"`
		Payload   Payload `json:"payload"`
		Proposer  string  `json:"proposer"`
	}{Intent: in, Signature: signature, Payload: payload, Proposer: proposer}
	var record Record
	if err := c.post(ctx, "/api/v1/intents", req, &record); err != nil {
		return Record{}, err
	}
	return record, nil
}

// Accept records a participant's signed acceptance of an intent.
func (c *Client) Accept(ctx context.Context, intentID, attestation, participant string) (Record, error) {
	req := struct {
		IntentID    string `json:"intent_id"`
		Attestation string `json:"attestation"`
		Participant string `json:"participant"`
	}{IntentID: intentID, Attestation: attestation, Participant: participant}
	var record Record
	if err := c.post(ctx, "/api/v1/intents/accept", req, &record); err != nil {
		return Record{}, err
	}
	return record, nil
}

// Execute attempts to finalise a ready intent with the supplied tier proof.
func (c *Client) Execute(ctx context.Context, intentID, proof, caller string) (Record, error) {
	req := struct {
		IntentID string `json:"intent_id"`
		Proof    string `json:"proof"`
		Caller   string `json:"caller"`
	}{IntentID: intentID, Proof: proof, Caller: caller}
	var record Record
	if err := c.post(ctx, "/api/v1/intents/execute", req, &record); err != nil {
		return Record{}, err
	}
	return record, nil
}

// Cancel withdraws a non-terminal intent. Only the proposer may cancel.
func (c *Client) Cancel(ctx context.Context, intentID, caller string) (Record, error) {
	req := struct {
		IntentID string `json:"intent_id"`
		Caller   string `json:"caller"`
	}{IntentID: intentID, Caller: caller}
	var record Record
	if err := c.post(ctx, "/api/v1/intents/cancel", req, &record); err != nil {
		return Record{}, err
	}
	return record, nil
}

// GetRecord fetches a coordination record by intent identifier.
func (c *Client) GetRecord(ctx context.Context, intentID string) (Record, error) {
	var record Record
	endpoint := fmt.Sprintf("/api/v1/intents?id=%s", url.QueryEscape(intentID))
	if err := c.get(ctx, endpoint, &record); err != nil {
		return Record{}, err
	}
	return record, nil
}

// Nonce returns the last consumed proposal nonce for an identity.
func (c *Client) Nonce(ctx context.Context, identity string) (NonceInfo, error) {
	var info NonceInfo
	endpoint := fmt.Sprintf("/api/v1/nonces?identity=%s", url.QueryEscape(identity))
	if err := c.get(ctx, endpoint, &info); err != nil {
		return NonceInfo{}, err
	}
	return info, nil
}

// CreateContext establishes a tiered security context for an intent.
func (c *Client) CreateContext(ctx context.Context, intentID, tier string, participants []string, timelockSeconds int64, creator string) (SecurityContext, error) {
	req := struct {
		IntentID        string   `json:"intent_id"`
		Tier            string   `json:"tier"`
		Participants    []string `json:"participants"`
		TimelockSeconds int64    `json:"timelock_seconds"`
		Creator         string   `json:"creator"`
	}{IntentID: intentID, Tier: tier, Participants: participants, TimelockSeconds: timelockSeconds, Creator: creator}
	var sc SecurityContext
	if err := c.post(ctx, "/api/v1/contexts", req, &sc); err != nil {
		return SecurityContext{}, err
	}
	return sc, nil
}

// GetContext fetches a security context by intent identifier.
func (c *Client) GetContext(ctx context.Context, intentID string) (SecurityContext, error) {
	var sc SecurityContext
	endpoint := fmt.Sprintf("/api/v1/contexts?id=%s", url.QueryEscape(intentID))
	if err := c.get(ctx, endpoint, &sc); err != nil {
		return SecurityContext{}, err
	}
	return sc, nil
}

// ValidateTier checks whether an operation at the claimed tier would be admitted.
func (c *Client) ValidateTier(ctx context.Context, intentID, tier, proof string) (TierCheck, error) {
	req := struct {
		IntentID string `json:"intent_id"`
		Tier     string `json:"tier"`
		Proof    string `json:"proof"`
	}{IntentID: intentID, Tier: tier, Proof: proof}
	var check TierCheck
	if err := c.post(ctx, "/api/v1/contexts/validate", req, &check); err != nil {
		return TierCheck{}, err
	}
	return check, nil
}

// RevokeAccess permanently removes a participant from a context.
func (c *Client) RevokeAccess(ctx context.Context, intentID, participant, caller string) error {
	req := struct {
		IntentID    string `json:"intent_id"`
		Participant string `json:"participant"`
		Caller      string `json:"caller"`
	}{IntentID: intentID, Participant: participant, Caller: caller}
	return c.post(ctx, "/api/v1/contexts/revoke", req, nil)
}

// UpgradeTier raises the security tier of an existing context.
func (c *Client) UpgradeTier(ctx context.Context, intentID, tier, caller string) (SecurityContext, error) {
	req := struct {
		IntentID string `json:"intent_id"`
		Tier     string `json:"tier"`
		Caller   string `json:"caller"`
	}{IntentID: intentID, Tier: tier, Caller: caller}
	var sc SecurityContext
	if err := c.post(ctx, "/api/v1/contexts/upgrade", req, &sc); err != nil {
		return SecurityContext{}, err
	}
	return sc, nil
}

// RegisterKey publishes a public key commitment for an identity.
func (c *Client) RegisterKey(ctx context.Context, identity, commitment, caller string) error {
	req := struct {
		Identity   string `json:"identity"`
		Commitment string `json:"commitment"`
		Caller     string `json:"caller"`
	}{Identity: identity, Commitment: commitment, Caller: caller}
	return c.post(ctx, "/api/v1/keys", req, nil)
}

// GetKey fetches the registered key commitment for an identity.
func (c *Client) GetKey(ctx context.Context, identity string) (string, error) {
	var resp struct {
		Identity   string `json:"identity"`
		Commitment string `json:"commitment"`
	}
	endpoint := fmt.Sprintf("/api/v1/keys?identity=%s", url.QueryEscape(identity))
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return "", err
	}
	return resp.Commitment, nil
}

// KeyMaterial carries the derived keys needed to reverse a sealed payload.
// Byte fields are base64 as emitted by the server.
type KeyMaterial struct {
	Tier           int    `json:"tier"`
	NetworkID      uint64 `json:"network_id"`
	MasterKey      []byte `json:"master_key,omitempty"`
	ParticipantKey []byte `json:"participant_key,omitempty"`
}

// SealedPayload is the result of sealing data under a security context.
type SealedPayload struct {
	Ciphertext  string      `json:"ciphertext"`
	KeyMaterial KeyMaterial `json:"key_material"`
}

// SealPayload obfuscates data under the tier and participant set of the
// registered security context.
func (c *Client) SealPayload(ctx context.Context, intentID string, networkID uint64, data string) (SealedPayload, error) {
	req := struct {
		IntentID  string `json:"intent_id"`
		NetworkID uint64 `json:"network_id"`
		Data      string `json:"data"`
	}{IntentID: intentID, NetworkID: networkID, Data: data}
	var sealed SealedPayload
	if err := c.post(ctx, "/api/v1/payloads/seal", req, &sealed); err != nil {
		return SealedPayload{}, err
	}
	return sealed, nil
}

// OpenPayload reverses a sealed payload. The caller must hold an active
// access grant for the intent.
func (c *Client) OpenPayload(ctx context.Context, intentID, ciphertext string, km KeyMaterial, caller string) (string, error) {
	req := struct {
		IntentID    string      `json:"intent_id"`
		Ciphertext  string      `json:"ciphertext"`
		KeyMaterial KeyMaterial `json:"key_material"`
		Caller      string      `json:"caller"`
	}{IntentID: intentID, Ciphertext: ciphertext, KeyMaterial: km, Caller: caller}
	var resp struct {
		Data string `json:"data"`
	}
	if err := c.post(ctx, "/api/v1/payloads/open", req, &resp); err != nil {
		return "", err
	}
	return resp.Data, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
