package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"ChainPact/internal/cipher"
	xerrors "ChainPact/internal/errors"
	"ChainPact/internal/intent"
	"ChainPact/internal/observability/metrics"
	"ChainPact/internal/registry"
	"ChainPact/internal/security"
)

// Server 负责暴露 REST 接口，供外部驱动协调流程。
type Server struct {
	addr     string
	machine  *intent.Machine
	security *security.Manager
	pipeline *cipher.Pipeline
}

// NewServer 构造 API 服务实例。解密管线复用管理器的授权表。
func NewServer(addr string, machine *intent.Machine, manager *security.Manager) *Server {
	return &Server{
		addr:     addr,
		machine:  machine,
		security: manager,
		pipeline: cipher.NewPipeline(manager),
	}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/intents", metrics.Middleware("intents", s.handleIntents))
	mux.HandleFunc("/api/v1/intents/accept", metrics.Middleware("intents_accept", s.handleAccept))
	mux.HandleFunc("/api/v1/intents/execute", metrics.Middleware("intents_execute", s.handleExecute))
	mux.HandleFunc("/api/v1/intents/cancel", metrics.Middleware("intents_cancel", s.handleCancel))
	mux.HandleFunc("/api/v1/nonces", metrics.Middleware("nonces", s.handleNonce))
	mux.HandleFunc("/api/v1/contexts", metrics.Middleware("contexts", s.handleContexts))
	mux.HandleFunc("/api/v1/contexts/validate", metrics.Middleware("contexts_validate", s.handleValidate))
	mux.HandleFunc("/api/v1/contexts/revoke", metrics.Middleware("contexts_revoke", s.handleRevoke))
	mux.HandleFunc("/api/v1/contexts/upgrade", metrics.Middleware("contexts_upgrade", s.handleUpgrade))
	mux.HandleFunc("/api/v1/keys", metrics.Middleware("keys", s.handleKeys))
	mux.HandleFunc("/api/v1/payloads/seal", metrics.Middleware("payloads_seal", s.handleSeal))
	mux.HandleFunc("/api/v1/payloads/open", metrics.Middleware("payloads_open", s.handleOpen))
	mux.Handle("/metrics", metrics.Handler())

	// 配置 HTTP 服务器。
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 启动服务器并监听关闭信号。
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type proposeRequest struct {
	Intent    *intent.Intent  `json:"intent"`
	Signature hexutil.Bytes   `json:"signature"`
	Payload   *intent.Payload `json:"payload"`
	Proposer  common.Address  `json:"proposer"`
}

// handleIntents 处理提案提交与记录查询。
func (s *Server) handleIntents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req proposeRequest
		if !decodeBody(w, r, &req) {
			return
		}
		record, err := s.machine.Propose(r.Context(), req.Intent, req.Signature, req.Payload, req.Proposer)
		respond(w, record, err)
	case http.MethodGet:
		id, ok := parseHash(w, r.URL.Query().Get("id"))
		if !ok {
			return
		}
		record, err := s.machine.GetRecord(r.Context(), id)
		respond(w, record, err)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

type acceptRequest struct {
	IntentID    common.Hash    `json:"intent_id"`
	Attestation hexutil.Bytes  `json:"attestation"`
	Participant common.Address `json:"participant"`
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	var req acceptRequest
	if !decodeBody(w, r, &req) {
		return
	}
	record, err := s.machine.Accept(r.Context(), req.IntentID, req.Attestation, req.Participant)
	respond(w, record, err)
}

type executeRequest struct {
	IntentID common.Hash    `json:"intent_id"`
	Proof    hexutil.Bytes  `json:"proof"`
	Caller   common.Address `json:"caller"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	var req executeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	record, err := s.machine.Execute(r.Context(), req.IntentID, req.Proof, req.Caller)
	respond(w, record, err)
}

type cancelRequest struct {
	IntentID common.Hash    `json:"intent_id"`
	Caller   common.Address `json:"caller"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	var req cancelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	record, err := s.machine.Cancel(r.Context(), req.IntentID, req.Caller)
	respond(w, record, err)
}

type nonceResponse struct {
	Identity common.Address `json:"identity"`
	Nonce    uint64         `json:"nonce"`
}

func (s *Server) handleNonce(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	raw := r.URL.Query().Get("identity")
	if !common.IsHexAddress(raw) {
		http.Error(w, "identity 参数非法", http.StatusBadRequest)
		return
	}
	identity := common.HexToAddress(raw)
	nonce, err := s.machine.Nonce(r.Context(), identity)
	respond(w, nonceResponse{Identity: identity, Nonce: nonce}, err)
}

type createContextRequest struct {
	IntentID        common.Hash      `json:"intent_id"`
	Tier            string           `json:"tier"`
	Participants    []common.Address `json:"participants"`
	TimelockSeconds int64            `json:"timelock_seconds"`
	Creator         common.Address   `json:"creator"`
}

// handleContexts 处理安全上下文的创建与查询。
func (s *Server) handleContexts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req createContextRequest
		if !decodeBody(w, r, &req) {
			return
		}
		tier, err := security.ParseTier(req.Tier)
		if err != nil {
			http.Error(w, "tier 参数非法", http.StatusBadRequest)
			return
		}
		sc, err := s.security.CreateContext(r.Context(), req.IntentID, tier, req.Participants,
			time.Duration(req.TimelockSeconds)*time.Second, req.Creator)
		respond(w, sc, err)
	case http.MethodGet:
		id, ok := parseHash(w, r.URL.Query().Get("id"))
		if !ok {
			return
		}
		sc, err := s.security.GetContext(r.Context(), id)
		respond(w, sc, err)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

type validateRequest struct {
	IntentID common.Hash   `json:"intent_id"`
	Tier     string        `json:"tier"`
	Proof    hexutil.Bytes `json:"proof"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	var req validateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	tier, err := security.ParseTier(req.Tier)
	if err != nil {
		http.Error(w, "tier 参数非法", http.StatusBadRequest)
		return
	}
	check, err := s.security.ValidateTier(r.Context(), req.IntentID, tier, req.Proof)
	respond(w, check, err)
}

type revokeRequest struct {
	IntentID    common.Hash    `json:"intent_id"`
	Participant common.Address `json:"participant"`
	Caller      common.Address `json:"caller"`
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	var req revokeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	err := s.security.RevokeAccess(r.Context(), req.IntentID, req.Participant, req.Caller)
	respond(w, map[string]string{"result": "revoked"}, err)
}

type upgradeRequest struct {
	IntentID common.Hash    `json:"intent_id"`
	Tier     string         `json:"tier"`
	Caller   common.Address `json:"caller"`
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	var req upgradeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	tier, err := security.ParseTier(req.Tier)
	if err != nil {
		http.Error(w, "tier 参数非法", http.StatusBadRequest)
		return
	}
	sc, err := s.security.UpgradeTier(r.Context(), req.IntentID, tier, req.Caller)
	respond(w, sc, err)
}

type registerKeyRequest struct {
	Identity   common.Address `json:"identity"`
	Commitment common.Hash    `json:"commitment"`
	Caller     common.Address `json:"caller"`
}

type keyResponse struct {
	Identity   common.Address `json:"identity"`
	Commitment hexutil.Bytes  `json:"commitment"`
}

// handleKeys 处理公钥承诺的登记与查询。
func (s *Server) handleKeys(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req registerKeyRequest
		if !decodeBody(w, r, &req) {
			return
		}
		err := s.security.RegisterPublicKey(r.Context(), req.Identity, registry.Commitment(req.Commitment), req.Caller)
		respond(w, map[string]string{"result": "registered"}, err)
	case http.MethodGet:
		raw := r.URL.Query().Get("identity")
		if !common.IsHexAddress(raw) {
			http.Error(w, "identity 参数非法", http.StatusBadRequest)
			return
		}
		identity := common.HexToAddress(raw)
		commitment, err := s.security.GetPublicKey(r.Context(), identity)
		respond(w, keyResponse{Identity: identity, Commitment: commitment.Bytes()}, err)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

type sealRequest struct {
	IntentID  common.Hash   `json:"intent_id"`
	NetworkID uint64        `json:"network_id"`
	Data      hexutil.Bytes `json:"data"`
}

type sealResponse struct {
	Ciphertext  hexutil.Bytes      `json:"ciphertext"`
	KeyMaterial cipher.KeyMaterial `json:"key_material"`
}

// handleSeal 按上下文等级对载荷做分层混淆。等级与参与者集合
// 取自已登记的安全上下文，不信任请求方自述。
func (s *Server) handleSeal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	var req sealRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sc, err := s.security.GetContext(r.Context(), req.IntentID)
	if err != nil {
		respond(w, nil, err)
		return
	}
	ciphertext, km, err := s.pipeline.Encrypt(req.Data, sc.Participants, req.NetworkID, sc.Tier)
	respond(w, sealResponse{Ciphertext: ciphertext, KeyMaterial: km}, err)
}

type openRequest struct {
	IntentID    common.Hash        `json:"intent_id"`
	Ciphertext  hexutil.Bytes      `json:"ciphertext"`
	KeyMaterial cipher.KeyMaterial `json:"key_material"`
	Caller      common.Address     `json:"caller"`
}

type openResponse struct {
	Data hexutil.Bytes `json:"data"`
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	var req openRequest
	if !decodeBody(w, r, &req) {
		return
	}
	data, err := s.pipeline.Decrypt(r.Context(), req.Ciphertext, req.KeyMaterial, req.Caller, req.IntentID)
	respond(w, openResponse{Data: data}, err)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return false
	}
	return true
}

func parseHash(w http.ResponseWriter, raw string) (common.Hash, bool) {
	decoded, err := hexutil.Decode(raw)
	if err != nil || len(decoded) != common.HashLength {
		http.Error(w, "id 参数非法", http.StatusBadRequest)
		return common.Hash{}, false
	}
	return common.BytesToHash(decoded), true
}

type errorResponse struct {
	Code    string `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// respond 统一序列化响应，失败时按错误类别映射 HTTP 状态码。
func respond(w http.ResponseWriter, payload any, err error) {
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(statusOf(err))
		_ = json.NewEncoder(w).Encode(errorResponse{
			Code:    string(xerrors.CodeOf(err)),
			Kind:    string(xerrors.KindOf(err)),
			Message: err.Error(),
		})
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func statusOf(err error) int {
	if e, ok := xerrors.From(err); ok {
		switch e.Code() {
		case xerrors.CodeNotFound, intent.CodeRecordNotFound, security.CodeNoSuchContext, registry.CodeKeyNotFound:
			return http.StatusNotFound
		}
		switch e.Kind() {
		case xerrors.KindValidation, xerrors.KindCrypto:
			return http.StatusBadRequest
		case xerrors.KindAuthorization:
			return http.StatusForbidden
		case xerrors.KindState, xerrors.KindTemporal:
			return http.StatusConflict
		}
	}
	return http.StatusInternalServerError
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
