package intent

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "ChainPact/internal/errors"
	"ChainPact/internal/events"
	"ChainPact/internal/security"
	"ChainPact/pkg/logger"
)

// SecurityGate 定义状态机所需的安全上下文管理器能力。
type SecurityGate interface {
	ValidateTier(ctx context.Context, intentID common.Hash, claimed security.Tier, proof []byte) (security.TierCheck, error)
	IsAuthorized(intentID common.Hash, identity common.Address) bool
}

// AcceptanceRule 决定多少接受才能让记录进入 Ready。
type AcceptanceRule int

const (
	// AcceptAny 表示至少一个参与者接受即可。
	AcceptAny AcceptanceRule = iota
	// AcceptAll 表示全部声明的参与者都必须接受。
	AcceptAll
)

// Machine 是协调状态机：管理提案、多方接受与执行，并持有 nonce 表。
type Machine struct {
	store      Store
	gate       SecurityGate
	rule       AcceptanceRule
	dispatcher events.Dispatcher
	now        func() time.Time
	log        *slog.Logger
}

// MachineOption 定义可选配置。
type MachineOption func(*Machine)

// WithAcceptanceRule 配置进入 Ready 的接受规则。
func WithAcceptanceRule(rule AcceptanceRule) MachineOption {
	return func(m *Machine) {
		m.rule = rule
	}
}

// WithDispatcher 配置事件派发器。
func WithDispatcher(dispatcher events.Dispatcher) MachineOption {
	return func(m *Machine) {
		m.dispatcher = dispatcher
	}
}

// WithClock 覆盖时间源，供过期相关测试使用。
func WithClock(now func() time.Time) MachineOption {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMachine 构造协调状态机。
func NewMachine(store Store, gate SecurityGate, opts ...MachineOption) *Machine {
	m := &Machine{
		store: store,
		gate:  gate,
		rule:  AcceptAny,
		now:   time.Now,
		log:   logger.Named("intent"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Propose 校验签名、nonce、有效期与载荷绑定，然后落库为 Proposed。
// nonce 必须恰好等于上一个已用值加一：不允许跳号，不允许复用。
func (m *Machine) Propose(ctx context.Context, in *Intent, signature []byte, payload *Payload, proposer common.Address) (*Record, error) {
	if m.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "协调状态机未初始化")
	}
	if in == nil || payload == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "intent 与 payload 不能为空")
	}
	if proposer != in.Proposer || !in.VerifySignature(signature, proposer) {
		return nil, ErrInvalidSignature
	}

	last, err := m.store.Nonce(ctx, proposer)
	if err != nil {
		return nil, err
	}
	if in.Nonce != last+1 {
		return nil, xerrors.Wrap(CodeNonceMismatch, ErrNonceMismatch, "",
			xerrors.WithMetadata("expected", formatUint(last+1)),
			xerrors.WithMetadata("got", formatUint(in.Nonce)))
	}
	if !m.now().Before(in.ExpiresAt()) {
		return nil, ErrIntentExpired
	}
	if payload.Hash() != in.PayloadHash {
		return nil, ErrPayloadMismatch
	}

	record := &Record{
		IntentID:     in.Hash(),
		Status:       StatusProposed,
		Proposer:     proposer,
		Tier:         in.Tier,
		Participants: append([]common.Address(nil), in.Participants...),
		AcceptedBy:   []common.Address{},
		CreatedAt:    m.now(),
		Expiry:       in.ExpiresAt(),
	}
	if err := m.store.Propose(ctx, record, in.Nonce); err != nil {
		return nil, err
	}

	m.emit(ctx, events.New(events.KindIntentProposed, record.IntentID.Hex(), proposer.Hex()).
		WithMetadata("tier", in.Tier.String()).
		WithMetadata("coordination_type", in.CoordinationType))
	m.log.Info("intent 已提案",
		slog.String("intent_id", record.IntentID.Hex()),
		slog.String("proposer", proposer.Hex()),
		slog.Uint64("nonce", in.Nonce))
	return record.clone(), nil
}

// Accept 记录参与者的接受声明。重复接受是无操作而非错误。
// 满足接受规则后记录进入 Ready。
func (m *Machine) Accept(ctx context.Context, intentID common.Hash, attestation []byte, participant common.Address) (*Record, error) {
	record, err := m.liveRecord(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if m.gate == nil || !m.gate.IsAuthorized(intentID, participant) {
		return nil, ErrNotParticipant
	}
	if !VerifyAcceptance(intentID, attestation, participant) {
		return nil, ErrInvalidAttestation
	}
	if record.Accepted(participant) {
		return record, nil
	}

	record.AcceptedBy = append(record.AcceptedBy, participant)
	if record.Status == StatusProposed && m.ruleSatisfied(record) {
		record.Status = StatusReady
	}
	if err := m.store.Update(ctx, record); err != nil {
		return nil, err
	}

	m.emit(ctx, events.New(events.KindIntentAccepted, intentID.Hex(), participant.Hex()).
		WithOutcome(string(record.Status)))
	m.log.Info("intent 已接受",
		slog.String("intent_id", intentID.Hex()),
		slog.String("participant", participant.Hex()),
		slog.String("status", string(record.Status)))
	return record.clone(), nil
}

// Execute 门控执行：要求 Ready，委托安全上下文管理器做等级校验，
// 通过后迁移到终态 Executed。实际协调动作由外部调用方完成。
// 防重入标记在咨询外部协作方之前置位，状态提交之后才清除。
func (m *Machine) Execute(ctx context.Context, intentID common.Hash, proof []byte, caller common.Address) (*Record, error) {
	if _, err := m.liveRecord(ctx, intentID); err != nil {
		return nil, err
	}
	record, err := m.store.BeginExecute(ctx, intentID)
	if err != nil {
		return nil, err
	}

	check, err := m.gate.ValidateTier(ctx, intentID, record.Tier, proof)
	if err != nil {
		_ = m.store.FinishExecute(ctx, intentID, StatusReady)
		return nil, err
	}
	if !check.OK {
		if finishErr := m.store.FinishExecute(ctx, intentID, StatusReady); finishErr != nil {
			return nil, finishErr
		}
		return nil, xerrors.Wrap(CodeTierRejected, ErrTierRejected, "",
			xerrors.WithMetadata("reason", string(check.Reason)))
	}

	if err := m.store.FinishExecute(ctx, intentID, StatusExecuted); err != nil {
		return nil, err
	}
	record.Status = StatusExecuted
	record.InFlight = false

	m.emit(ctx, events.New(events.KindIntentExecuted, intentID.Hex(), caller.Hex()))
	m.log.Info("intent 已执行",
		slog.String("intent_id", intentID.Hex()),
		slog.String("caller", caller.Hex()))
	return record.clone(), nil
}

// Cancel 由原始提案者在 Proposed 或 Ready 状态下取消记录。
func (m *Machine) Cancel(ctx context.Context, intentID common.Hash, caller common.Address) (*Record, error) {
	record, err := m.liveRecord(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if caller != record.Proposer {
		return nil, ErrNotProposer
	}

	record.Status = StatusCancelled
	if err := m.store.Update(ctx, record); err != nil {
		return nil, err
	}

	m.emit(ctx, events.New(events.KindIntentCancelled, intentID.Hex(), caller.Hex()))
	m.log.Info("intent 已取消", slog.String("intent_id", intentID.Hex()))
	return record.clone(), nil
}

// GetRecord 返回协调记录，读取时惰性结算过期。
func (m *Machine) GetRecord(ctx context.Context, intentID common.Hash) (*Record, error) {
	record, err := m.store.Get(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if record.ExpiredAt(m.now()) && !record.InFlight {
		m.expire(ctx, record)
	}
	return record, nil
}

// Nonce 返回身份最近一次使用的 nonce。
func (m *Machine) Nonce(ctx context.Context, identity common.Address) (uint64, error) {
	return m.store.Nonce(ctx, identity)
}

// liveRecord 返回仍然活跃的记录：过期的惰性结算为 Expired 并返回
// ErrIntentExpired，终态记录返回 ErrBadState。在途执行期间记录被冻结，
// 任何变更入口都返回 ErrReentrancy，等待 FinishExecute 提交。
func (m *Machine) liveRecord(ctx context.Context, intentID common.Hash) (*Record, error) {
	record, err := m.store.Get(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if record.InFlight {
		return nil, ErrReentrancy
	}
	if record.ExpiredAt(m.now()) {
		m.expire(ctx, record)
		return nil, ErrIntentExpired
	}
	if !record.Live() {
		return nil, ErrBadState
	}
	return record, nil
}

// expire 把活跃记录结算为 Expired。无需后台定时器，读取路径即结算点。
func (m *Machine) expire(ctx context.Context, record *Record) {
	record.Status = StatusExpired
	record.InFlight = false
	if err := m.store.Update(ctx, record); err != nil {
		m.log.Error("过期结算失败", slog.Any("error", err), slog.String("intent_id", record.IntentID.Hex()))
		return
	}
	m.emit(ctx, events.New(events.KindIntentExpired, record.IntentID.Hex(), ""))
}

func (m *Machine) ruleSatisfied(record *Record) bool {
	switch m.rule {
	case AcceptAll:
		for _, p := range record.Participants {
			if !record.Accepted(p) {
				return false
			}
		}
		return len(record.Participants) > 0
	default:
		return len(record.AcceptedBy) > 0
	}
}

func (m *Machine) emit(ctx context.Context, event events.Event) {
	if m.dispatcher == nil {
		return
	}
	if err := m.dispatcher.Dispatch(ctx, event); err != nil {
		m.log.Error("事件派发失败", slog.Any("error", err), slog.String("kind", string(event.Kind)))
	}
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}
