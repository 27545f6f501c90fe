package security

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "ChainPact/internal/errors"
	"ChainPact/internal/events"
	"ChainPact/internal/registry"
	"ChainPact/pkg/logger"
)

// Reason 解释 ValidateTier 的否定结论。等级不满足是常态而非异常，
// 因此这一操作返回数据而不是错误，调用方按布尔值分流即可。
type Reason string

const (
	ReasonOK                   Reason = "ok"
	ReasonNoSuchContext        Reason = "no_such_context"
	ReasonTierMismatch         Reason = "tier_mismatch"
	ReasonTimelockNotSatisfied Reason = "timelock_not_satisfied"
	ReasonBadProofShape        Reason = "bad_proof_shape"
)

// TierCheck 是 ValidateTier 的软失败结果。
type TierCheck struct {
	OK     bool   `json:"ok"`
	Reason Reason `json:"reason"`
}

// Manager 持有安全上下文与授权表，编排时间锁、证明形状与吊销逻辑。
type Manager struct {
	contexts   ContextStore
	registry   registry.Store
	policy     Policy
	dispatcher events.Dispatcher
	now        func() time.Time
	log        *slog.Logger
}

// ManagerOption 定义可选配置。
type ManagerOption func(*Manager)

// WithPolicy 覆盖默认安全策略。
func WithPolicy(policy Policy) ManagerOption {
	return func(m *Manager) {
		if policy.Timelocks != nil {
			m.policy = policy
		}
	}
}

// WithDispatcher 配置事件派发器。
func WithDispatcher(dispatcher events.Dispatcher) ManagerOption {
	return func(m *Manager) {
		m.dispatcher = dispatcher
	}
}

// WithClock 覆盖时间源，供时间锁相关测试使用。
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager 构造安全上下文管理器。
func NewManager(contexts ContextStore, reg registry.Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		contexts: contexts,
		registry: reg,
		policy:   DefaultPolicy(),
		now:      time.Now,
		log:      logger.Named("security"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// CreateContext 为 intent 建立安全上下文并授权所有参与者。
// 同一 intent 不允许重建；Maximum 等级要求全部参与者已登记公钥承诺。
func (m *Manager) CreateContext(ctx context.Context, intentID common.Hash, tier Tier, participants []common.Address, timelock time.Duration, creator common.Address) (*Context, error) {
	if m.contexts == nil || m.registry == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "安全上下文管理器未初始化")
	}
	if !tier.Valid() {
		return nil, ErrInvalidTier
	}

	unique := dedupeParticipants(participants)
	if len(unique) < 1 || len(unique) > m.policy.MaxParticipants {
		return nil, ErrInvalidParticipantCount
	}
	if minimum := m.policy.MinTimelock(tier); timelock < minimum {
		return nil, xerrors.Wrap(CodeTimelockTooShort, ErrTimelockTooShort, "",
			xerrors.WithMetadata("minimum", minimum.String()),
			xerrors.WithMetadata("requested", timelock.String()))
	}
	if tier == TierMaximum {
		for _, p := range unique {
			if _, err := m.registry.GetPublicKey(ctx, p); err != nil {
				return nil, xerrors.Wrap(CodeMissingPublicKey, ErrMissingPublicKey, "",
					xerrors.WithMetadata("participant", p.Hex()))
			}
		}
	}

	sc := &Context{
		IntentID:     intentID,
		Tier:         tier,
		Timelock:     timelock,
		CreatedAt:    m.now(),
		Creator:      creator,
		Participants: unique,
	}
	if err := m.contexts.Create(ctx, sc); err != nil {
		return nil, err
	}
	for i, p := range unique {
		if err := m.registry.GrantAccess(ctx, intentID, p); err != nil {
			// 授权写入失败时回滚上下文与此前已写入的授权，
			// 保证操作原子生效或原子拒绝。吊销是终态，
			// 回滚用删除而不是吊销。
			for _, granted := range unique[:i] {
				if clearErr := m.registry.ClearAccess(ctx, intentID, granted); clearErr != nil {
					m.log.Error("回滚授权失败",
						slog.Any("error", clearErr),
						slog.String("intent_id", intentID.Hex()),
						slog.String("participant", granted.Hex()))
				}
			}
			_ = m.contexts.Delete(ctx, intentID)
			return nil, err
		}
	}

	m.emit(ctx, events.New(events.KindContextCreated, intentID.Hex(), creator.Hex()).
		WithMetadata("tier", tier.String()).
		WithMetadata("participants", strconv.Itoa(len(unique))).
		WithMetadata("timelock", timelock.String()))
	m.log.Info("安全上下文已创建",
		slog.String("intent_id", intentID.Hex()),
		slog.String("tier", tier.String()),
		slog.Int("participants", len(unique)))
	return sc.clone(), nil
}

// ValidateTier 校验声明等级、时间锁与证明形状。普通否定结论不返回错误，
// 错误仅用于存储层故障。
func (m *Manager) ValidateTier(ctx context.Context, intentID common.Hash, claimed Tier, proof []byte) (TierCheck, error) {
	sc, err := m.contexts.Get(ctx, intentID)
	if err != nil {
		if xerrors.CodeOf(err) == CodeNoSuchContext {
			return m.checked(ctx, intentID, TierCheck{Reason: ReasonNoSuchContext}), nil
		}
		return TierCheck{}, err
	}
	if claimed != sc.Tier {
		return m.checked(ctx, intentID, TierCheck{Reason: ReasonTierMismatch}), nil
	}
	if !sc.Unlocked(m.now()) {
		return m.checked(ctx, intentID, TierCheck{Reason: ReasonTimelockNotSatisfied}), nil
	}
	if !sc.Tier.ProofShapeOK(proof) {
		return m.checked(ctx, intentID, TierCheck{Reason: ReasonBadProofShape}), nil
	}
	return m.checked(ctx, intentID, TierCheck{OK: true, Reason: ReasonOK}), nil
}

// RevokeAccess 立即吊销参与者授权，绕过时间锁。
// 这是一条紧急通道：只有创建者或模块 owner 可以调用，且吊销不可逆。
func (m *Manager) RevokeAccess(ctx context.Context, intentID common.Hash, participant, caller common.Address) error {
	sc, err := m.contexts.Get(ctx, intentID)
	if err != nil {
		return err
	}
	if !m.isAdmin(sc, caller) {
		return ErrNotContextAdmin
	}
	if err := m.registry.RevokeAccess(ctx, intentID, participant); err != nil {
		return err
	}
	m.emit(ctx, events.New(events.KindAccessRevoked, intentID.Hex(), caller.Hex()).
		WithMetadata("participant", participant.Hex()))
	m.log.Warn("参与者授权已吊销",
		slog.String("intent_id", intentID.Hex()),
		slog.String("participant", participant.Hex()),
		slog.String("caller", caller.Hex()))
	return nil
}

// UpgradeTier 把上下文升到更高等级。只能升不能降，且当前时间锁必须已届满。
// 升级会把时间锁重置为新等级下限，并把创建时间重置为当前时刻。
func (m *Manager) UpgradeTier(ctx context.Context, intentID common.Hash, newTier Tier, caller common.Address) (*Context, error) {
	sc, err := m.contexts.Get(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if !m.isAdmin(sc, caller) {
		return nil, ErrNotContextAdmin
	}
	if !newTier.Valid() {
		return nil, ErrInvalidTier
	}
	if newTier <= sc.Tier {
		return nil, ErrCannotDowngrade
	}
	if !sc.Unlocked(m.now()) {
		return nil, ErrTimelockActive
	}
	if newTier == TierMaximum {
		for _, p := range sc.Participants {
			if _, err := m.registry.GetPublicKey(ctx, p); err != nil {
				return nil, xerrors.Wrap(CodeMissingPublicKey, ErrMissingPublicKey, "",
					xerrors.WithMetadata("participant", p.Hex()))
			}
		}
	}

	previous := sc.Tier
	sc.Tier = newTier
	sc.Timelock = m.policy.MinTimelock(newTier)
	sc.CreatedAt = m.now()
	if err := m.contexts.Update(ctx, sc); err != nil {
		return nil, err
	}

	m.emit(ctx, events.New(events.KindTierUpgraded, intentID.Hex(), caller.Hex()).
		WithMetadata("from", previous.String()).
		WithMetadata("to", newTier.String()))
	m.log.Info("安全等级已升级",
		slog.String("intent_id", intentID.Hex()),
		slog.String("from", previous.String()),
		slog.String("to", newTier.String()))
	return sc.clone(), nil
}

// RegisterPublicKey 登记身份自己的公钥承诺。只能登记自己的条目。
func (m *Manager) RegisterPublicKey(ctx context.Context, identity common.Address, commitment registry.Commitment, caller common.Address) error {
	if caller != identity {
		return ErrNotSelf
	}
	if commitment.IsZero() {
		return registry.ErrInvalidPublicKey
	}
	if err := m.registry.PutPublicKey(ctx, identity, commitment); err != nil {
		return err
	}
	m.emit(ctx, events.New(events.KindKeyRegistered, "", identity.Hex()))
	return nil
}

// GetContext 返回安全上下文，供只读查询使用。
func (m *Manager) GetContext(ctx context.Context, intentID common.Hash) (*Context, error) {
	return m.contexts.Get(ctx, intentID)
}

// GetPublicKey 返回身份登记的公钥承诺。
func (m *Manager) GetPublicKey(ctx context.Context, identity common.Address) (registry.Commitment, error) {
	return m.registry.GetPublicKey(ctx, identity)
}

// IsAuthorized 实现 registry.AccessChecker，供协调状态机与解密管线复用。
func (m *Manager) IsAuthorized(intentID common.Hash, identity common.Address) bool {
	state, err := m.registry.AccessState(context.Background(), intentID, identity)
	if err != nil {
		m.log.Error("查询授权状态失败", slog.Any("error", err), slog.String("intent_id", intentID.Hex()))
		return false
	}
	return state == registry.AccessGranted
}

func (m *Manager) isAdmin(sc *Context, caller common.Address) bool {
	if caller == sc.Creator {
		return true
	}
	return m.policy.Owner != (common.Address{}) && caller == m.policy.Owner
}

func (m *Manager) checked(ctx context.Context, intentID common.Hash, check TierCheck) TierCheck {
	m.emit(ctx, events.New(events.KindTierValidated, intentID.Hex(), "").
		WithOutcome(string(check.Reason)))
	return check
}

func (m *Manager) emit(ctx context.Context, event events.Event) {
	if m.dispatcher == nil {
		return
	}
	if err := m.dispatcher.Dispatch(ctx, event); err != nil {
		m.log.Error("事件派发失败", slog.Any("error", err), slog.String("kind", string(event.Kind)))
	}
}

func dedupeParticipants(participants []common.Address) []common.Address {
	seen := make(map[common.Address]struct{}, len(participants))
	unique := make([]common.Address, 0, len(participants))
	for _, p := range participants {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		unique = append(unique, p)
	}
	return unique
}

// ensure interface compliance at compile time
var _ registry.AccessChecker = (*Manager)(nil)
