package intent

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"ChainPact/internal/security"
)

type fakeGate struct {
	check      security.TierCheck
	err        error
	validate   func(context.Context, common.Hash, security.Tier, []byte) (security.TierCheck, error)
	authorized map[common.Address]bool
}

func newFakeGate() *fakeGate {
	return &fakeGate{
		check:      security.TierCheck{OK: true, Reason: security.ReasonOK},
		authorized: make(map[common.Address]bool),
	}
}

func (g *fakeGate) ValidateTier(ctx context.Context, intentID common.Hash, tier security.Tier, proof []byte) (security.TierCheck, error) {
	if g.validate != nil {
		return g.validate(ctx, intentID, tier, proof)
	}
	return g.check, g.err
}

func (g *fakeGate) IsAuthorized(_ common.Hash, identity common.Address) bool {
	return g.authorized[identity]
}

var _ SecurityGate = (*fakeGate)(nil)

type machineEnv struct {
	machine *Machine
	store   *MemoryStore
	gate    *fakeGate
	now     time.Time
}

func newMachineEnv(t *testing.T, opts ...MachineOption) *machineEnv {
	t.Helper()
	env := &machineEnv{
		store: NewMemoryStore(),
		gate:  newFakeGate(),
		now:   time.Unix(1_700_000_000, 0),
	}
	opts = append([]MachineOption{WithClock(func() time.Time { return env.now })}, opts...)
	env.machine = NewMachine(env.store, env.gate, opts...)
	return env
}

func (e *machineEnv) advance(d time.Duration) {
	e.now = e.now.Add(d)
}

func signedIntent(t *testing.T, key *ecdsa.PrivateKey, nonce uint64, expiry time.Time, participants []common.Address) (*Intent, *Payload, []byte) {
	t.Helper()
	payload := &Payload{
		Version:          "1",
		CoordinationType: "swap",
		Data:             []byte("coordinate"),
		Timestamp:        1_700_000_000,
	}
	in := &Intent{
		PayloadHash:      payload.Hash(),
		Expiry:           uint64(expiry.Unix()),
		Nonce:            nonce,
		NetworkID:        1,
		Proposer:         crypto.PubkeyToAddress(key.PublicKey),
		CoordinationType: "swap",
		MaxFeeBudget:     big.NewInt(1000),
		Tier:             security.TierStandard,
		Participants:     participants,
		EstimatedValue:   big.NewInt(0),
	}
	sig, err := in.Sign(key)
	if err != nil {
		t.Fatalf("sign intent: %v", err)
	}
	return in, payload, sig
}

func mustKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func TestProposeLifecycle(t *testing.T) {
	env := newMachineEnv(t)
	ctx := context.Background()
	key := mustKey(t)
	proposer := crypto.PubkeyToAddress(key.PublicKey)

	in, payload, sig := signedIntent(t, key, 1, env.now.Add(time.Hour), []common.Address{{0x11}})
	record, err := env.machine.Propose(ctx, in, sig, payload, proposer)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if record.Status != StatusProposed {
		t.Fatalf("unexpected status: %s", record.Status)
	}
	if record.IntentID != in.Hash() {
		t.Fatal("record id must equal intent hash")
	}

	nonce, err := env.machine.Nonce(ctx, proposer)
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	if nonce != 1 {
		t.Fatalf("nonce not consumed: %d", nonce)
	}

	got, err := env.machine.GetRecord(ctx, in.Hash())
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if got.Proposer != proposer {
		t.Fatalf("unexpected proposer: %s", got.Proposer.Hex())
	}
}

func TestProposeRejectsBadSignature(t *testing.T) {
	env := newMachineEnv(t)
	ctx := context.Background()
	key := mustKey(t)
	other := mustKey(t)
	proposer := crypto.PubkeyToAddress(key.PublicKey)

	in, payload, _ := signedIntent(t, key, 1, env.now.Add(time.Hour), nil)

	forged, err := in.Sign(other)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := env.machine.Propose(ctx, in, forged, payload, proposer); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for forged signature, got %v", err)
	}

	// 调用者身份与 intent 声明的提案者不一致同样拒绝。
	sig, err := in.Sign(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := env.machine.Propose(ctx, in, sig, payload, crypto.PubkeyToAddress(other.PublicKey)); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for proposer mismatch, got %v", err)
	}
}

func TestProposeNonceMustAdvanceByOne(t *testing.T) {
	env := newMachineEnv(t)
	ctx := context.Background()
	key := mustKey(t)
	proposer := crypto.PubkeyToAddress(key.PublicKey)
	expiry := env.now.Add(time.Hour)

	// 跳号拒绝。
	in, payload, sig := signedIntent(t, key, 2, expiry, nil)
	if _, err := env.machine.Propose(ctx, in, sig, payload, proposer); !errors.Is(err, ErrNonceMismatch) {
		t.Fatalf("expected ErrNonceMismatch for skipped nonce, got %v", err)
	}

	in, payload, sig = signedIntent(t, key, 1, expiry, nil)
	if _, err := env.machine.Propose(ctx, in, sig, payload, proposer); err != nil {
		t.Fatalf("propose nonce 1: %v", err)
	}

	// 复用拒绝。
	replay, payload2, sig2 := signedIntent(t, key, 1, expiry.Add(time.Minute), nil)
	if _, err := env.machine.Propose(ctx, replay, sig2, payload2, proposer); !errors.Is(err, ErrNonceMismatch) {
		t.Fatalf("expected ErrNonceMismatch for replayed nonce, got %v", err)
	}

	in, payload, sig = signedIntent(t, key, 2, expiry, nil)
	if _, err := env.machine.Propose(ctx, in, sig, payload, proposer); err != nil {
		t.Fatalf("propose nonce 2: %v", err)
	}
}

func TestProposeRejectsExpiredAndMismatchedPayload(t *testing.T) {
	env := newMachineEnv(t)
	ctx := context.Background()
	key := mustKey(t)
	proposer := crypto.PubkeyToAddress(key.PublicKey)

	expired, payload, sig := signedIntent(t, key, 1, env.now.Add(-time.Second), nil)
	if _, err := env.machine.Propose(ctx, expired, sig, payload, proposer); !errors.Is(err, ErrIntentExpired) {
		t.Fatalf("expected ErrIntentExpired, got %v", err)
	}

	in, _, sig := signedIntent(t, key, 1, env.now.Add(time.Hour), nil)
	wrong := &Payload{Version: "1", CoordinationType: "swap", Data: []byte("different")}
	if _, err := env.machine.Propose(ctx, in, sig, wrong, proposer); !errors.Is(err, ErrPayloadMismatch) {
		t.Fatalf("expected ErrPayloadMismatch, got %v", err)
	}
}

func TestAcceptFlow(t *testing.T) {
	env := newMachineEnv(t)
	ctx := context.Background()
	proposerKey := mustKey(t)
	proposer := crypto.PubkeyToAddress(proposerKey.PublicKey)
	participantKey := mustKey(t)
	participant := crypto.PubkeyToAddress(participantKey.PublicKey)

	in, payload, sig := signedIntent(t, proposerKey, 1, env.now.Add(time.Hour), []common.Address{participant})
	if _, err := env.machine.Propose(ctx, in, sig, payload, proposer); err != nil {
		t.Fatalf("propose: %v", err)
	}
	intentID := in.Hash()

	attestation, err := SignAcceptance(intentID, participantKey)
	if err != nil {
		t.Fatalf("sign acceptance: %v", err)
	}

	// 未授权的参与者先于签名校验被拒。
	if _, err := env.machine.Accept(ctx, intentID, attestation, participant); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}

	env.gate.authorized[participant] = true

	// 授权后的伪造签名被拒。
	strangerKey := mustKey(t)
	forged, err := SignAcceptance(intentID, strangerKey)
	if err != nil {
		t.Fatalf("sign acceptance: %v", err)
	}
	if _, err := env.machine.Accept(ctx, intentID, forged, participant); !errors.Is(err, ErrInvalidAttestation) {
		t.Fatalf("expected ErrInvalidAttestation, got %v", err)
	}

	record, err := env.machine.Accept(ctx, intentID, attestation, participant)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if record.Status != StatusReady {
		t.Fatalf("expected ready under accept-any, got %s", record.Status)
	}

	// 重复接受是无操作。
	again, err := env.machine.Accept(ctx, intentID, attestation, participant)
	if err != nil {
		t.Fatalf("re-accept: %v", err)
	}
	if len(again.AcceptedBy) != 1 {
		t.Fatalf("re-accept must not duplicate entries: %d", len(again.AcceptedBy))
	}
}

func TestAcceptAllRule(t *testing.T) {
	env := newMachineEnv(t, WithAcceptanceRule(AcceptAll))
	ctx := context.Background()
	proposerKey := mustKey(t)
	proposer := crypto.PubkeyToAddress(proposerKey.PublicKey)
	firstKey := mustKey(t)
	secondKey := mustKey(t)
	first := crypto.PubkeyToAddress(firstKey.PublicKey)
	second := crypto.PubkeyToAddress(secondKey.PublicKey)

	in, payload, sig := signedIntent(t, proposerKey, 1, env.now.Add(time.Hour), []common.Address{first, second})
	if _, err := env.machine.Propose(ctx, in, sig, payload, proposer); err != nil {
		t.Fatalf("propose: %v", err)
	}
	intentID := in.Hash()
	env.gate.authorized[first] = true
	env.gate.authorized[second] = true

	att1, err := SignAcceptance(intentID, firstKey)
	if err != nil {
		t.Fatalf("sign acceptance: %v", err)
	}
	record, err := env.machine.Accept(ctx, intentID, att1, first)
	if err != nil {
		t.Fatalf("first accept: %v", err)
	}
	if record.Status != StatusProposed {
		t.Fatalf("record must stay proposed until all accept, got %s", record.Status)
	}

	att2, err := SignAcceptance(intentID, secondKey)
	if err != nil {
		t.Fatalf("sign acceptance: %v", err)
	}
	record, err = env.machine.Accept(ctx, intentID, att2, second)
	if err != nil {
		t.Fatalf("second accept: %v", err)
	}
	if record.Status != StatusReady {
		t.Fatalf("expected ready after all accepted, got %s", record.Status)
	}
}

func readyIntent(t *testing.T, env *machineEnv) common.Hash {
	t.Helper()
	ctx := context.Background()
	proposerKey := mustKey(t)
	proposer := crypto.PubkeyToAddress(proposerKey.PublicKey)
	participantKey := mustKey(t)
	participant := crypto.PubkeyToAddress(participantKey.PublicKey)

	in, payload, sig := signedIntent(t, proposerKey, 1, env.now.Add(time.Hour), []common.Address{participant})
	if _, err := env.machine.Propose(ctx, in, sig, payload, proposer); err != nil {
		t.Fatalf("propose: %v", err)
	}
	env.gate.authorized[participant] = true
	attestation, err := SignAcceptance(in.Hash(), participantKey)
	if err != nil {
		t.Fatalf("sign acceptance: %v", err)
	}
	if _, err := env.machine.Accept(ctx, in.Hash(), attestation, participant); err != nil {
		t.Fatalf("accept: %v", err)
	}
	return in.Hash()
}

func TestExecuteHappyPath(t *testing.T) {
	env := newMachineEnv(t)
	ctx := context.Background()
	intentID := readyIntent(t, env)

	record, err := env.machine.Execute(ctx, intentID, nil, common.Address{0x33})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if record.Status != StatusExecuted {
		t.Fatalf("unexpected status: %s", record.Status)
	}
	if record.InFlight {
		t.Fatal("in-flight flag must be cleared after commit")
	}

	// 终态记录不允许再次执行。
	if _, err := env.machine.Execute(ctx, intentID, nil, common.Address{0x33}); !errors.Is(err, ErrBadState) {
		t.Fatalf("expected ErrBadState, got %v", err)
	}
}

func TestExecuteTierRejectionKeepsRecordReady(t *testing.T) {
	env := newMachineEnv(t)
	ctx := context.Background()
	intentID := readyIntent(t, env)

	env.gate.check = security.TierCheck{OK: false, Reason: security.ReasonTimelockNotSatisfied}
	if _, err := env.machine.Execute(ctx, intentID, nil, common.Address{0x33}); !errors.Is(err, ErrTierRejected) {
		t.Fatalf("expected ErrTierRejected, got %v", err)
	}

	record, err := env.machine.GetRecord(ctx, intentID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if record.Status != StatusReady || record.InFlight {
		t.Fatalf("record must return to ready, got %+v", record)
	}

	// 拒绝不是终态，条件满足后可以重试成功。
	env.gate.check = security.TierCheck{OK: true, Reason: security.ReasonOK}
	if _, err := env.machine.Execute(ctx, intentID, nil, common.Address{0x33}); err != nil {
		t.Fatalf("retry execute: %v", err)
	}
}

func TestExecuteReentrancyGuard(t *testing.T) {
	env := newMachineEnv(t)
	ctx := context.Background()
	intentID := readyIntent(t, env)

	// 模拟一次尚未提交的在途执行。
	if _, err := env.store.BeginExecute(ctx, intentID); err != nil {
		t.Fatalf("begin execute: %v", err)
	}
	if _, err := env.machine.Execute(ctx, intentID, nil, common.Address{0x33}); !errors.Is(err, ErrReentrancy) {
		t.Fatalf("expected ErrReentrancy, got %v", err)
	}

	// 在途执行提交后恢复正常。
	if err := env.store.FinishExecute(ctx, intentID, StatusReady); err != nil {
		t.Fatalf("finish execute: %v", err)
	}
	if _, err := env.machine.Execute(ctx, intentID, nil, common.Address{0x33}); err != nil {
		t.Fatalf("execute after release: %v", err)
	}
}

// 执行期间经由安全门控回调再进入 Cancel：取消必须被拒绝，
// 执行照常提交，记录不能从终态复活。
func TestExecuteBlocksReentrantCancel(t *testing.T) {
	env := newMachineEnv(t)
	ctx := context.Background()
	proposerKey := mustKey(t)
	proposer := crypto.PubkeyToAddress(proposerKey.PublicKey)
	participantKey := mustKey(t)
	participant := crypto.PubkeyToAddress(participantKey.PublicKey)

	in, payload, sig := signedIntent(t, proposerKey, 1, env.now.Add(time.Hour), []common.Address{participant})
	if _, err := env.machine.Propose(ctx, in, sig, payload, proposer); err != nil {
		t.Fatalf("propose: %v", err)
	}
	env.gate.authorized[participant] = true
	attestation, err := SignAcceptance(in.Hash(), participantKey)
	if err != nil {
		t.Fatalf("sign acceptance: %v", err)
	}
	if _, err := env.machine.Accept(ctx, in.Hash(), attestation, participant); err != nil {
		t.Fatalf("accept: %v", err)
	}

	var cancelErr error
	env.gate.validate = func(ctx context.Context, intentID common.Hash, _ security.Tier, _ []byte) (security.TierCheck, error) {
		_, cancelErr = env.machine.Cancel(ctx, intentID, proposer)
		return security.TierCheck{OK: true, Reason: security.ReasonOK}, nil
	}

	record, err := env.machine.Execute(ctx, in.Hash(), nil, common.Address{0x33})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !errors.Is(cancelErr, ErrReentrancy) {
		t.Fatalf("expected ErrReentrancy from nested cancel, got %v", cancelErr)
	}
	if record.Status != StatusExecuted {
		t.Fatalf("unexpected status: %s", record.Status)
	}
	stored, err := env.store.Get(ctx, in.Hash())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusExecuted || stored.InFlight {
		t.Fatalf("unexpected stored record: %+v", stored)
	}
}

// 执行期间经由安全门控回调再进入 Accept：同样被拒绝。
func TestExecuteBlocksReentrantAccept(t *testing.T) {
	env := newMachineEnv(t)
	ctx := context.Background()
	proposerKey := mustKey(t)
	proposer := crypto.PubkeyToAddress(proposerKey.PublicKey)
	firstKey := mustKey(t)
	first := crypto.PubkeyToAddress(firstKey.PublicKey)
	secondKey := mustKey(t)
	second := crypto.PubkeyToAddress(secondKey.PublicKey)

	in, payload, sig := signedIntent(t, proposerKey, 1, env.now.Add(time.Hour), []common.Address{first, second})
	if _, err := env.machine.Propose(ctx, in, sig, payload, proposer); err != nil {
		t.Fatalf("propose: %v", err)
	}
	env.gate.authorized[first] = true
	env.gate.authorized[second] = true
	firstAttestation, err := SignAcceptance(in.Hash(), firstKey)
	if err != nil {
		t.Fatalf("sign acceptance: %v", err)
	}
	if _, err := env.machine.Accept(ctx, in.Hash(), firstAttestation, first); err != nil {
		t.Fatalf("accept: %v", err)
	}
	secondAttestation, err := SignAcceptance(in.Hash(), secondKey)
	if err != nil {
		t.Fatalf("sign acceptance: %v", err)
	}

	var acceptErr error
	env.gate.validate = func(ctx context.Context, intentID common.Hash, _ security.Tier, _ []byte) (security.TierCheck, error) {
		_, acceptErr = env.machine.Accept(ctx, intentID, secondAttestation, second)
		return security.TierCheck{OK: true, Reason: security.ReasonOK}, nil
	}

	_, err = env.machine.Execute(ctx, in.Hash(), nil, common.Address{0x33})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !errors.Is(acceptErr, ErrReentrancy) {
		t.Fatalf("expected ErrReentrancy from nested accept, got %v", acceptErr)
	}
	stored, err := env.store.Get(ctx, in.Hash())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusExecuted || stored.Accepted(second) {
		t.Fatalf("unexpected stored record: %+v", stored)
	}
}

func TestExecuteRequiresReady(t *testing.T) {
	env := newMachineEnv(t)
	ctx := context.Background()
	key := mustKey(t)
	proposer := crypto.PubkeyToAddress(key.PublicKey)

	in, payload, sig := signedIntent(t, key, 1, env.now.Add(time.Hour), []common.Address{{0x11}})
	if _, err := env.machine.Propose(ctx, in, sig, payload, proposer); err != nil {
		t.Fatalf("propose: %v", err)
	}
	if _, err := env.machine.Execute(ctx, in.Hash(), nil, proposer); !errors.Is(err, ErrBadState) {
		t.Fatalf("expected ErrBadState for proposed record, got %v", err)
	}
}

func TestCancelOnlyByProposer(t *testing.T) {
	env := newMachineEnv(t)
	ctx := context.Background()
	key := mustKey(t)
	proposer := crypto.PubkeyToAddress(key.PublicKey)

	in, payload, sig := signedIntent(t, key, 1, env.now.Add(time.Hour), []common.Address{{0x11}})
	if _, err := env.machine.Propose(ctx, in, sig, payload, proposer); err != nil {
		t.Fatalf("propose: %v", err)
	}
	intentID := in.Hash()

	if _, err := env.machine.Cancel(ctx, intentID, common.Address{0x99}); !errors.Is(err, ErrNotProposer) {
		t.Fatalf("expected ErrNotProposer, got %v", err)
	}

	record, err := env.machine.Cancel(ctx, intentID, proposer)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if record.Status != StatusCancelled {
		t.Fatalf("unexpected status: %s", record.Status)
	}

	// 终态之后一切变更操作都被拒绝。
	if _, err := env.machine.Cancel(ctx, intentID, proposer); !errors.Is(err, ErrBadState) {
		t.Fatalf("expected ErrBadState after cancel, got %v", err)
	}
}

func TestLazyExpiry(t *testing.T) {
	env := newMachineEnv(t)
	ctx := context.Background()
	key := mustKey(t)
	proposer := crypto.PubkeyToAddress(key.PublicKey)

	in, payload, sig := signedIntent(t, key, 1, env.now.Add(time.Minute), []common.Address{{0x11}})
	if _, err := env.machine.Propose(ctx, in, sig, payload, proposer); err != nil {
		t.Fatalf("propose: %v", err)
	}
	intentID := in.Hash()

	env.advance(time.Minute)

	// 过期在读取路径上惰性结算。
	record, err := env.machine.GetRecord(ctx, intentID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if record.Status != StatusExpired {
		t.Fatalf("expected expired, got %s", record.Status)
	}

	stored, err := env.store.Get(ctx, intentID)
	if err != nil {
		t.Fatalf("store get: %v", err)
	}
	if stored.Status != StatusExpired {
		t.Fatalf("expiry not persisted, got %s", stored.Status)
	}

	if _, err := env.machine.Accept(ctx, intentID, nil, common.Address{0x11}); !errors.Is(err, ErrBadState) {
		t.Fatalf("expected ErrBadState on expired record, got %v", err)
	}
}
