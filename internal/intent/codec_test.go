package intent

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"ChainPact/internal/security"
)

func sampleIntent(proposer common.Address) *Intent {
	return &Intent{
		PayloadHash:      common.Hash{0x01},
		Expiry:           1_800_000_000,
		Nonce:            1,
		NetworkID:        1,
		Proposer:         proposer,
		CoordinationType: "swap",
		MaxFeeBudget:     big.NewInt(1_000_000),
		Priority:         3,
		Tier:             security.TierStandard,
		Participants:     []common.Address{{0x11}, {0x12}},
		EstimatedValue:   big.NewInt(42),
	}
}

func TestIntentHashIsDeterministic(t *testing.T) {
	proposer := common.Address{0x10}
	first := sampleIntent(proposer)
	second := sampleIntent(proposer)

	if first.Hash() != second.Hash() {
		t.Fatal("identical intents must hash identically")
	}

	second.Nonce = 2
	if first.Hash() == second.Hash() {
		t.Fatal("nonce change must change the hash")
	}

	third := sampleIntent(proposer)
	dep := common.Hash{0xDD}
	third.DependsOn = &dep
	if first.Hash() == third.Hash() {
		t.Fatal("depends_on change must change the hash")
	}
}

func TestSignAndVerify(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	proposer := crypto.PubkeyToAddress(key.PublicKey)
	in := sampleIntent(proposer)

	sig, err := in.Sign(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(sig) != crypto.SignatureLength {
		t.Fatalf("unexpected signature length: %d", len(sig))
	}
	if !in.VerifySignature(sig, proposer) {
		t.Fatal("signature must verify for the signer")
	}
	if in.VerifySignature(sig, common.Address{0x99}) {
		t.Fatal("signature must not verify for another identity")
	}

	tampered := sampleIntent(proposer)
	tampered.Nonce = 7
	if tampered.VerifySignature(sig, proposer) {
		t.Fatal("signature must not survive intent mutation")
	}
}

func TestAcceptanceDomainSeparation(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer := crypto.PubkeyToAddress(key.PublicKey)
	in := sampleIntent(signer)
	intentID := in.Hash()

	attestation, err := SignAcceptance(intentID, key)
	if err != nil {
		t.Fatalf("sign acceptance: %v", err)
	}
	if !VerifyAcceptance(intentID, attestation, signer) {
		t.Fatal("acceptance must verify for the signer")
	}

	// 提案签名不能当作接受签名重放，反之亦然。
	proposalSig, err := in.Sign(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if VerifyAcceptance(intentID, proposalSig, signer) {
		t.Fatal("proposal signature must not pass as acceptance")
	}
	if in.VerifySignature(attestation, signer) {
		t.Fatal("acceptance must not pass as proposal signature")
	}
}

func TestVerifyRejectsMalformedSignatures(t *testing.T) {
	in := sampleIntent(common.Address{0x10})
	if in.VerifySignature(nil, common.Address{0x10}) {
		t.Fatal("nil signature must not verify")
	}
	if in.VerifySignature(make([]byte, 64), common.Address{0x10}) {
		t.Fatal("short signature must not verify")
	}
}

func TestPayloadHashCoversMetadata(t *testing.T) {
	base := &Payload{
		Version:          "1",
		CoordinationType: "swap",
		Data:             []byte("payload"),
		Timestamp:        1_700_000_000,
		Metadata:         map[string]string{"a": "1", "b": "2"},
	}
	same := &Payload{
		Version:          "1",
		CoordinationType: "swap",
		Data:             []byte("payload"),
		Timestamp:        1_700_000_000,
		Metadata:         map[string]string{"b": "2", "a": "1"},
	}
	if base.Hash() != same.Hash() {
		t.Fatal("metadata ordering must not affect the hash")
	}

	changed := &Payload{
		Version:          "1",
		CoordinationType: "swap",
		Data:             []byte("payload"),
		Timestamp:        1_700_000_000,
		Metadata:         map[string]string{"a": "1", "b": "3"},
	}
	if base.Hash() == changed.Hash() {
		t.Fatal("metadata value change must change the hash")
	}
}
