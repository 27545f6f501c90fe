// Package cipher 实现分层混淆管线。
//
// 这不是真正的机密性保护：所有密钥都由公开输入（数据、参与者集合、
// 网络标识、安全等级）确定性派生，任何持有相同输入的人都能重算。
// 该设计刻意以"延迟 + 混淆"换取低成本，强度随等级递增，但任何等级
// 都达不到 IND-CPA。调用方不得把它当作加密库使用。
package cipher

import (
	"bytes"
	"context"
	"encoding/binary"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "ChainPact/internal/errors"
	"ChainPact/internal/registry"
	"ChainPact/internal/security"
)

// BasicMask 是 Basic 等级使用的公开异或常量。仅作威慑。
const BasicMask byte = 0xAA

const blockSize = 32

var (
	// ErrDecryptDenied 表示调用者对该 intent 没有解密授权。
	ErrDecryptDenied = xerrors.New(CodeDecryptDenied, "caller not authorized to decrypt")
	// ErrBadKeyMaterial 表示密钥材料与等级不匹配或缺失。
	ErrBadKeyMaterial = xerrors.New(CodeBadKeyMaterial, "key material missing or malformed")
	// ErrUnknownTier 表示等级不在支持范围内。
	ErrUnknownTier = xerrors.New(CodeUnknownTier, "unknown security tier")
)

const (
	CodeDecryptDenied  xerrors.Code = "CIPHER_DECRYPT_DENIED"
	CodeBadKeyMaterial xerrors.Code = "CIPHER_BAD_KEY_MATERIAL"
	CodeUnknownTier    xerrors.Code = "CIPHER_UNKNOWN_TIER"
)

func init() {
	xerrors.Register(CodeDecryptDenied, xerrors.Attributes{
		Message:  "caller not authorized to decrypt",
		Kind:     xerrors.KindAuthorization,
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeBadKeyMaterial, xerrors.Attributes{
		Message:  "key material missing or malformed",
		Kind:     xerrors.KindValidation,
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeUnknownTier, xerrors.Attributes{
		Message:  "unknown security tier",
		Kind:     xerrors.KindValidation,
		Severity: xerrors.SeverityInfo,
	})
}

// KeyMaterial 打包逆转换所需的派生密钥。不含派生输入之外的秘密。
type KeyMaterial struct {
	Tier           security.Tier `json:"tier"`
	NetworkID      uint64        `json:"network_id"`
	MasterKey      []byte        `json:"master_key,omitempty"`
	ParticipantKey []byte        `json:"participant_key,omitempty"`
}

// Pipeline 是无状态的分层变换器。解密时通过 AccessChecker 咨询授权状态。
type Pipeline struct {
	access registry.AccessChecker
}

// NewPipeline 构造管线。access 仅在解密路径使用，加密不做授权检查。
func NewPipeline(access registry.AccessChecker) *Pipeline {
	return &Pipeline{access: access}
}

// Encrypt 按等级对数据做分层变换，返回密文与逆转换所需的密钥材料。
func (p *Pipeline) Encrypt(data []byte, participants []common.Address, networkID uint64, tier security.Tier) ([]byte, KeyMaterial, error) {
	if !tier.Valid() {
		return nil, KeyMaterial{}, ErrUnknownTier
	}

	out := make([]byte, len(data))
	copy(out, data)
	km := KeyMaterial{Tier: tier, NetworkID: networkID}

	switch tier {
	case security.TierBasic:
		xorConst(out, BasicMask)
	case security.TierStandard:
		master := deriveMasterKey(data, participants, networkID, tier)
		km.MasterKey = master
		rollingStream(out, master)
	case security.TierEnhanced, security.TierMaximum:
		master := deriveMasterKey(data, participants, networkID, tier)
		participantKey := deriveParticipantKey(participants)
		km.MasterKey = master
		km.ParticipantKey = participantKey
		// 第一层：滚动密钥流。
		rollingStream(out, master)
		// 第二层：参与者集合派生密钥的重复异或。
		xorRepeating(out, participantKey)
		// 第三层：位置异或。
		xorPositional(out)
	}
	return out, km, nil
}

// Decrypt 逆转分层变换。授权检查先于任何解密工作。
// 解密必须严格按 3、2、1 的顺序撤销各层，与加密顺序精确相反。
func (p *Pipeline) Decrypt(ctx context.Context, ciphertext []byte, km KeyMaterial, caller common.Address, intentID common.Hash) ([]byte, error) {
	_ = ctx
	if p.access == nil || !p.access.IsAuthorized(intentID, caller) {
		return nil, ErrDecryptDenied
	}
	if !km.Tier.Valid() {
		return nil, ErrUnknownTier
	}

	out := make([]byte, len(ciphertext))
	copy(out, ciphertext)

	switch km.Tier {
	case security.TierBasic:
		xorConst(out, BasicMask)
	case security.TierStandard:
		if len(km.MasterKey) != blockSize {
			return nil, ErrBadKeyMaterial
		}
		rollingStream(out, km.MasterKey)
	case security.TierEnhanced, security.TierMaximum:
		if len(km.MasterKey) != blockSize || len(km.ParticipantKey) != blockSize {
			return nil, ErrBadKeyMaterial
		}
		xorPositional(out)
		xorRepeating(out, km.ParticipantKey)
		rollingStream(out, km.MasterKey)
	}
	return out, nil
}

// deriveMasterKey 由公开输入派生主密钥：hash(data, participants, networkID, tier)。
func deriveMasterKey(data []byte, participants []common.Address, networkID uint64, tier security.Tier) []byte {
	var network [8]byte
	binary.BigEndian.PutUint64(network[:], networkID)
	return crypto.Keccak256(data, participantsDigest(participants), network[:], []byte{byte(tier)})
}

// deriveParticipantKey 由参与者集合派生第二层密钥。
func deriveParticipantKey(participants []common.Address) []byte {
	return crypto.Keccak256(participantsDigest(participants))
}

// participantsDigest 对参与者集合做顺序无关的规范化摘要：
// 去重后按字节序排序再哈希，保证同一集合总是得到同一密钥。
func participantsDigest(participants []common.Address) []byte {
	seen := make(map[common.Address]struct{}, len(participants))
	unique := make([]common.Address, 0, len(participants))
	for _, p := range participants {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		unique = append(unique, p)
	}
	sort.Slice(unique, func(i, j int) bool {
		return bytes.Compare(unique[i][:], unique[j][:]) < 0
	})
	buf := make([]byte, 0, len(unique)*common.AddressLength)
	for _, p := range unique {
		buf = append(buf, p[:]...)
	}
	return crypto.Keccak256(buf)
}

// rollingStream 以 32 字节为块异或，每块之后密钥重新派生为
// hash(currentKey, blockIndex)。变换是自逆的。
func rollingStream(buf []byte, master []byte) {
	key := make([]byte, blockSize)
	copy(key, master)
	var index [8]byte
	for offset := 0; offset < len(buf); offset += blockSize {
		end := offset + blockSize
		if end > len(buf) {
			end = len(buf)
		}
		for i := offset; i < end; i++ {
			buf[i] ^= key[i-offset]
		}
		binary.BigEndian.PutUint64(index[:], uint64(offset/blockSize)+1)
		key = crypto.Keccak256(key, index[:])
	}
}

// xorRepeating 用单个密钥循环覆盖全长。
func xorRepeating(buf []byte, key []byte) {
	for i := range buf {
		buf[i] ^= key[i%len(key)]
	}
}

// xorPositional 把偏移 i 处的字节与 ((i+1) mod 256) 异或。
func xorPositional(buf []byte) {
	for i := range buf {
		buf[i] ^= byte((i + 1) % 256)
	}
}

func xorConst(buf []byte, mask byte) {
	for i := range buf {
		buf[i] ^= mask
	}
}
