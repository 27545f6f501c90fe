package intent

import (
	"crypto/ecdsa"
	"encoding/binary"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// 域分隔前缀。提案签名与接受签名使用不同前缀，杜绝跨用途重放。
const (
	intentDomain = "chainpact/intent/v1"
	acceptDomain = "chainpact/accept/v1"
)

// Encode 生成 intent 的规范字节编码。字段定序、变长字段带长度前缀，
// 保证同一 intent 在任何进程中得到相同的编码与哈希。
func (i *Intent) Encode() []byte {
	buf := make([]byte, 0, 256)
	buf = append(buf, i.PayloadHash[:]...)
	buf = appendUint64(buf, i.Expiry)
	buf = appendUint64(buf, i.Nonce)
	buf = appendUint64(buf, i.NetworkID)
	buf = append(buf, i.Proposer[:]...)
	buf = appendString(buf, i.CoordinationType)
	buf = appendBig(buf, i.MaxFeeBudget)
	buf = append(buf, i.Priority)
	if i.DependsOn != nil {
		buf = append(buf, 1)
		buf = append(buf, i.DependsOn[:]...)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, byte(i.Tier))
	buf = appendUint16(buf, uint16(len(i.Participants)))
	for _, p := range i.Participants {
		buf = append(buf, p[:]...)
	}
	buf = appendBig(buf, i.EstimatedValue)
	return buf
}

// Hash 返回规范编码的 keccak-256 哈希，即全系统通用的 intent 标识。
func (i *Intent) Hash() common.Hash {
	return common.BytesToHash(crypto.Keccak256(i.Encode()))
}

// SigningDigest 返回提案签名所覆盖的域分隔摘要。
func (i *Intent) SigningDigest() common.Hash {
	return common.BytesToHash(crypto.Keccak256([]byte(intentDomain), i.Encode()))
}

// Sign 用私钥对 intent 签名，产生 65 字节恢复式签名。供测试和客户端使用。
func (i *Intent) Sign(key *ecdsa.PrivateKey) ([]byte, error) {
	digest := i.SigningDigest()
	return crypto.Sign(digest[:], key)
}

// VerifySignature 通过公钥恢复校验签名确由 signer 签发。
func (i *Intent) VerifySignature(signature []byte, signer common.Address) bool {
	digest := i.SigningDigest()
	return recoveredSigner(digest, signature) == signer
}

// AcceptDigest 返回接受签名所覆盖的域分隔摘要。
func AcceptDigest(intentID common.Hash) common.Hash {
	return common.BytesToHash(crypto.Keccak256([]byte(acceptDomain), intentID[:]))
}

// SignAcceptance 用私钥对 intent 标识签署接受声明。
func SignAcceptance(intentID common.Hash, key *ecdsa.PrivateKey) ([]byte, error) {
	digest := AcceptDigest(intentID)
	return crypto.Sign(digest[:], key)
}

// VerifyAcceptance 校验接受签名确由 signer 签发。
func VerifyAcceptance(intentID common.Hash, attestation []byte, signer common.Address) bool {
	return recoveredSigner(AcceptDigest(intentID), attestation) == signer
}

// recoveredSigner 从恢复式签名推导签名者地址。签名非法时返回零地址，
// 零地址永远不等于任何合法身份。
func recoveredSigner(digest common.Hash, signature []byte) common.Address {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}
	}
	pub, err := crypto.SigToPub(digest[:], signature)
	if err != nil {
		return common.Address{}
	}
	return crypto.PubkeyToAddress(*pub)
}

// Hash 返回载荷的规范哈希。必须与 intent.PayloadHash 相等才能提案，
// 把 intent 与唯一确定的载荷绑定。
func (p *Payload) Hash() common.Hash {
	buf := make([]byte, 0, 128+len(p.Data))
	buf = appendString(buf, p.Version)
	buf = appendString(buf, p.CoordinationType)
	buf = appendUint64(buf, uint64(len(p.Data)))
	buf = append(buf, p.Data...)
	buf = append(buf, p.ConditionsHash[:]...)
	buf = appendUint64(buf, uint64(p.Timestamp))

	// map 无序，按键排序后纳入哈希。
	keys := make([]string, 0, len(p.Metadata))
	for k := range p.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf = appendUint16(buf, uint16(len(keys)))
	for _, k := range keys {
		buf = appendString(buf, k)
		buf = appendString(buf, p.Metadata[k])
	}
	return common.BytesToHash(crypto.Keccak256(buf))
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendString(buf []byte, s string) []byte {
	buf = appendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

// appendBig 把大整数编码为 32 字节大端值。nil 视为零。
func appendBig(buf []byte, v *big.Int) []byte {
	var tmp [32]byte
	if v != nil {
		v.FillBytes(tmp[:])
	}
	return append(buf, tmp[:]...)
}
