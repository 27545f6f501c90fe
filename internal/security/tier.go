package security

import (
	"fmt"
	"strings"
	"time"
)

// Tier 表示安全等级。序数有意义：同一 intent 的等级只能单调升高。
type Tier uint8

const (
	TierBasic Tier = iota
	TierStandard
	TierEnhanced
	TierMaximum
)

// 各等级的最低时间锁。策略文件可以上调，但永远不能低于这里的下限。
const (
	minTimelockBasic    = 0
	minTimelockStandard = 300 * time.Second
	minTimelockEnhanced = 1800 * time.Second
	minTimelockMaximum  = 7200 * time.Second
)

// 证明材料的形状约束。内容语义由外部协作方解释，本核心只校验形状。
const (
	// EnhancedProofLen 是 Enhanced 等级要求的定长签名长度（secp256k1 恢复式签名）。
	EnhancedProofLen = 65
	// MaximumProofMinLen 和 MaximumProofMaxLen 界定 Maximum 等级证明捆绑的长度区间。
	MaximumProofMinLen = 32
	MaximumProofMaxLen = 1024
)

// Valid 判断等级是否为支持的枚举值。
func (t Tier) Valid() bool {
	return t <= TierMaximum
}

// MinTimelock 返回等级内置的时间锁下限。
func (t Tier) MinTimelock() time.Duration {
	switch t {
	case TierBasic:
		return minTimelockBasic
	case TierStandard:
		return minTimelockStandard
	case TierEnhanced:
		return minTimelockEnhanced
	case TierMaximum:
		return minTimelockMaximum
	default:
		return minTimelockMaximum
	}
}

// ProofShapeOK 校验证明材料是否符合等级的形状约束。
func (t Tier) ProofShapeOK(proof []byte) bool {
	switch t {
	case TierBasic, TierStandard:
		return len(proof) == 0
	case TierEnhanced:
		return len(proof) == EnhancedProofLen
	case TierMaximum:
		return len(proof) >= MaximumProofMinLen && len(proof) <= MaximumProofMaxLen
	default:
		return false
	}
}

// String 实现 fmt.Stringer。
func (t Tier) String() string {
	switch t {
	case TierBasic:
		return "basic"
	case TierStandard:
		return "standard"
	case TierEnhanced:
		return "enhanced"
	case TierMaximum:
		return "maximum"
	default:
		return fmt.Sprintf("tier(%d)", uint8(t))
	}
}

// ParseTier 解析等级名称。
func ParseTier(name string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "basic":
		return TierBasic, nil
	case "standard":
		return TierStandard, nil
	case "enhanced":
		return TierEnhanced, nil
	case "maximum":
		return TierMaximum, nil
	default:
		return TierBasic, fmt.Errorf("未知的安全等级: %s", name)
	}
}
