package security

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// DefaultMaxParticipants 限制单个上下文的参与者数量，避免遍历成本被恶意放大。
const DefaultMaxParticipants = 128

// Policy 汇总安全上下文管理器的可调参数。
// 时间锁只能在内置下限之上上调，任何低于下限的配置会被抬回下限。
type Policy struct {
	Timelocks       map[Tier]time.Duration
	MaxParticipants int
	Owner           common.Address
}

// PolicyFile models the structure of configs/policy.yaml.
type PolicyFile struct {
	Timelocks       map[string]int64 `yaml:"timelock_seconds"`
	MaxParticipants int              `yaml:"max_participants"`
	Owner           string           `yaml:"owner"`
}

// DefaultPolicy 返回内置策略。
func DefaultPolicy() Policy {
	return Policy{
		Timelocks: map[Tier]time.Duration{
			TierBasic:    TierBasic.MinTimelock(),
			TierStandard: TierStandard.MinTimelock(),
			TierEnhanced: TierEnhanced.MinTimelock(),
			TierMaximum:  TierMaximum.MinTimelock(),
		},
		MaxParticipants: DefaultMaxParticipants,
	}
}

// MinTimelock 返回策略下某等级的时间锁下限，不会低于等级内置值。
func (p Policy) MinTimelock(tier Tier) time.Duration {
	floor := tier.MinTimelock()
	if p.Timelocks == nil {
		return floor
	}
	if configured, ok := p.Timelocks[tier]; ok && configured > floor {
		return configured
	}
	return floor
}

// LoadPolicy parses the YAML file containing the security policy.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	if strings.TrimSpace(path) == "" {
		return policy, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("读取安全策略失败: %w", err)
	}

	var file PolicyFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return Policy{}, fmt.Errorf("解析安全策略失败: %w", err)
	}

	for name, seconds := range file.Timelocks {
		tier, err := ParseTier(name)
		if err != nil {
			return Policy{}, err
		}
		configured := time.Duration(seconds) * time.Second
		if configured > tier.MinTimelock() {
			policy.Timelocks[tier] = configured
		}
	}
	if file.MaxParticipants > 0 {
		policy.MaxParticipants = file.MaxParticipants
	}
	if owner := strings.TrimSpace(file.Owner); owner != "" {
		if !common.IsHexAddress(owner) {
			return Policy{}, fmt.Errorf("非法的 owner 地址: %s", owner)
		}
		policy.Owner = common.HexToAddress(owner)
	}
	return policy, nil
}
