package expert

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile describes one analyst on the panel.
type Profile struct {
	ID        string `yaml:"id" json:"id"`
	Role      string `yaml:"role" json:"role"`
	Specialty string `yaml:"specialty" json:"specialty"`
}

// DefaultProfiles returns the built-in five member panel.
func DefaultProfiles() []Profile {
	return []Profile{
		{
			ID:        "technical_analyst",
			Role:      "Technical Analyst",
			Specialty: "Price action, support and resistance, momentum and trend structure over the supplied history.",
		},
		{
			ID:        "sentiment_analyst",
			Role:      "Sentiment Analyst",
			Specialty: "Crowd positioning and how the 24h move and range reflect fear or greed.",
		},
		{
			ID:        "risk_manager",
			Role:      "Risk Manager",
			Specialty: "Downside exposure, volatility of the 24h range and whether the setup justifies committing capital.",
		},
		{
			ID:        "onchain_analyst",
			Role:      "On-chain Analyst",
			Specialty: "Liquidity, volume behaviour and flows implied by the recent candles.",
		},
		{
			ID:        "macro_strategist",
			Role:      "Macro Strategist",
			Specialty: "Broader market regime and whether the move is likely to persist beyond the current session.",
		},
	}
}

type profileFile struct {
	Experts []Profile `yaml:"experts"`
}

// LoadProfiles reads a YAML panel definition. An empty path yields the defaults.
func LoadProfiles(path string) ([]Profile, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultProfiles(), nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取专家配置失败: %w", err)
	}
	var file profileFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("解析专家配置失败: %w", err)
	}
	if len(file.Experts) == 0 {
		return DefaultProfiles(), nil
	}
	seen := make(map[string]struct{}, len(file.Experts))
	for i, p := range file.Experts {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return nil, fmt.Errorf("第 %d 个专家缺少 id", i+1)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("专家 id 重复: %s", id)
		}
		seen[id] = struct{}{}
		file.Experts[i].ID = id
		if strings.TrimSpace(p.Role) == "" {
			file.Experts[i].Role = id
		}
	}
	return file.Experts, nil
}
