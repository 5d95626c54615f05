package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// 各接口的限流 key，同时也是策略文件里的键名。
const (
	EndpointVerifyCode = "verify_code"
	EndpointPath       = "path"
	EndpointBuy        = "buy"
	EndpointResult     = "result"
)

// AccessPolicy 是挂在某个接口上的准入策略：窗口秒数、窗口内最大请求数、是否必须登录。
type AccessPolicy struct {
	WindowSeconds   int  `yaml:"window_seconds"`
	MaxRequests     int  `yaml:"max_requests"`
	RequireIdentity bool `yaml:"require_identity"`
}

// Policies 以接口 key 索引策略。
type Policies map[string]AccessPolicy

// DefaultPolicies 返回内置默认值；path 接口沿用 5 秒 5 次。
func DefaultPolicies() Policies {
	return Policies{
		EndpointVerifyCode: {WindowSeconds: 5, MaxRequests: 10, RequireIdentity: true},
		EndpointPath:       {WindowSeconds: 5, MaxRequests: 5, RequireIdentity: true},
		EndpointBuy:        {WindowSeconds: 1, MaxRequests: 5, RequireIdentity: true},
		EndpointResult:     {WindowSeconds: 1, MaxRequests: 20, RequireIdentity: true},
	}
}

// LoadPolicies 读取 YAML 策略文件。
func LoadPolicies(path string) (Policies, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read access policies: %w", err)
	}

	var p Policies
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse access policies: %w", err)
	}
	return p, nil
}

// Merge 用 overrides 覆盖同名策略，返回新 map。
func (p Policies) Merge(overrides Policies) Policies {
	out := make(Policies, len(p)+len(overrides))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// Get 取策略；未配置的接口返回 ok=false。
func (p Policies) Get(endpoint string) (AccessPolicy, bool) {
	ap, ok := p[endpoint]
	return ap, ok
}

func (p Policies) Validate() error {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ap := p[k]
		if ap.WindowSeconds <= 0 {
			return fmt.Errorf("access policy %s: window_seconds must be > 0", k)
		}
		if ap.MaxRequests <= 0 {
			return fmt.Errorf("access policy %s: max_requests must be > 0", k)
		}
	}
	return nil
}
