// Package registry 根据配置维护可用的模型服务商，并把 (服务商, 模型) 选择解析为调用目标。
package registry

import (
	"errors"
	"fmt"
	"prompt-forge-go/internal/config"
	"prompt-forge-go/internal/model"
	"prompt-forge-go/pkg/llm"
)

// ErrConfiguration 表示选择的服务商或模型无法调用：未选择、不存在或缺少密钥。
var ErrConfiguration = errors.New("provider configuration error")

// ModelInfo 描述一个可选模型。
type ModelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ProviderInfo 是对外展示的服务商描述，不含密钥。
type ProviderInfo struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Type       string      `json:"type"`
	Configured bool        `json:"configured"`
	Models     []ModelInfo `json:"models"`
}

// Registry 保存按配置顺序排列的服务商。
type Registry struct {
	providers  []config.ProviderConfig
	defaultSel model.ProviderSelection
}

// New 从配置构建 Registry。
func New(providers []config.ProviderConfig, llmCfg config.LLMConfig) *Registry {
	return &Registry{
		providers:  append([]config.ProviderConfig(nil), providers...),
		defaultSel: model.ProviderSelection{ProviderID: llmCfg.DefaultProvider, ModelID: llmCfg.DefaultModel},
	}
}

func (r *Registry) find(id string) (config.ProviderConfig, bool) {
	for _, p := range r.providers {
		if p.ID == id {
			return p, true
		}
	}
	return config.ProviderConfig{}, false
}

func needsKey(p config.ProviderConfig) bool {
	return p.Type != llm.TypeMock
}

func describe(p config.ProviderConfig) ProviderInfo {
	info := ProviderInfo{
		ID:         p.ID,
		Name:       p.Name,
		Type:       p.Type,
		Configured: !needsKey(p) || p.APIKey != "",
	}
	for _, m := range p.Models {
		info.Models = append(info.Models, ModelInfo{ID: m.ID, Name: m.Name})
	}
	return info
}

// Providers 返回全部服务商描述。
func (r *Registry) Providers() []ProviderInfo {
	out := make([]ProviderInfo, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, describe(p))
	}
	return out
}

// Provider 按 id 返回服务商描述。
func (r *Registry) Provider(id string) (ProviderInfo, bool) {
	p, ok := r.find(id)
	if !ok {
		return ProviderInfo{}, false
	}
	return describe(p), true
}

// DefaultSelection 返回配置中的默认选择。
func (r *Registry) DefaultSelection() model.ProviderSelection {
	return r.defaultSel
}

// Resolve 把选择解析为具体调用目标。
func (r *Registry) Resolve(sel model.ProviderSelection) (llm.Target, error) {
	if sel.ProviderID == "" || sel.ModelID == "" {
		return llm.Target{}, fmt.Errorf("%w: 请先选择模型服务商和模型", ErrConfiguration)
	}
	p, ok := r.find(sel.ProviderID)
	if !ok {
		return llm.Target{}, fmt.Errorf("%w: 未知的服务商 %q", ErrConfiguration, sel.ProviderID)
	}
	found := false
	for _, m := range p.Models {
		if m.ID == sel.ModelID {
			found = true
			break
		}
	}
	if !found {
		return llm.Target{}, fmt.Errorf("%w: 服务商 %s 下没有模型 %q", ErrConfiguration, p.Name, sel.ModelID)
	}
	if needsKey(p) && p.APIKey == "" {
		return llm.Target{}, fmt.Errorf("%w: 服务商 %s 未配置 API Key", ErrConfiguration, p.Name)
	}
	return llm.Target{
		ProviderID:   p.ID,
		ProviderType: p.Type,
		Model:        sel.ModelID,
		APIKey:       p.APIKey,
		BaseURL:      p.BaseURL,
	}, nil
}
