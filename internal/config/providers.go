package config

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/yourorg/chain-explorer/internal/types"
)

//go:embed providers.yaml
var defaultProviders []byte

// ProviderConfig describes one provider adapter of a network
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Kind        string        `yaml:"kind"`
	URL         string        `yaml:"url"`
	Rate        float64       `yaml:"rate"`
	Burst       int           `yaml:"burst"`
	SharedLimit int           `yaml:"shared_limit"`
	APIKeys     []string      `yaml:"api_keys"`
	Proxy       string        `yaml:"proxy"`
	Timeout     time.Duration `yaml:"timeout"`
	Operations  []string      `yaml:"operations"`
}

// NetworkConfig describes a network and the ordered providers serving it
type NetworkConfig struct {
	Symbol    string            `yaml:"symbol"`
	Decimals  int32             `yaml:"decimals"`
	Tokens    []types.TokenInfo `yaml:"tokens"`
	Providers []ProviderConfig  `yaml:"providers"`

	// Order lists preferred providers per operation name, first = primary
	Order map[string][]string `yaml:"order"`

	// Exclude takes providers out of rotation without removing their definition
	Exclude []string `yaml:"exclude"`
}

// Providers is the provider file
type Providers struct {
	Networks map[string]NetworkConfig `yaml:"networks"`
}

// LoadProviders loads the provider file at path, or the built-in providers
// when path is empty. Keys from apiKeys are added to the provider of the same name.
func LoadProviders(path string, apiKeys map[string][]string) (*Providers, error) {
	data := defaultProviders
	source := "built-in providers"
	if path != "" {
		fileData, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read providers file: %w", err)
		}
		data = fileData
		source = path
	}

	p, err := ParseProviders(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", source, err)
	}
	p.applyKeys(apiKeys)

	logrus.Infof("Loaded %d networks from %s", len(p.Networks), source)
	return p, nil
}

// ParseProviders decodes and validates a provider file
func ParseProviders(data []byte) (*Providers, error) {
	var p Providers
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks names, kinds and references inside the provider file
func (p *Providers) Validate() error {
	if len(p.Networks) == 0 {
		return fmt.Errorf("no networks configured")
	}
	for net, n := range p.Networks {
		if n.Symbol == "" {
			return fmt.Errorf("network %s: symbol is required", net)
		}
		names := make(map[string]bool)
		for _, pc := range n.Providers {
			if pc.Name == "" || pc.Kind == "" || pc.URL == "" {
				return fmt.Errorf("network %s: provider needs name, kind and url", net)
			}
			if names[pc.Name] {
				return fmt.Errorf("network %s: duplicate provider %s", net, pc.Name)
			}
			names[pc.Name] = true
			for _, op := range pc.Operations {
				if _, err := types.ParseOperation(op); err != nil {
					return fmt.Errorf("network %s provider %s: %w", net, pc.Name, err)
				}
			}
		}
		for op, order := range n.Order {
			if _, err := types.ParseOperation(op); err != nil {
				return fmt.Errorf("network %s order: %w", net, err)
			}
			for _, name := range order {
				if !names[name] {
					return fmt.Errorf("network %s order %s: unknown provider %s", net, op, name)
				}
			}
		}
		for _, name := range n.Exclude {
			if !names[name] {
				return fmt.Errorf("network %s exclude: unknown provider %s", net, name)
			}
		}
	}
	return nil
}

// NetworkNames returns the configured networks in sorted order
func (p *Providers) NetworkNames() []string {
	names := make([]string, 0, len(p.Networks))
	for name := range p.Networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Chain returns the static chain constants of a network
func (n NetworkConfig) Chain(name string) types.ChainInfo {
	return types.ChainInfo{
		Network:  types.ParseNetwork(name),
		Symbol:   n.Symbol,
		Decimals: n.Decimals,
		Tokens:   n.Tokens,
	}
}

func (p *Providers) applyKeys(apiKeys map[string][]string) {
	if len(apiKeys) == 0 {
		return
	}
	for net, n := range p.Networks {
		for i, pc := range n.Providers {
			if keys, ok := apiKeys[pc.Name]; ok {
				n.Providers[i].APIKeys = append(n.Providers[i].APIKeys, keys...)
			}
			if keys, ok := apiKeys[strings.ToUpper(net)+"/"+pc.Name]; ok {
				n.Providers[i].APIKeys = append(n.Providers[i].APIKeys, keys...)
			}
		}
	}
}
