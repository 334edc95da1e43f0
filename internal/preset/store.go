// Package preset stores named forward-rule targets so an operator can apply
// the same redirect to many ports.
package preset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/treykane/port-console/internal/appconfig"
	"github.com/treykane/port-console/internal/gateway"
	"github.com/treykane/port-console/internal/model"
)

// Preset is a named forward-rule payload.
type Preset struct {
	Name string                 `json:"name"`
	Rule model.ForwardRuleInput `json:"rule"`
}

type ruleYAML struct {
	Method        string `yaml:"method"`
	Type          string `yaml:"type,omitempty"`
	RemoteAddress string `yaml:"remote_address,omitempty"`
	RemotePort    int    `yaml:"remote_port,omitempty"`
}

type presetYAML struct {
	Name string   `yaml:"name"`
	Rule ruleYAML `yaml:"rule"`
}

type fileModel struct {
	Presets map[string]presetYAML `yaml:"presets"`
}

func toYAML(p Preset) presetYAML {
	return presetYAML{Name: p.Name, Rule: ruleYAML{
		Method:        p.Rule.Method,
		Type:          p.Rule.Config.Type,
		RemoteAddress: p.Rule.Config.RemoteAddress,
		RemotePort:    p.Rule.Config.RemotePort,
	}}
}

func (p presetYAML) preset() Preset {
	return Preset{Name: p.Name, Rule: model.ForwardRuleInput{
		Method: p.Rule.Method,
		Config: model.ForwardRuleConfig{
			Type:          p.Rule.Type,
			RemoteAddress: p.Rule.RemoteAddress,
			RemotePort:    p.Rule.RemotePort,
		},
	}}
}

func filePath() (string, error) {
	dir, err := appconfig.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "presets.yaml"), nil
}

// LoadAll returns all presets sorted by name.
func LoadAll() ([]Preset, error) {
	fm, err := loadFile()
	if err != nil {
		return nil, err
	}
	out := make([]Preset, 0, len(fm.Presets))
	for _, p := range fm.Presets {
		out = append(out, p.preset())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Get fetches one preset by name.
func Get(name string) (Preset, error) {
	fm, err := loadFile()
	if err != nil {
		return Preset{}, err
	}
	p, ok := fm.Presets[strings.TrimSpace(name)]
	if !ok {
		return Preset{}, fmt.Errorf("preset not found: %s", name)
	}
	return p.preset(), nil
}

// Save adds or replaces a preset. The rule is validated the same way the
// coordinator validates it before a write.
func Save(name string, rule model.ForwardRuleInput) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("preset name cannot be empty")
	}
	if strings.ContainsAny(name, " \t/") {
		return fmt.Errorf("preset name %q must not contain spaces or slashes", name)
	}
	rule.Config.RemoteAddress = strings.TrimSpace(rule.Config.RemoteAddress)
	if err := gateway.ValidateForwardRule(rule); err != nil {
		return err
	}

	fm, err := loadFile()
	if err != nil {
		return err
	}
	fm.Presets[name] = toYAML(Preset{Name: name, Rule: rule})
	return saveFile(fm)
}

// Delete removes a preset by name.
func Delete(name string) error {
	fm, err := loadFile()
	if err != nil {
		return err
	}
	if _, ok := fm.Presets[name]; !ok {
		return fmt.Errorf("preset not found: %s", name)
	}
	delete(fm.Presets, name)
	return saveFile(fm)
}

func loadFile() (fileModel, error) {
	path, err := filePath()
	if err != nil {
		return fileModel{}, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fileModel{Presets: map[string]presetYAML{}}, nil
		}
		return fileModel{}, err
	}
	var fm fileModel
	if err := yaml.Unmarshal(b, &fm); err != nil {
		return fileModel{}, fmt.Errorf("parse presets: %w", err)
	}
	if fm.Presets == nil {
		fm.Presets = map[string]presetYAML{}
	}
	return fm, nil
}

func saveFile(fm fileModel) error {
	path, err := filePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := yaml.Marshal(fm)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
