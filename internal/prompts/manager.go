package prompts

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	textTemplate "text/template"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AR6420/macos-siri-2.0-sub002/internal/config"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/errors"
)

//go:embed personas.yaml
var builtinPersonas []byte

// Persona is a named system message for the assistant
type Persona struct {
	Name          string `yaml:"-"`
	Description   string `yaml:"description"`
	SystemMessage string `yaml:"system_message"`
}

// Manager handles loading and rendering personas
type Manager struct {
	personas map[string]Persona
	sources  map[string]string // Track which file provided each persona (for debugging)
	now      func() time.Time
}

// NewManager creates a manager holding only the built-in personas
func NewManager() (*Manager, error) {
	pm := &Manager{
		personas: make(map[string]Persona),
		sources:  make(map[string]string),
		now:      time.Now,
	}
	if err := pm.loadData(builtinPersonas, "builtin:personas.yaml"); err != nil {
		return nil, err
	}
	return pm, nil
}

// NewManagerWithOverrides loads the built-in personas and then the user's
// persona file or directory. User personas replace built-ins of the same name.
func NewManagerWithOverrides(userPath string) (*Manager, error) {
	pm, err := NewManager()
	if err != nil {
		return nil, err
	}
	if userPath == "" {
		return pm, nil
	}

	info, err := os.Stat(userPath)
	if err != nil {
		return nil, errors.NewConfigFileError(userPath, err)
	}
	if info.IsDir() {
		err = pm.loadDirectory(userPath)
	} else {
		err = pm.loadFile(userPath)
	}
	if err != nil {
		return nil, err
	}
	return pm, nil
}

// NewManagerFromMap creates a manager from name -> system message pairs
// (useful for testing)
func NewManagerFromMap(messages map[string]string) *Manager {
	pm := &Manager{
		personas: make(map[string]Persona, len(messages)),
		sources:  make(map[string]string, len(messages)),
		now:      time.Now,
	}
	for name, msg := range messages {
		pm.personas[name] = Persona{Name: name, SystemMessage: msg}
		pm.sources[name] = "test:map"
	}
	return pm
}

// loadDirectory loads all YAML files from a directory in name order
func (pm *Manager) loadDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.NewConfigFileError(dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		if err := pm.loadFile(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (pm *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.NewConfigFileError(path, err)
	}
	if err := pm.loadData(data, "user:"+filepath.Base(path)); err != nil {
		return errors.NewConfigFileError(path, err)
	}
	return nil
}

func (pm *Manager) loadData(data []byte, source string) error {
	var file struct {
		Personas map[string]Persona `yaml:"personas"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse personas: %w", err)
	}

	for name, p := range file.Personas {
		if strings.TrimSpace(p.SystemMessage) == "" {
			return fmt.Errorf("persona %q has no system_message", name)
		}
		if _, err := textTemplate.New(name).Parse(p.SystemMessage); err != nil {
			return fmt.Errorf("persona %q: %w", name, err)
		}
		p.Name = name
		p.SystemMessage = strings.TrimSpace(p.SystemMessage)
		pm.personas[name] = p
		pm.sources[name] = source
	}
	return nil
}

// Get returns a persona by name
func (pm *Manager) Get(name string) (Persona, error) {
	p, ok := pm.personas[name]
	if !ok {
		return Persona{}, errors.NewInvalidConfigValueError("conversation.persona", name,
			fmt.Sprintf("unknown persona (available: %s)", strings.Join(pm.Names(), ", ")))
	}
	return p, nil
}

// Render renders the persona's system message. Templates may use {{.Date}},
// {{.Time}} and {{.Weekday}} plus any entry of vars.
func (pm *Manager) Render(name string, vars map[string]any) (string, error) {
	p, err := pm.Get(name)
	if err != nil {
		return "", err
	}

	now := pm.now()
	data := map[string]any{
		"Date":    now.Format("2006-01-02"),
		"Time":    now.Format("15:04"),
		"Weekday": now.Weekday().String(),
	}
	for k, v := range vars {
		data[k] = v
	}

	tmpl, err := textTemplate.New(name).Option("missingkey=error").Parse(p.SystemMessage)
	if err != nil {
		return "", fmt.Errorf("failed to parse persona '%s': %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render persona '%s': %w", name, err)
	}
	return buf.String(), nil
}

// SystemMessage picks the system message for a conversation: the rendered
// persona when one is selected, the configured system message otherwise.
func (pm *Manager) SystemMessage(cfg config.ConversationConfig) (string, error) {
	if cfg.Persona == "" {
		return cfg.SystemMessage, nil
	}
	return pm.Render(cfg.Persona, nil)
}

// Names returns the sorted persona names
func (pm *Manager) Names() []string {
	names := make([]string, 0, len(pm.personas))
	for name := range pm.personas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasPersona checks if a persona exists
func (pm *Manager) HasPersona(name string) bool {
	_, ok := pm.personas[name]
	return ok
}

// GetSource returns which file provided a persona (for debugging)
func (pm *Manager) GetSource(name string) string {
	if source, ok := pm.sources[name]; ok {
		return source
	}
	return "unknown"
}

// ListOverrides returns the personas that came from user files, sorted
func (pm *Manager) ListOverrides() []string {
	var overrides []string
	for name, source := range pm.sources {
		if strings.HasPrefix(source, "user:") {
			overrides = append(overrides, name)
		}
	}
	sort.Strings(overrides)
	return overrides
}

// Count returns the total number of loaded personas
func (pm *Manager) Count() int {
	return len(pm.personas)
}
