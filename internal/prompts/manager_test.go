package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AR6420/macos-siri-2.0-sub002/internal/config"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/errors"
)

func TestNewManager_Builtins(t *testing.T) {
	mgr, err := NewManager()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	for _, name := range []string{"default", "concise", "coder", "researcher"} {
		if !mgr.HasPersona(name) {
			t.Errorf("Expected built-in persona '%s'", name)
		}
		if source := mgr.GetSource(name); source != "builtin:personas.yaml" {
			t.Errorf("Expected builtin source for %s, got '%s'", name, source)
		}
	}
	if len(mgr.ListOverrides()) != 0 {
		t.Errorf("Expected no overrides, got %v", mgr.ListOverrides())
	}
}

func TestManager_Get_NotFound(t *testing.T) {
	mgr := NewManagerFromMap(map[string]string{"exists": "value"})

	_, err := mgr.Get("nonexistent")
	if err == nil {
		t.Fatal("Expected error for non-existent persona, got nil")
	}
	if !errors.IsConfigurationError(err) {
		t.Errorf("Expected a configuration error, got %T", err)
	}
	if !strings.Contains(err.(*errors.InvalidConfigValueError).GetUserMessage(), "available: exists") {
		t.Errorf("Expected the available personas in the message, got %v", err)
	}
}

func TestManager_Render_WithVariables(t *testing.T) {
	mgr := NewManagerFromMap(map[string]string{
		"template": "It is {{.Weekday}} {{.Date}} {{.Time}}. User: {{.User}}",
	})
	mgr.now = func() time.Time { return time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC) }

	result, err := mgr.Render("template", map[string]any{"User": "Alice"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	expected := "It is Friday 2024-03-15 09:30. User: Alice"
	if result != expected {
		t.Errorf("Expected '%s', got '%s'", expected, result)
	}
}

func TestManager_Render_MissingVariable(t *testing.T) {
	mgr := NewManagerFromMap(map[string]string{
		"template": "Hello {{.User}}",
	})

	if _, err := mgr.Render("template", nil); err == nil {
		t.Fatal("Expected error for missing variable, got nil")
	}
}

func TestManager_SystemMessage(t *testing.T) {
	mgr := NewManagerFromMap(map[string]string{"pirate": "Talk like a pirate."})

	msg, err := mgr.SystemMessage(config.ConversationConfig{SystemMessage: "You are helpful."})
	if err != nil || msg != "You are helpful." {
		t.Errorf("Expected the configured system message, got '%s' (%v)", msg, err)
	}

	msg, err = mgr.SystemMessage(config.ConversationConfig{SystemMessage: "You are helpful.", Persona: "pirate"})
	if err != nil || msg != "Talk like a pirate." {
		t.Errorf("Expected the persona system message, got '%s' (%v)", msg, err)
	}

	if _, err := mgr.SystemMessage(config.ConversationConfig{Persona: "ghost"}); err == nil {
		t.Error("Expected error for an unknown persona")
	}
}

func TestNewManagerWithOverrides_File(t *testing.T) {
	tmpDir := t.TempDir()
	userYAML := `
personas:
  concise:
    description: Even shorter
    system_message: "One sentence only."
  chef:
    description: Cooking help
    system_message: |
      You are a chef.
`
	path := filepath.Join(tmpDir, "personas.yaml")
	_ = os.WriteFile(path, []byte(userYAML), 0644)

	mgr, err := NewManagerWithOverrides(path)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	p, _ := mgr.Get("concise")
	if p.SystemMessage != "One sentence only." || p.Description != "Even shorter" {
		t.Errorf("Expected the user persona to override the built-in, got %+v", p)
	}
	p, _ = mgr.Get("chef")
	if p.Name != "chef" || p.SystemMessage != "You are a chef." {
		t.Errorf("Expected trimmed chef persona, got %+v", p)
	}
	if !mgr.HasPersona("coder") {
		t.Error("Expected built-ins to survive overrides")
	}

	overrides := mgr.ListOverrides()
	if len(overrides) != 2 || overrides[0] != "chef" || overrides[1] != "concise" {
		t.Errorf("Expected [chef concise], got %v", overrides)
	}
	if mgr.GetSource("chef") != "user:personas.yaml" {
		t.Errorf("Expected user source, got '%s'", mgr.GetSource("chef"))
	}
}

func TestNewManagerWithOverrides_Directory(t *testing.T) {
	tmpDir := t.TempDir()
	_ = os.WriteFile(filepath.Join(tmpDir, "a.yaml"), []byte("personas:\n  one:\n    system_message: first\n"), 0644)
	_ = os.WriteFile(filepath.Join(tmpDir, "b.yml"), []byte("personas:\n  one:\n    system_message: second\n  two:\n    system_message: other\n"), 0644)
	_ = os.WriteFile(filepath.Join(tmpDir, "readme.md"), []byte("# not yaml"), 0644)
	_ = os.MkdirAll(filepath.Join(tmpDir, "sub"), 0755)
	_ = os.WriteFile(filepath.Join(tmpDir, "sub", "c.yaml"), []byte("personas:\n  three:\n    system_message: nested\n"), 0644)

	mgr, err := NewManagerWithOverrides(tmpDir)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	p, _ := mgr.Get("one")
	if p.SystemMessage != "second" {
		t.Errorf("Expected later files to win, got '%s'", p.SystemMessage)
	}
	if !mgr.HasPersona("two") {
		t.Error("Expected persona 'two' from b.yml")
	}
	if mgr.HasPersona("three") {
		t.Error("Personas from subdirectories should not be loaded")
	}
}

func TestNewManagerWithOverrides_Errors(t *testing.T) {
	tmpDir := t.TempDir()

	invalid := filepath.Join(tmpDir, "invalid.yaml")
	_ = os.WriteFile(invalid, []byte("personas:\n  x: [unclosed\n"), 0644)

	empty := filepath.Join(tmpDir, "empty.yaml")
	_ = os.WriteFile(empty, []byte("personas:\n  x:\n    description: nothing to say\n"), 0644)

	badTemplate := filepath.Join(tmpDir, "template.yaml")
	_ = os.WriteFile(badTemplate, []byte("personas:\n  x:\n    system_message: \"{{.Date\"\n"), 0644)

	for _, path := range []string{invalid, empty, badTemplate, filepath.Join(tmpDir, "missing.yaml")} {
		_, err := NewManagerWithOverrides(path)
		if err == nil {
			t.Errorf("%s: expected error, got nil", filepath.Base(path))
			continue
		}
		if _, ok := err.(*errors.ConfigFileError); !ok {
			t.Errorf("%s: expected ConfigFileError, got %T", filepath.Base(path), err)
		}
	}
}

func TestManager_Names(t *testing.T) {
	mgr := NewManagerFromMap(map[string]string{"b": "x", "a": "y", "c": "z"})

	names := mgr.Names()
	if strings.Join(names, ",") != "a,b,c" {
		t.Errorf("Expected sorted names, got %v", names)
	}
	if mgr.Count() != 3 {
		t.Errorf("Expected 3 personas, got %d", mgr.Count())
	}
}
