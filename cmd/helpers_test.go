package cmd

import (
	"bytes"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/AR6420/macos-siri-2.0-sub002/internal/config"
	appErrors "github.com/AR6420/macos-siri-2.0-sub002/internal/errors"
)

func init() {
	color.NoColor = true
}

// TestInitLogger_CreatesLogDir tests that the file sink lands in log_dir
func TestInitLogger_CreatesLogDir(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "logs")

	logger, err := InitLogger(config.LoggingConfig{LogDir: logDir, FileLevel: "info", ConsoleLevel: "warn"}, false)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	logger.Info("hello")
	logger.Sync()

	data, err := os.ReadFile(filepath.Join(logDir, "assistant-llm.log"))
	if err != nil {
		t.Fatalf("Expected log file to be created, got %v", err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) {
		t.Errorf("Expected JSON log line, got %s", data)
	}
}

// TestInitLogger_WithoutLogDir tests that an empty log_dir disables the file sink
func TestInitLogger_WithoutLogDir(t *testing.T) {
	tmpDir := t.TempDir()
	originalDir, _ := os.Getwd()
	os.Chdir(tmpDir)
	defer os.Chdir(originalDir)

	logger, err := InitLogger(config.LoggingConfig{FileLevel: "info", ConsoleLevel: "error"}, true)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer logger.Sync()

	entries, _ := os.ReadDir(tmpDir)
	if len(entries) != 0 {
		t.Errorf("Expected no files to be created, got %d", len(entries))
	}
}

// TestHandleCommandError_NilError tests that nil error returns nil
func TestHandleCommandError_NilError(t *testing.T) {
	var buf bytes.Buffer
	if err := HandleCommandError(&buf, nil); err != nil {
		t.Errorf("Expected nil, got %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("Expected no output, got %q", buf.String())
	}
}

// TestHandleCommandError_UserMessage tests that package errors print their actionable message
func TestHandleCommandError_UserMessage(t *testing.T) {
	var buf bytes.Buffer
	original := appErrors.NewMissingEnvVarError("OPENAI_API_KEY", "openai")

	err := HandleCommandError(&buf, original)
	if err != original {
		t.Errorf("Expected the original error to be returned")
	}

	out := buf.String()
	if !strings.HasPrefix(out, "ERROR: ") || !strings.Contains(out, "OPENAI_API_KEY") || !strings.Contains(out, "What you can do") {
		t.Errorf("Expected user message with suggestions, got %q", out)
	}
}

// TestHandleCommandError_ProviderError tests that wrapped provider errors keep their message
func TestHandleCommandError_ProviderError(t *testing.T) {
	var buf bytes.Buffer
	pe := appErrors.NewProviderError(appErrors.KindRateLimit, "openai", "rate limit exceeded", nil)

	HandleCommandError(&buf, pe)

	if !strings.Contains(buf.String(), "rate limit exceeded") {
		t.Errorf("Expected provider message, got %q", buf.String())
	}
}

// TestHandleCommandError_PlainError tests errors from outside the errors package
func TestHandleCommandError_PlainError(t *testing.T) {
	var buf bytes.Buffer
	HandleCommandError(&buf, stderrors.New("boom"))

	if buf.String() != "Error: boom\n" {
		t.Errorf("Expected 'Error: boom', got %q", buf.String())
	}
}

func TestCliOverrides(t *testing.T) {
	defer func() { backendFlag, modelFlag, debugFlag = "", "", false }()

	if len(cliOverrides()) != 0 {
		t.Errorf("Expected no overrides without flags, got %v", cliOverrides())
	}

	backendFlag, modelFlag, debugFlag = "anthropic", "claude-3-haiku", true
	o := cliOverrides()
	if o["backend"] != "anthropic" || o["model"] != "claude-3-haiku" || o["debug"] != true {
		t.Errorf("Unexpected overrides %v", o)
	}
}

func TestRunConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "assistant-llm.yaml")
	var buf bytes.Buffer

	if err := runConfigInit(&buf, path, false); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !strings.Contains(buf.String(), "Wrote "+path) {
		t.Errorf("Unexpected output %q", buf.String())
	}

	cfg, err := config.LoadConfig(path, nil)
	if err != nil {
		t.Fatalf("Expected the written file to load, got %v", err)
	}
	if cfg.Backend != config.BackendOllama || cfg.Conversation.MaxTurns != 10 {
		t.Errorf("Expected defaults to round-trip, got backend=%s max_turns=%d", cfg.Backend, cfg.Conversation.MaxTurns)
	}

	err = runConfigInit(&buf, path, false)
	if !appErrors.IsConfigurationError(err) {
		t.Errorf("Expected configuration error for an existing file, got %v", err)
	}
	if err := runConfigInit(&buf, path, true); err != nil {
		t.Errorf("Expected --force to overwrite, got %v", err)
	}
}

func TestRunConfigShow_MasksInlineKeys(t *testing.T) {
	cfg := config.DefaultConfig()
	b := cfg.Backends[config.BackendOpenAI]
	b.APIKey = "sk-abcdefghijklmnop"
	cfg.Backends[config.BackendOpenAI] = b

	var buf bytes.Buffer
	if err := runConfigShow(&buf, cfg); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "sk-abcdefghijklmnop") {
		t.Error("Expected inline api_key to be masked")
	}
	if !strings.Contains(out, "sk-a****mnop") {
		t.Errorf("Expected masked key in output, got %s", out)
	}
}
