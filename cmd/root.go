package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AR6420/macos-siri-2.0-sub002/internal/errors"
)

var (
	configPath  string
	debugFlag   bool
	backendFlag string
	modelFlag   string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "assistant-llm",
	Short: "Talk to on-device and cloud language models through one interface",
	Long: `assistant-llm is the inference layer of the voice assistant.

It sends conversations to an on-device Ollama server or to the OpenAI,
Anthropic and Gemini cloud APIs, normalizes their answers, retries transient
failures and keeps a bounded conversation history.

Configuration is read from ~/.assistant-llm.yaml and ./assistant-llm.yaml
(or --config), then from ASSISTANT_* environment variables. Credentials are
referenced by environment variable name and may live in a .env file.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with the code of the error, if any
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		HandleCommandError(os.Stderr, err)
		os.Exit(errors.ExitCodeOf(err).Int())
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ./assistant-llm.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Enable debug logging on the console")
	rootCmd.PersistentFlags().StringVarP(&backendFlag, "backend", "b", "", "Backend to use (ollama, openai, anthropic, gemini)")
	rootCmd.PersistentFlags().StringVarP(&modelFlag, "model", "m", "", "Model to use for the selected backend")
}

// cliOverrides returns the persistent flags that were set, keyed like the
// configuration file
func cliOverrides() map[string]any {
	overrides := map[string]any{}
	if backendFlag != "" {
		overrides["backend"] = backendFlag
	}
	if modelFlag != "" {
		overrides["model"] = modelFlag
	}
	if debugFlag {
		overrides["debug"] = true
	}
	return overrides
}
