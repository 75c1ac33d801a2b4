package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/AR6420/macos-siri-2.0-sub002/internal/config"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/llm"
)

type backendsOptions struct {
	check   bool
	timeout time.Duration
}

func newBackendsCmd() *cobra.Command {
	opts := &backendsOptions{}

	cmd := &cobra.Command{
		Use:   "backends",
		Short: "List supported backends",
		Long: `List the backend kinds this build supports and the model each one uses.

With --check the selected backend is asked for its health when it can report
it (the on-device Ollama server does) and its installed models are listed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackends(cmd.Context(), os.Stdout, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.check, "check", false, "Check that the selected backend is reachable")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Second, "Timeout for --check")

	return cmd
}

func init() {
	rootCmd.AddCommand(newBackendsCmd())
}

func runBackends(ctx context.Context, w io.Writer, opts *backendsOptions) error {
	cc, err := newCommandContext(ctx)
	if err != nil {
		return err
	}
	defer cc.Logger.Sync()

	printBackends(w, cc.Config, cc.Factory.SupportedBackends())

	if !opts.check {
		return nil
	}

	provider, err := cc.Factory.CreateFromConfig(cc.Config)
	if err != nil {
		return err
	}
	defer provider.Close()

	checkCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	return checkBackend(checkCtx, w, provider)
}

func printBackends(w io.Writer, cfg *config.Config, kinds []string) {
	for _, kind := range kinds {
		model := ""
		if b, ok := cfg.Backends[kind]; ok {
			model = b.Model
		} else if d, ok := config.BuiltinBackendDefaults(kind); ok {
			model = d.Model
		}

		marker := "  "
		name := kind
		if kind == cfg.Backend {
			marker = "* "
			name = color.GreenString(kind)
		}
		fmt.Fprintf(w, "%s%-10s %s\n", marker, name, color.HiBlackString(model))
	}
}

// checkBackend reports the health of providers that can report it. Other
// providers are only known to be configured.
func checkBackend(ctx context.Context, w io.Writer, provider llm.Provider) error {
	hr, ok := llm.Unwrap(provider).(llm.HealthReporter)
	if !ok {
		fmt.Fprintf(w, "\n%s is configured; it does not report health\n", provider.Name())
		return nil
	}

	if err := hr.Heartbeat(ctx); err != nil {
		fmt.Fprintf(w, "\n%s %s\n", color.RedString("✗"), provider.Name())
		return err
	}
	fmt.Fprintf(w, "\n%s %s is reachable\n", color.GreenString("✓"), provider.Name())

	models, err := hr.ListModels(ctx)
	if err != nil {
		return err
	}
	for _, m := range models {
		fmt.Fprintf(w, "  - %s (%s)\n", m.Name, formatSize(m.Size))
	}
	return nil
}

func formatSize(n int64) string {
	const gb = 1 << 30
	if n >= gb {
		return fmt.Sprintf("%.1f GB", float64(n)/gb)
	}
	return fmt.Sprintf("%d MB", n>>20)
}
