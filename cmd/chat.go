package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/AR6420/macos-siri-2.0-sub002/internal/conversation"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/logging"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/prompts"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/tools"
)

type chatOptions struct {
	stream    bool
	withTools bool
	toolsRoot string
	persona   string
	maxTurns  int
}

func newChatCmd() *cobra.Command {
	opts := &chatOptions{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Long: `Start an interactive conversation with the configured backend.

The last conversation.max_turns turns are kept and sent with every message.
Type "exit" or press Ctrl+D to leave, "/reset" to clear the history.

With --tools the model may call the built-in tools (current_time, read_file,
list_files, search_files). File tools only see files below --tools-root.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.stream, "stream", "s", true, "Print answers as they are generated")
	cmd.Flags().BoolVarP(&opts.withTools, "tools", "t", false, "Let the model call the built-in tools")
	cmd.Flags().StringVar(&opts.toolsRoot, "tools-root", ".", "Directory the file tools may read")
	cmd.Flags().StringVarP(&opts.persona, "persona", "p", "", "Persona to use instead of conversation.system_message")
	cmd.Flags().IntVar(&opts.maxTurns, "max-turns", 0, "Turns kept in history (0 = conversation.max_turns)")

	return cmd
}

func init() {
	rootCmd.AddCommand(newChatCmd())
}

func runChat(ctx context.Context, opts *chatOptions) error {
	s, cc, err := newSession(ctx, opts)
	if err != nil {
		return err
	}
	defer cc.Logger.Sync()
	defer s.provider.Close()

	fmt.Fprintf(s.out, "%s %s\n", color.GreenString("Connected to"), s.provider.Name())
	return s.repl(ctx, os.Stdin)
}

// newSession builds the provider, conversation and tool registry described
// by the configuration and opts
func newSession(ctx context.Context, opts *chatOptions) (*session, *CommandContext, error) {
	cc, err := newCommandContext(ctx)
	if err != nil {
		return nil, nil, err
	}
	cfg := cc.Config

	if opts.persona != "" {
		cfg.Conversation.Persona = opts.persona
	}
	if opts.maxTurns > 0 {
		cfg.Conversation.MaxTurns = opts.maxTurns
	}

	personas, err := prompts.NewManagerWithOverrides(cfg.Conversation.PersonaFile)
	if err != nil {
		return nil, nil, err
	}
	systemMessage, err := personas.SystemMessage(cfg.Conversation)
	if err != nil {
		return nil, nil, err
	}

	conv, err := conversation.NewContext(systemMessage, cfg.Conversation.MaxTurns)
	if err != nil {
		return nil, nil, err
	}

	var registry *tools.Registry
	if opts.withTools {
		registry, err = tools.NewDefaultRegistry(opts.toolsRoot, 0, cc.Logger)
		if err != nil {
			return nil, nil, err
		}
	}

	provider, err := cc.Factory.CreateFromConfig(cfg)
	if err != nil {
		return nil, nil, err
	}

	cc.Logger.Info("Session started",
		logging.String("backend", provider.Name()),
		logging.String("persona", cfg.Conversation.Persona),
		logging.Int("max_turns", cfg.Conversation.MaxTurns),
		logging.Bool("tools", opts.withTools),
	)

	return &session{
		provider: provider,
		conv:     conv,
		registry: registry,
		stream:   opts.stream,
		out:      os.Stdout,
		logger:   cc.Logger,
	}, cc, nil
}
