package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
)

func newAskCmd() *cobra.Command {
	opts := &chatOptions{}

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question and print the answer",
		Example: `  assistant-llm ask "What is the capital of France?"
  assistant-llm ask --backend anthropic --persona concise "Summarize TCP in one line"
  assistant-llm ask --tools "What time is it in Tokyo?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), opts, strings.Join(args, " "))
		},
	}

	cmd.Flags().BoolVarP(&opts.stream, "stream", "s", false, "Print the answer as it is generated")
	cmd.Flags().BoolVarP(&opts.withTools, "tools", "t", false, "Let the model call the built-in tools")
	cmd.Flags().StringVar(&opts.toolsRoot, "tools-root", ".", "Directory the file tools may read")
	cmd.Flags().StringVarP(&opts.persona, "persona", "p", "", "Persona to use instead of conversation.system_message")

	return cmd
}

func init() {
	rootCmd.AddCommand(newAskCmd())
}

func runAsk(ctx context.Context, opts *chatOptions, question string) error {
	s, cc, err := newSession(ctx, opts)
	if err != nil {
		return err
	}
	defer cc.Logger.Sync()
	defer s.provider.Close()

	_, err = s.send(ctx, question)
	return err
}
