package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/AR6420/macos-siri-2.0-sub002/internal/conversation"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/errors"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/llm"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/logging"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/tools"
)

// maxToolRounds bounds how many tool round trips one user message may cause
const maxToolRounds = 8

// session drives one conversation against a provider and prints it
type session struct {
	provider llm.Provider
	conv     *conversation.Context
	registry *tools.Registry // nil disables tools
	stream   bool
	out      io.Writer
	logger   *logging.Logger
}

// send adds text as a user message and prints the answer. Tool calls are
// executed and their results fed back until the model answers with text.
func (s *session) send(ctx context.Context, text string) (string, error) {
	s.conv.AddUserMessage(text)

	// Tool calls only arrive in complete results, so streaming is limited to
	// sessions without tools.
	if s.registry == nil && s.stream {
		return s.streamAnswer(ctx)
	}

	var opts []llm.CallOption
	if s.registry != nil {
		opts = append(opts, llm.WithTools(s.registry.Definitions()...))
	}

	for round := 0; ; round++ {
		result, err := s.provider.Complete(ctx, s.conv.GetMessages(), opts...)
		if err != nil {
			return "", err
		}
		s.conv.AddAssistantResult(result)

		s.logger.Debug("Completion received",
			logging.String("finish_reason", string(result.FinishReason)),
			logging.Int("tokens", result.TokensUsed),
			logging.Int("tool_calls", len(result.ToolCalls)),
		)

		if !result.HasToolCalls() || s.registry == nil {
			s.printAssistant(result.Content)
			return result.Content, nil
		}
		if round == maxToolRounds {
			return "", errors.NewError(fmt.Sprintf("model kept calling tools after %d rounds", maxToolRounds), errors.ExitLLMError)
		}

		if result.Content != "" {
			s.printAssistant(result.Content)
		}
		for _, tc := range result.ToolCalls {
			args, _ := json.Marshal(tc.Arguments)
			fmt.Fprintf(s.out, "%s%s\n", color.YellowString(tc.Name), args)
		}

		for _, res := range s.registry.ExecuteAll(ctx, result.ToolCalls) {
			if err := s.conv.AddToolResult(res.CallID, res.Content, res.Name); err != nil {
				return "", err
			}
		}
	}
}

func (s *session) streamAnswer(ctx context.Context) (string, error) {
	var sb strings.Builder
	fmt.Fprint(s.out, color.MagentaString("Assistant")+": ")
	for fragment, err := range s.provider.StreamComplete(ctx, s.conv.GetMessages()) {
		if err != nil {
			fmt.Fprintln(s.out)
			// Keep what arrived so the history matches what the user saw,
			// unless the user interrupted the answer
			if sb.Len() > 0 && ctx.Err() == nil {
				s.conv.AddAssistantMessage(sb.String())
			}
			return "", err
		}
		sb.WriteString(fragment)
		fmt.Fprint(s.out, fragment)
	}
	fmt.Fprintln(s.out)

	s.conv.AddAssistantMessage(sb.String())
	return sb.String(), nil
}

func (s *session) printAssistant(content string) {
	fmt.Fprintf(s.out, "%s: %s\n", color.MagentaString("Assistant"), content)
}

// repl reads user messages from in until EOF or "exit". A failed message is
// reported and the loop continues; only cancellation ends it early.
func (s *session) repl(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprintf(s.out, "%s: ", color.CyanString("User"))
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}

		input := strings.TrimSpace(scanner.Text())
		switch {
		case input == "":
			continue
		case strings.EqualFold(input, "exit"), strings.EqualFold(input, "quit"):
			return nil
		case input == "/reset":
			s.conv.Reset()
			fmt.Fprintln(s.out, color.HiBlackString("(history cleared)"))
			continue
		}

		if _, err := s.send(ctx, input); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			HandleCommandError(s.out, err)
		}
	}
}
