package tools

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AR6420/macos-siri-2.0-sub002/internal/errors"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/llmtypes"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/logging"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/worker_pool"
)

// Result is the outcome of one tool call, ready to be added to a
// conversation as a tool message
type Result struct {
	CallID  string
	Name    string
	Content string
	// Err is set when the tool failed. Content then holds the message the
	// model sees.
	Err error
}

// Registry holds the tools offered to the model and executes its calls
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	pool   *worker_pool.WorkerPool
	logger *logging.Logger
}

// NewRegistry creates an empty registry. maxParallel bounds how many calls
// ExecuteAll runs at once; <= 0 uses the number of CPUs.
func NewRegistry(maxParallel int, logger *logging.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]Tool),
		pool:   worker_pool.NewWorkerPool(maxParallel),
		logger: logging.OrNop(logger).Named("tools"),
	}
}

// Register adds tools. Names must be unique.
func (r *Registry) Register(tools ...Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tools {
		if t.Name() == "" {
			return errors.NewConfigurationError("cannot register a tool without a name")
		}
		if _, exists := r.tools[t.Name()]; exists {
			return errors.NewConfigurationError(fmt.Sprintf("tool %q is already registered", t.Name()))
		}
		r.tools[t.Name()] = t
	}
	return nil
}

// Get returns the tool registered under name
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the definitions of every registered tool, sorted by name
func (r *Registry) Definitions() []llmtypes.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]llmtypes.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, Definition(t))
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute runs one tool call. Failures never abort the conversation: they
// are reported in the result so the model can react to them.
func (r *Registry) Execute(ctx context.Context, call llmtypes.ToolCall) Result {
	result := Result{CallID: call.ID, Name: call.Name}

	t, ok := r.Get(call.Name)
	if !ok {
		result.Err = &ModelRetryError{Message: fmt.Sprintf("unknown tool %q", call.Name)}
		result.Content = "Error: " + result.Err.Error()
		return result
	}

	start := time.Now()
	value, err := t.Execute(ctx, call.Arguments)
	if err != nil {
		result.Err = err
		result.Content = "Error: " + err.Error()

		var retry *ModelRetryError
		if !stderrors.As(err, &retry) {
			r.logger.Warn("Tool failed",
				logging.String("tool", call.Name),
				logging.String("call_id", call.ID),
				logging.Error(err),
			)
		}
		return result
	}

	result.Content = TruncateString(render(value), MaxToolResponseSize)
	r.logger.Debug("Tool executed",
		logging.String("tool", call.Name),
		logging.String("call_id", call.ID),
		logging.Duration("elapsed", time.Since(start)),
		logging.Int("bytes", len(result.Content)),
	)
	return result
}

// ExecuteAll runs independent tool calls concurrently and returns their
// results in call order
func (r *Registry) ExecuteAll(ctx context.Context, calls []llmtypes.ToolCall) []Result {
	tasks := make([]worker_pool.Task[Result], len(calls))
	for i, call := range calls {
		tasks[i] = func(ctx context.Context) (Result, error) {
			return r.Execute(ctx, call), nil
		}
	}

	out := make([]Result, len(calls))
	for i, res := range worker_pool.Run(ctx, r.pool, tasks) {
		out[i] = res.Value
		if res.Error != nil {
			out[i] = Result{
				CallID:  calls[i].ID,
				Name:    calls[i].Name,
				Content: "Error: " + res.Error.Error(),
				Err:     res.Error,
			}
		}
	}
	return out
}

func render(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(data)
}

// NewDefaultRegistry returns a registry with current_time and the file
// tools confined to root
func NewDefaultRegistry(root string, maxParallel int, logger *logging.Logger) (*Registry, error) {
	readFile, err := NewFileReadTool(root)
	if err != nil {
		return nil, err
	}
	listFiles, err := NewListFilesTool(root)
	if err != nil {
		return nil, err
	}
	search, err := NewSearchFilesTool(root)
	if err != nil {
		return nil, err
	}

	r := NewRegistry(maxParallel, logger)
	if err := r.Register(NewCurrentTimeTool(nil), readFile, listFiles, search); err != nil {
		return nil, err
	}
	return r, nil
}
