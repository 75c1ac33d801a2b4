package tools

import (
	"context"
	"fmt"
	"time"
)

// CurrentTimeArgs are the arguments of current_time
type CurrentTimeArgs struct {
	Zone string `json:"zone,omitempty" jsonschema_description:"IANA time zone such as Europe/Paris. Default: the local zone"`
}

// CurrentTimeResult is what current_time returns to the model
type CurrentTimeResult struct {
	Time    string `json:"time"`
	Zone    string `json:"zone"`
	Weekday string `json:"weekday"`
}

// CurrentTimeTool reports the current date and time
type CurrentTimeTool struct {
	now func() time.Time
}

// NewCurrentTimeTool creates a current_time tool. now defaults to time.Now.
func NewCurrentTimeTool(now func() time.Time) *CurrentTimeTool {
	if now == nil {
		now = time.Now
	}
	return &CurrentTimeTool{now: now}
}

func (t *CurrentTimeTool) Name() string {
	return "current_time"
}

func (t *CurrentTimeTool) Description() string {
	return "Get the current date and time, optionally in a given time zone."
}

func (t *CurrentTimeTool) Parameters() map[string]any {
	return SchemaFor[CurrentTimeArgs]()
}

func (t *CurrentTimeTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	args, err := DecodeArgs[CurrentTimeArgs](params)
	if err != nil {
		return nil, err
	}

	now := t.now()
	if args.Zone != "" {
		loc, err := time.LoadLocation(args.Zone)
		if err != nil {
			return nil, &ModelRetryError{Message: fmt.Sprintf("unknown time zone %q", args.Zone)}
		}
		now = now.In(loc)
	}

	return CurrentTimeResult{
		Time:    now.Format(time.RFC3339),
		Zone:    now.Location().String(),
		Weekday: now.Weekday().String(),
	}, nil
}
