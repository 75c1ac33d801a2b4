package tools

import (
	"encoding/json"
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"github.com/invopop/jsonschema"
)

var argsReflector = jsonschema.Reflector{
	AllowAdditionalProperties: true,
	DoNotReference:            true,
	ExpandedStruct:            true,
}

// SchemaFor returns the JSON schema of the arguments struct T as a plain map.
// Fields without omitempty are required; descriptions come from
// `jsonschema_description:"..."` tags.
func SchemaFor[T any]() map[string]any {
	schema := argsReflector.Reflect(new(T))
	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("tools: cannot marshal schema for %T: %v", *new(T), err))
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("tools: cannot decode schema for %T: %v", *new(T), err))
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out
}

// DecodeArgs decodes the arguments of a tool call into T. JSON numbers
// arrive as float64 and are converted to the field type.
func DecodeArgs[T any](args map[string]any) (T, error) {
	var out T
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &out,
	})
	if err != nil {
		return out, err
	}
	if err := decoder.Decode(args); err != nil {
		return out, &ModelRetryError{Message: fmt.Sprintf("invalid arguments: %v", err)}
	}
	return out, nil
}
