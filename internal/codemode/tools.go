package codemode

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// RegisteredTool is a tool the LLM can invoke from inside a codemode block
// (spec.md §3, "RegisteredTool"). Implementation is the body of an async
// function taking (params, context); it is compiled fresh inside each
// per-call Sandbox rather than cached here, since a compiled goja value is
// bound to the Runtime that created it and a Sandbox is rebuilt per
// evaluation (spec.md §4.6.3).
type RegisteredTool struct {
	Name              string          `json:"name"`
	Description       string          `json:"description"`
	ParametersSchema  json.RawMessage `json:"parametersJsonSchema,omitempty"`
	ReturnDescription string          `json:"returnDescription,omitempty"`
	Implementation    string          `json:"implementation"`
}

// toolPromptSource and basePromptSource are the system-prompt-edit
// "source" tags folded back into state to guard against re-emitting the
// same addendum on replay (spec.md §4.6.2).
const basePromptSource = "codemode"

func toolPromptSource(name string) string {
	return "codemode:tool:" + name
}

// ToolPromptAddendum renders the system-prompt-edit content appended the
// first time name is registered in a path (spec.md §4.6.2: "append one
// system-prompt-edit{...} event"). The exact wording is not specified
// further, so this renders the tool's declared contract plainly enough for
// a language model to use it correctly.
func ToolPromptAddendum(t RegisteredTool) string {
	addendum := fmt.Sprintf("Tool %q is available from codemode: %s", t.Name, t.Description)
	if len(t.ParametersSchema) > 0 {
		addendum += fmt.Sprintf("\nParameters (JSON Schema): %s", t.ParametersSchema)
	}
	if t.ReturnDescription != "" {
		addendum += fmt.Sprintf("\nReturns: %s", t.ReturnDescription)
	}
	return addendum
}

// BasePrompt is the one-time codemode base system-prompt addendum appended
// on the first event of any kind for a path (spec.md §4.6.2).
const BasePrompt = `You may emit <codemode>...</codemode> blocks containing an async
function codemode() with no parameters. Its return value becomes the
result of the block. Call any registered tool as a top-level async
function of one argument from inside codemode(). Use emit(event) to
append structured events to the log as a side effect.`

// ValidateParams checks params against a tool's declared JSON Schema, if
// any. Validation is advisory (spec.md §4.6.3, "permitted but currently
// advisory"): callers may log a validation failure without refusing the
// call.
func ValidateParams(t RegisteredTool, params json.RawMessage) error {
	if len(t.ParametersSchema) == 0 {
		return nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(t.Name, mustUnmarshal(t.ParametersSchema)); err != nil {
		return fmt.Errorf("codemode: compile schema for tool %q: %w", t.Name, err)
	}
	schema, err := compiler.Compile(t.Name)
	if err != nil {
		return fmt.Errorf("codemode: compile schema for tool %q: %w", t.Name, err)
	}
	var value any
	if err := json.Unmarshal(params, &value); err != nil {
		return fmt.Errorf("codemode: decode params for tool %q: %w", t.Name, err)
	}
	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("codemode: params for tool %q: %w", t.Name, err)
	}
	return nil
}

func mustUnmarshal(raw json.RawMessage) any {
	var v any
	_ = json.Unmarshal(raw, &v)
	return v
}
