package tools

import (
	"context"
	"fmt"

	"github.com/abairt/gaelgate/bridge"
)

// Canonical tool names. tools/list must always report these.
const (
	ToolSpellCheck   = "spell.check"
	ToolGrammarCheck = "grammar.check"
	ToolHelloEcho    = "hello.echo"
)

// CheckArgs is the shared input contract of both linguistic tools.
type CheckArgs struct {
	Text string `json:"text" jsonschema:"required" jsonschema_description:"Irish text to analyze"`
}

// NewSpellTool binds spell.check to a GaelSpell bridge client.
func NewSpellTool(checker *bridge.SpellChecker) Tool {
	return New[CheckArgs](ToolSpellCheck, "Irish spelling check via GaelSpell",
		func(ctx context.Context, args map[string]any) (map[string]any, error) {
			text, _ := args["text"].(string)
			issues, err := checker.Check(ctx, text)
			if err != nil {
				return nil, err
			}
			return map[string]any{"issues": issues}, nil
		})
}

// NewGrammarTool binds grammar.check to an An Gramadóir bridge client.
func NewGrammarTool(checker *bridge.GrammarChecker) Tool {
	return New[CheckArgs](ToolGrammarCheck, "Irish grammar check via An Gramadóir",
		func(ctx context.Context, args map[string]any) (map[string]any, error) {
			text, _ := args["text"].(string)
			issues, err := checker.Analyze(ctx, text)
			if err != nil {
				return nil, err
			}
			return map[string]any{"issues": issues}, nil
		})
}

// EchoArgs is the input contract of hello.echo.
type EchoArgs struct {
	Name string `json:"name,omitempty" jsonschema_description:"Name to greet"`
}

// NewHelloTool builds the trivial greeting tool. It never touches the
// network and exists so transports can be exercised without upstreams.
func NewHelloTool() Tool {
	return New[EchoArgs](ToolHelloEcho, "Return a friendly greeting",
		func(ctx context.Context, args map[string]any) (map[string]any, error) {
			name, _ := args["name"].(string)
			if name == "" {
				name = "world"
			}
			return map[string]any{"message": fmt.Sprintf("Dia dhuit, %s!", name)}, nil
		})
}
