package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/parleyhq/parley/internal/llm"
)

const defaultPersona = "You are a helpful assistant."

// PromptConfig controls system prompt generation.
type PromptConfig struct {
	Persona string
	Tools   []llm.ToolDefinition
}

// BuildSystemPrompt constructs the system prompt sent with every
// generation call. Tool schemas travel in the request itself; the prompt
// only establishes persona and usage guidelines.
func BuildSystemPrompt(cfg PromptConfig) string {
	var b strings.Builder

	persona := cfg.Persona
	if persona == "" {
		persona = defaultPersona
	}
	b.WriteString(persona)
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("Current date: %s\n\n", time.Now().Format("2006-01-02")))

	b.WriteString("Guidelines:\n")
	b.WriteString("- When using tools, explain what you're doing.\n")
	b.WriteString("- If a tool fails, tell the user what went wrong instead of retrying endlessly.\n")

	if len(cfg.Tools) > 0 {
		b.WriteString("\nAvailable tools:\n")
		for _, t := range cfg.Tools {
			fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
		}
	}

	return b.String()
}
