package synthesis

import (
	"fmt"
	"strings"

	"ontogen/internal/schema"
)

// DefaultSystemPrompt is sent when no system prompt is configured.
const DefaultSystemPrompt = "You write small, self-contained data transformation functions. " +
	"Reply with code only, inside one fenced code block."

// DefaultEntryPoint is the function name every payload must define.
const DefaultEntryPoint = "transform"

// PromptRequest describes one synthesis attempt.
type PromptRequest struct {
	StartType   string
	StartSchema schema.Schema
	EndType     string
	EndSchema   schema.Schema

	// Set from the second attempt on.
	PreviousCode  string
	PreviousError string
}

// PromptBuilder renders generation prompts for one payload language.
type PromptBuilder struct {
	Language   string
	EntryPoint string
}

// NewPromptBuilder returns a builder for language ("python" or "go").
func NewPromptBuilder(language string) PromptBuilder {
	return PromptBuilder{Language: strings.ToLower(language), EntryPoint: DefaultEntryPoint}
}

func (b PromptBuilder) entryPoint() string {
	if b.EntryPoint == "" {
		return DefaultEntryPoint
	}
	return b.EntryPoint
}

// Build renders the prompt. Feedback from a failed attempt is appended only
// when both its code and error are known.
func (b PromptBuilder) Build(req PromptRequest) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are an expert %s developer.\n", b.languageName())
	fmt.Fprintf(&sb, "We have a data type '%s' with schema:\n%s\n\n", req.StartType, req.StartSchema.JSON())
	fmt.Fprintf(&sb, "We need to transform it into '%s' with schema:\n%s\n\n", req.EndType, req.EndSchema.JSON())
	sb.WriteString(b.signature())
	fmt.Fprintf(&sb, "The input is a value of type %s.\n", req.StartType)
	sb.WriteString("The output must strictly adhere to the target schema.\n")
	if schema.IsTripleCollection(req.EndType, req.EndSchema) {
		sb.WriteString("The output is a knowledge graph: emit a non-empty list of triples, each with subject, predicate and object. Prefer specific predicates such as hasName or hasRole.\n")
	}
	if b.Language == "go" {
		sb.WriteString("Only import packages from the Go standard library.\n")
	}
	fmt.Fprintf(&sb, "Return ONLY the %s code, wrapped in a markdown code block.\n", b.Language)

	if req.PreviousError != "" {
		sb.WriteString("\nPREVIOUS ATTEMPT FAILED.\n")
		if req.PreviousCode != "" {
			fmt.Fprintf(&sb, "CODE:\n```%s\n%s\n```\n\n", b.Language, req.PreviousCode)
		}
		fmt.Fprintf(&sb, "ERROR:\n%s\n\n", req.PreviousError)
		sb.WriteString("Fix the code to resolve the error.\n")
	}
	return sb.String()
}

func (b PromptBuilder) languageName() string {
	switch b.Language {
	case "go":
		return "Go"
	case "python", "":
		return "Python"
	default:
		return b.Language
	}
}

func (b PromptBuilder) signature() string {
	switch b.Language {
	case "go":
		return fmt.Sprintf("Write a Go function `func %s(input interface{}) (interface{}, error)` in package main that performs this conversion.\n", b.entryPoint())
	default:
		return fmt.Sprintf("Write a Python function `%s(input_data) -> output_data` that performs this conversion.\n", b.entryPoint())
	}
}
