package adk

import "context"

// InstructionProvider yields the agent's system instruction. Static strings
// and functions are both supported so request-scoped wrappers can extend
// either without caring which they hold.
type InstructionProvider interface {
	Instruction(ctx context.Context) (string, error)
}

// StaticInstruction is a fixed instruction string.
type StaticInstruction string

// Instruction returns the string.
func (s StaticInstruction) Instruction(context.Context) (string, error) {
	return string(s), nil
}

// InstructionFunc adapts a function to InstructionProvider.
type InstructionFunc func(ctx context.Context) (string, error)

// Instruction calls the function.
func (f InstructionFunc) Instruction(ctx context.Context) (string, error) {
	return f(ctx)
}

// AppendInstruction wraps base so that extra is appended after whatever base
// produces, separated by a blank line. A nil base yields extra alone.
func AppendInstruction(base InstructionProvider, extra string) InstructionProvider {
	return InstructionFunc(func(ctx context.Context) (string, error) {
		if base == nil {
			return extra, nil
		}
		original, err := base.Instruction(ctx)
		if err != nil {
			return "", err
		}
		if original == "" {
			return extra, nil
		}
		return original + "\n\n" + extra, nil
	})
}

// Agent describes the configured agent the bridge runs. The bridge never
// mutates the configured Agent; per-request modifications (client tools,
// system message instructions) operate on a Clone.
type Agent struct {
	Name        string
	Description string
	Instruction InstructionProvider
	Tools       []Tool
}

// Clone returns a copy with its own tools slice, safe for per-request
// modification.
func (a *Agent) Clone() *Agent {
	tools := make([]Tool, len(a.Tools))
	copy(tools, a.Tools)
	return &Agent{
		Name:        a.Name,
		Description: a.Description,
		Instruction: a.Instruction,
		Tools:       tools,
	}
}

// HasTool reports whether the agent declares a tool with the given name.
func (a *Agent) HasTool(name string) bool {
	for _, t := range a.Tools {
		if t.Name() == name {
			return true
		}
	}
	return false
}
