// Package completion defines the port for the text-generation model.
package completion

import "context"

// Completer turns a prompt into raw model text. The reply is untrusted:
// callers extract what they need and tolerate garbage.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Func adapts a plain function to Completer.
type Func func(ctx context.Context, prompt string) (string, error)

// Complete calls f.
func (f Func) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
