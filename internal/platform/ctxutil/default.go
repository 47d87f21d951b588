package ctxutil

import "context"

// Default guards against nil contexts leaking into drivers that panic on them.
func Default(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
