package capsuleauth

import "context"

type requestIDContextKey struct{}

// WithRequestID attaches the X-Request-ID value Fetch sends for calls made
// with ctx. Without it every call gets a fresh random id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, id)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDContextKey{}).(string)
	return id
}
