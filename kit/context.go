package kit

import "context"

// Call describes the request an operation runs for. It travels in the
// context as a single value; the With helpers copy it.
type Call struct {
	Transport  string // "http" or "mcp"
	RequestID  string
	TraceID    string
	RemoteAddr string
}

type callKey struct{}

// CallFrom returns the Call carried by ctx, zero if none.
func CallFrom(ctx context.Context) Call {
	c, _ := ctx.Value(callKey{}).(Call)
	return c
}

func with(ctx context.Context, set func(*Call)) context.Context {
	c := CallFrom(ctx)
	set(&c)
	return context.WithValue(ctx, callKey{}, c)
}

func WithTransport(ctx context.Context, t string) context.Context {
	return with(ctx, func(c *Call) { c.Transport = t })
}

// GetTransport defaults to "http".
func GetTransport(ctx context.Context) string {
	if t := CallFrom(ctx).Transport; t != "" {
		return t
	}
	return "http"
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return with(ctx, func(c *Call) { c.RequestID = id })
}

func GetRequestID(ctx context.Context) string { return CallFrom(ctx).RequestID }

func WithTraceID(ctx context.Context, id string) context.Context {
	return with(ctx, func(c *Call) { c.TraceID = id })
}

func GetTraceID(ctx context.Context) string { return CallFrom(ctx).TraceID }

func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return with(ctx, func(c *Call) { c.RemoteAddr = addr })
}

func GetRemoteAddr(ctx context.Context) string { return CallFrom(ctx).RemoteAddr }
