package kit

import "context"

type contextKey string

const (
	TransportKey  contextKey = "kit_transport"
	RequestIDKey  contextKey = "kit_request_id"
	RemoteAddrKey contextKey = "kit_remote_addr"
)

// Transport names set by the mirror's surfaces.
const (
	TransportHTTP      = "http"
	TransportWebSocket = "websocket"
	TransportSpool     = "spool"
	TransportMCP       = "mcp"
	TransportJournal   = "journal"
)

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}

// GetTransport returns the transport stored in ctx, "http" when unset.
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok {
		return v
	}
	return TransportHTTP
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}

func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, RemoteAddrKey, addr)
}
func GetRemoteAddr(ctx context.Context) string {
	v, _ := ctx.Value(RemoteAddrKey).(string)
	return v
}

// LogAttrs returns the transport and, when set, the request id and remote
// address of ctx as slog key/value pairs.
func LogAttrs(ctx context.Context) []any {
	attrs := []any{"transport", GetTransport(ctx)}
	if id := GetRequestID(ctx); id != "" {
		attrs = append(attrs, "request_id", id)
	}
	if addr := GetRemoteAddr(ctx); addr != "" {
		attrs = append(attrs, "remote_addr", addr)
	}
	return attrs
}
