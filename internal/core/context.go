package core

import "context"

type contextKey string

const ctxKeyRequestInfo contextKey = "request_info"

// RequestInfo identifies the client behind an operation for the audit log.
type RequestInfo struct {
	IPAddress string
	UserAgent string
}

// WithRequestInfo attaches client details to ctx.
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, ctxKeyRequestInfo, info)
}

// RequestInfoFrom returns the client details attached to ctx, if any.
func RequestInfoFrom(ctx context.Context) RequestInfo {
	info, _ := ctx.Value(ctxKeyRequestInfo).(RequestInfo)
	return info
}
