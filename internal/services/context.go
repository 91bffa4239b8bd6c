package services

import "context"

type contextKey int

const (
	assetIDKey contextKey = iota
	sessionIDKey
)

// WithAssetID tags ctx with the catalog asset a download or lookup concerns.
func WithAssetID(ctx context.Context, id string) context.Context {
	return withValue(ctx, assetIDKey, id)
}

// AssetIDFromContext returns the asset id set by WithAssetID.
func AssetIDFromContext(ctx context.Context) (string, bool) {
	return value(ctx, assetIDKey)
}

// WithSessionID tags ctx with the worker process session serving a call.
func WithSessionID(ctx context.Context, id string) context.Context {
	return withValue(ctx, sessionIDKey, id)
}

// SessionIDFromContext returns the session id set by WithSessionID.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	return value(ctx, sessionIDKey)
}

func withValue(ctx context.Context, key contextKey, v string) context.Context {
	if v == "" {
		return ctx
	}
	return context.WithValue(ctx, key, v)
}

func value(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(key).(string)
	return v, ok && v != ""
}
