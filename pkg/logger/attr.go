package logger

import "log/slog"

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// TenantID records the tenant identifier under the key "tenant_id".
// If id is nil, it returns an empty Attr.
func TenantID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("tenant_id", id)
}

// Provider records the payment provider name under the key "provider".
func Provider(name string) slog.Attr {
	return slog.String("provider", name)
}

// EventID records the webhook event identifier under the key "event_id".
func EventID(id string) slog.Attr {
	return slog.String("event_id", id)
}
