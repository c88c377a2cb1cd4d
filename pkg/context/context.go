package context

import "context"

type ContextKey string

var (
	RequestIDKey      = ContextKey("X-Request-Id")
	RouteKey          = ContextKey("X-Route")
	ActorKey          = ContextKey("X-Actor")
	JobIDKey          = ContextKey("X-Job-Id")
	GlobalObjectIDKey = ContextKey("X-Global-Object-Id")
)

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	return getString(ctx, RequestIDKey)
}

func SetRoute(ctx context.Context, route string) context.Context {
	return context.WithValue(ctx, RouteKey, route)
}

func GetRoute(ctx context.Context) string {
	return getString(ctx, RouteKey)
}

// SetActor stores the user or service that triggered an import.
func SetActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

func GetActor(ctx context.Context) string {
	return getString(ctx, ActorKey)
}

// ActorRef returns the actor as an optional reference, nil when unset.
func ActorRef(ctx context.Context) *string {
	actor := GetActor(ctx)
	if actor == "" {
		return nil
	}
	return &actor
}

func SetJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, JobIDKey, jobID)
}

func GetJobID(ctx context.Context) string {
	return getString(ctx, JobIDKey)
}

func SetGlobalObjectID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, GlobalObjectIDKey, id)
}

func GetGlobalObjectID(ctx context.Context) string {
	return getString(ctx, GlobalObjectIDKey)
}

// LogFields collects the pipeline identifiers present on ctx for structured logging.
func LogFields(ctx context.Context) map[string]any {
	fields := map[string]any{}
	for _, key := range []ContextKey{RequestIDKey, ActorKey, JobIDKey, GlobalObjectIDKey} {
		if v := getString(ctx, key); v != "" {
			fields[string(key)] = v
		}
	}
	return fields
}

func getString(ctx context.Context, key ContextKey) string {
	value, ok := ctx.Value(key).(string)
	if !ok {
		return ""
	}
	return value
}
