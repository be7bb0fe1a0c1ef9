package errors

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"
)

// ErrorHandler wraps an http.Handler and turns panics into a JSON 500
func ErrorHandler(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.Any("error", rec),
						zap.ByteString("stacktrace", debug.Stack()),
						zap.String("request_id", w.Header().Get("X-Request-ID")),
					)
					WriteError(w, http.StatusInternalServerError, NewInternalError(nil))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// LogError logs a run failure with its context
func LogError(logger *zap.Logger, err error, runID string) {
	var actorErr *ActorError
	if As(err, &actorErr) {
		fields := []zap.Field{
			zap.String("error_type", string(actorErr.Type)),
			zap.String("message", actorErr.Message),
			zap.String("run_id", runID),
			zap.Any("details", actorErr.Details),
		}
		if cause := actorErr.Unwrap(); cause != nil {
			fields = append(fields, zap.NamedError("cause", cause))
		}
		logger.Error("run failed", fields...)
		return
	}

	logger.Error("unexpected error",
		zap.Error(err),
		zap.String("run_id", runID),
	)
}
