package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// InternalErrorMessage возвращается клиенту, если обработчик завершился паникой.
const InternalErrorMessage = "Terjadi kesalahan pada server"

// Recoverer перехватывает панику обработчика, пишет её в журнал со стеком
// и отвечает 500 с JSON-телом {"error": ...}.
func Recoverer(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				logger.Error("handler panic",
					zap.Any("panic", rec),
					zap.String("method", r.Method),
					zap.String("uri", r.RequestURI),
					zap.Stack("stack"),
				)

				if r.Header.Get("Connection") == "Upgrade" {
					return
				}

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": InternalErrorMessage})
			}()

			next.ServeHTTP(w, r)
		})
	}
}
