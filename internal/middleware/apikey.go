// Package middleware содержит HTTP middleware для сервиса doorprize.
package middleware

import (
	"crypto/hmac"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// APIKeyHeader задаёт заголовок, в котором клиент передаёт секрет API.
const APIKeyHeader = "x-api-key"

// AccessDeniedMessage возвращается клиенту при неверном или отсутствующем ключе.
const AccessDeniedMessage = "Access denied. You do not have permission to perform this operation."

// APIKeyMiddleware пропускает только запросы с верным ключом API.
type APIKeyMiddleware struct {
	secretKey []byte
	logger    *zap.Logger
}

// NewAPIKeyMiddleware создаёт новый экземпляр APIKeyMiddleware с указанным секретом.
func NewAPIKeyMiddleware(secret string, logger *zap.Logger) *APIKeyMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIKeyMiddleware{
		secretKey: []byte(secret),
		logger:    logger,
	}
}

// Middleware сравнивает заголовок x-api-key с секретом за постоянное время.
func (a *APIKeyMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(APIKeyHeader)
		if key == "" || len(a.secretKey) == 0 || !hmac.Equal([]byte(key), a.secretKey) {
			a.logger.Debug("api key rejected",
				zap.String("path", r.URL.Path),
				zap.String("remote", r.RemoteAddr),
				zap.Bool("header_present", key != ""),
			)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": AccessDeniedMessage})
			return
		}

		next.ServeHTTP(w, r)
	})
}
