package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/lending-backend/pkg/logger"
)

const (
	requestIDHeader = "X-Request-Id"
	clientIDHeader  = "X-Client-Id"
	maxHeaderIDLen  = 128
)

// RequestID assigns every request an id, echoes it back and threads it, with
// the optional client id, into the logging context.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := headerID(r, requestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, reqID)

			ctx := WithRequestID(r.Context(), reqID)
			clientID := headerID(r, clientIDHeader)
			if clientID != "" {
				ctx = WithClientID(ctx, clientID)
			}
			if logg != nil {
				ctx = logg.WithRequestID(ctx, reqID)
				if clientID != "" {
					ctx = logg.WithField(ctx, "client_id", clientID)
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func headerID(r *http.Request, name string) string {
	value := strings.TrimSpace(r.Header.Get(name))
	if len(value) > maxHeaderIDLen {
		return ""
	}
	return value
}
