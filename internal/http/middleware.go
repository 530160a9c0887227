package http

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type contextKey string

const (
	userIDKey    contextKey = "user_id"
	vendorIDKey  contextKey = "vendor_id"
	requestIDKey contextKey = "request_id"
)

// MockAuthMiddleware stands in for token validation: the bearer token is
// taken as the user id and X-Vendor-ID names the vendor the user acts for.
func MockAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		token = strings.TrimSpace(token)
		if !ok || token == "" {
			respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, token)
		if vendorID := r.Header.Get("X-Vendor-ID"); vendorID != "" {
			ctx = context.WithValue(ctx, vendorIDKey, vendorID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDMiddleware adds a unique request ID to each request
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = fmt.Sprintf("req-%d", time.Now().UnixNano())
		}

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func getUserIDFromContext(ctx context.Context) string {
	if userID, ok := ctx.Value(userIDKey).(string); ok {
		return userID
	}
	return ""
}

func getVendorIDFromContext(ctx context.Context) string {
	if vendorID, ok := ctx.Value(vendorIDKey).(string); ok {
		return vendorID
	}
	return ""
}

func getRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}
