package utils

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// GetRequestID returns the request ID stored by WithRequestID, or "".
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithRequestID stores a request ID in ctx. The logging middleware calls this
// for every request so responses and log lines can be correlated.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// ErrorResponse is the body of every error answered by the API.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// RespondWithError writes an ErrorResponse with the request's ID.
//
// Example:
//
//	if errors.Is(err, services.ErrInvalidCredentials) {
//	    utils.RespondWithError(w, r, http.StatusUnauthorized, "Invalid email or password")
//	    return
//	}
func RespondWithError(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	requestID := GetRequestID(r.Context())
	writeJSON(w, statusCode, ErrorResponse{
		Error:     http.StatusText(statusCode),
		Message:   message,
		RequestID: requestID,
	}, requestID)
}

// RespondWithJSON encodes data as the response body.
func RespondWithJSON(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	writeJSON(w, statusCode, data, GetRequestID(r.Context()))
}

// RespondWithMessage answers {"message": ...} plus the request ID when known.
func RespondWithMessage(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	requestID := GetRequestID(r.Context())
	response := map[string]string{"message": message}
	if requestID != "" {
		response["request_id"] = requestID
	}
	writeJSON(w, statusCode, response, requestID)
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().
			Err(err).
			Str("request_id", requestID).
			Msg("Failed to encode JSON response")
	}
}

// SetShortLivedCookie sets an HttpOnly, SameSite=Lax cookie that expires
// after maxAge seconds. The OAuth flow keeps its state parameter in one.
func SetShortLivedCookie(w http.ResponseWriter, name, value string, maxAge int, isProduction bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   isProduction,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
}

// ClearCookie deletes a cookie set by SetShortLivedCookie.
func ClearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}
