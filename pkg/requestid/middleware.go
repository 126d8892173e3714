package requestid

import (
	"net/http"
	"regexp"

	"github.com/google/uuid"
)

// Header is the request and response header carrying the correlation id.
const Header = "X-Request-ID"

const maxIDLength = 128

// Client-supplied ids end up in logs, so the charset is restricted.
var validIDRegex = regexp.MustCompile("^[a-zA-Z0-9_-]+$")

// Middleware ensures every request carries a valid correlation id,
// binding it to the request context and echoing it in the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(Header)
		if !isValidRequestID(requestID) {
			requestID = uuid.New().String()
		}
		w.Header().Set(Header, requestID)
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), requestID)))
	})
}

func isValidRequestID(id string) bool {
	if len(id) == 0 || len(id) > maxIDLength {
		return false
	}
	return validIDRegex.MatchString(id)
}
