package guard

import (
	"net/http"
	"strings"
)

// TokenSource extracts the credential of a request. The bearer header wins,
// then the input field, then the cookie; the first non-empty value is used.
type TokenSource struct {
	InputKey   string
	CookieName string
}

// Token returns the request credential or "" when there is none
func (s TokenSource) Token(r *http.Request, in *Input) string {
	if token := BearerToken(r); token != "" {
		return token
	}

	if s.InputKey != "" {
		if token := strings.TrimSpace(in.Get(s.InputKey)); token != "" {
			return token
		}
	}

	if s.CookieName != "" {
		if cookie, err := r.Cookie(s.CookieName); err == nil {
			if token := strings.TrimSpace(cookie.Value); token != "" {
				return token
			}
		}
	}

	return ""
}

// BearerToken returns the token of an "Authorization: Bearer" header
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
