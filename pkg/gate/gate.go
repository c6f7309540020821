// Package gate validates and normalizes the album identifier and the auth
// token before a request reaches the rate limiter or the upstream.
//
// Rejections are *ValidationError values whose Reason is safe to return to
// the caller. The token itself never appears in a reason.
package gate

import (
	"fmt"
	"mime"
	"regexp"
	"strings"
)

// Size limits for inbound values.
const (
	MaxAlbumIDLength   = 100
	MaxAuthTokenLength = 500
)

// AlbumIDLength is the length of a normalized album identifier.
const AlbumIDLength = 32

var (
	albumInURL  = regexp.MustCompile(`(?i)album/([a-f0-9]{32})`)
	albumIDExpr = regexp.MustCompile(`^[a-f0-9]{32}$`)
	cookieName  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

	suspiciousPatterns = []*regexp.Regexp{
		regexp.MustCompile(`[<>'"]`),
		regexp.MustCompile(`(?i)\b(union|select|insert|delete|drop|update)\b`),
		regexp.MustCompile(`\.\./|\.\.\\`),
		regexp.MustCompile("\x00"),
	}
)

// ValidationError is a client-facing input rejection.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return e.Reason
}

func reject(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// Request is an admitted, normalized album request.
type Request struct {
	AlbumID string
	Token   string
}

// Normalize validates raw inputs and returns the normalized pair.
func Normalize(rawAlbumID, rawToken string) (Request, error) {
	if err := ValidateAlbumID(rawAlbumID); err != nil {
		return Request{}, err
	}
	albumID := strings.ToLower(ParseAlbumID(rawAlbumID))
	if !albumIDExpr.MatchString(albumID) {
		return Request{}, reject("album_id", fmt.Sprintf("Album ID must be a %d-character hexadecimal string", AlbumIDLength))
	}

	if err := ValidateAuthToken(rawToken); err != nil {
		return Request{}, err
	}
	token := ParseAuthToken(rawToken)
	if token == "" {
		return Request{}, reject("auth_token", "Auth token cannot be empty")
	}
	return Request{AlbumID: albumID, Token: token}, nil
}

// ParseAlbumID extracts the 32-hex album id from a URL such as
// https://ifdian.net/album/<id>. Other input is returned trimmed.
func ParseAlbumID(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}
	if m := albumInURL.FindStringSubmatch(trimmed); m != nil {
		return m[1]
	}
	return trimmed
}

// ValidateAlbumID checks the raw album identifier.
func ValidateAlbumID(albumID string) error {
	if strings.TrimSpace(albumID) == "" {
		return reject("album_id", "Album ID is required")
	}
	if len(albumID) > MaxAlbumIDLength {
		return reject("album_id", "Album ID is too long")
	}
	for _, pattern := range suspiciousPatterns {
		if pattern.MatchString(albumID) {
			return reject("album_id", "Album ID contains invalid characters")
		}
	}
	return nil
}

// ValidateAuthToken checks the raw auth token.
func ValidateAuthToken(token string) error {
	if token == "" {
		return reject("auth_token", "Auth token is required")
	}
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return reject("auth_token", "Auth token cannot be empty")
	}
	if len(trimmed) > MaxAuthTokenLength {
		return reject("auth_token", "Auth token is too long")
	}
	if strings.ContainsRune(trimmed, 0) {
		return reject("auth_token", "Auth token contains invalid characters")
	}
	return nil
}

// ParseAuthToken accepts a bare token or a cookie fragment such as
// "auth_token=abc;" and returns the token value.
func ParseAuthToken(input string) string {
	trimmed := strings.TrimSpace(input)
	for _, part := range strings.Split(trimmed, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(key), "auth_token") {
			return strings.TrimSpace(value)
		}
	}
	fragment := strings.TrimSuffix(trimmed, ";")
	if key, value, ok := strings.Cut(fragment, "="); ok && cookieName.MatchString(key) &&
		value != "" && !strings.HasPrefix(value, "=") {
		return strings.TrimSpace(value)
	}
	return trimmed
}

// ValidateContentType checks that a request declares the expected media type.
func ValidateContentType(contentType, expected string) error {
	if contentType == "" {
		return reject("content-type", "Invalid Content-Type. Expected "+expected)
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.EqualFold(mediaType, expected) {
		return reject("content-type", "Invalid Content-Type. Expected "+expected)
	}
	return nil
}
