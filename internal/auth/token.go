package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// TokenKind selects which half of a token pair is being presented.
type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
)

// Causes wrapped alongside ErrMalformedToken. Callers only ever see
// ErrMalformedToken; the cause is for debug logs.
var (
	errTokenNotBase64   = errors.New("not base64")
	errTokenNoSeparator = errors.New("missing separator")
	errTokenBadUserID   = errors.New("user id is not a positive decimal")
	errTokenBadHex      = errors.New("token is not hex")
)

var bearerPattern = regexp.MustCompile(`^Bearer [^\s]+$`)

// HashToken returns the hex SHA-256 digest of a raw token.
// Raw tokens are never stored; only these digests are.
func HashToken(raw []byte) string {
	h := sha256.Sum256(raw)
	return hex.EncodeToString(h[:])
}

// EncodeToken produces the wire form base64("<userID>:<hex raw>").
func EncodeToken(userID int64, raw []byte) string {
	plain := strconv.FormatInt(userID, 10) + ":" + hex.EncodeToString(raw)
	return base64.StdEncoding.EncodeToString([]byte(plain))
}

// DecodeToken reverses EncodeToken. Every failure wraps ErrMalformedToken.
func DecodeToken(encoded string) (int64, []byte, error) {
	plain, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrMalformedToken, errTokenNotBase64)
	}

	idPart, tokenPart, ok := strings.Cut(string(plain), ":")
	if !ok {
		return 0, nil, fmt.Errorf("%w: %w", ErrMalformedToken, errTokenNoSeparator)
	}

	if !isDecimal(idPart) {
		return 0, nil, fmt.Errorf("%w: %w", ErrMalformedToken, errTokenBadUserID)
	}
	userID, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || userID <= 0 {
		return 0, nil, fmt.Errorf("%w: %w", ErrMalformedToken, errTokenBadUserID)
	}

	raw, err := hex.DecodeString(tokenPart)
	if err != nil || len(raw) == 0 {
		return 0, nil, fmt.Errorf("%w: %w", ErrMalformedToken, errTokenBadHex)
	}

	return userID, raw, nil
}

// ParseBearer extracts the token from an "Authorization: Bearer" value.
func ParseBearer(header string) (string, error) {
	if !bearerPattern.MatchString(header) {
		return "", ErrMalformedHeader
	}
	return strings.TrimPrefix(header, "Bearer "), nil
}

// DecodeBasicCredentials parses an "Authorization: Basic" value into the
// username and password.
func DecodeBasicCredentials(header string) (string, string, error) {
	encoded, ok := strings.CutPrefix(header, "Basic ")
	if !ok || encoded == "" {
		return "", "", ErrMalformedHeader
	}
	plain, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrMalformedHeader, err)
	}
	username, password, ok := strings.Cut(string(plain), ":")
	if !ok || username == "" {
		return "", "", ErrMalformedHeader
	}
	return username, password, nil
}

// DecodeElevationPassword decodes the base64 password carried by the
// elevation header.
func DecodeElevationPassword(value string) (string, error) {
	if value == "" {
		return "", ErrMalformedHeader
	}
	plain, err := base64.StdEncoding.DecodeString(value)
	if err != nil || len(plain) == 0 {
		return "", ErrMalformedHeader
	}
	return string(plain), nil
}

// newRawToken draws n cryptographically random bytes.
func newRawToken(n int) ([]byte, error) {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generating token: %w", err)
	}
	return raw, nil
}

func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
