package auth

import (
	"context"
	"time"
)

// EventType names a security-relevant outcome.
type EventType string

const (
	EventLogin            EventType = "login"
	EventLoginFailed      EventType = "login_failed"
	EventTokenRefreshed   EventType = "token_refreshed"
	EventTokenRevoked     EventType = "token_revoked"
	EventTokenRejected    EventType = "token_rejected"
	EventElevated         EventType = "elevated"
	EventElevationFailed  EventType = "elevation_failed"
	EventElevationDropped EventType = "elevation_dropped"
)

// SecurityEvent is emitted by the Authenticator for every credential
// outcome. It never carries raw tokens or passwords.
type SecurityEvent struct {
	Type        EventType `json:"type"`
	UserID      int64     `json:"user_id,omitempty"`
	TokenPairID int64     `json:"token_pair_id,omitempty"`
	Subject     string    `json:"subject,omitempty"` // email presented at login
	RemoteAddr  string    `json:"remote_addr,omitempty"`
	Time        time.Time `json:"time"`
}

// EventSink receives security events. Implementations must not block the
// request for long; slow transports should buffer.
type EventSink interface {
	RecordSecurityEvent(ctx context.Context, ev SecurityEvent)
}

type remoteAddrKey struct{}

// WithRemoteAddr attaches the client address to ctx for event reporting.
func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, remoteAddrKey{}, addr)
}

// RemoteAddrFrom returns the address set by WithRemoteAddr, or "".
func RemoteAddrFrom(ctx context.Context) string {
	addr, _ := ctx.Value(remoteAddrKey{}).(string) //nolint:errcheck // type assertion, not error
	return addr
}
