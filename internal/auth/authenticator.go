package auth

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// TokenWindows are the lifetimes applied at issue and rotation.
type TokenWindows struct {
	Access      time.Duration
	Refresh     time.Duration
	LongAccess  time.Duration
	LongRefresh time.Duration
	Elevation   time.Duration
}

// DefaultTokenWindows returns 1h/6h short, 24h/30d long and a 15 minute
// elevation window.
func DefaultTokenWindows() TokenWindows {
	return TokenWindows{
		Access:      time.Hour,
		Refresh:     6 * time.Hour,
		LongAccess:  24 * time.Hour,
		LongRefresh: 30 * 24 * time.Hour,
		Elevation:   15 * time.Minute,
	}
}

// DefaultRawTokenBytes is the length of each random token.
const DefaultRawTokenBytes = 32

// AuthenticatorDeps holds the collaborators of an Authenticator.
type AuthenticatorDeps struct {
	Users  UserRepository
	Tokens TokenPairRepository
	Hasher *PasswordHasher

	Windows       TokenWindows
	RawTokenBytes int

	// OptimisticRotation rejects a refresh that lost a race with another
	// refresh of the same pair. Off means last write wins.
	OptimisticRotation bool

	Logger *slog.Logger
	Events EventSink
	Now    func() time.Time
}

// Authenticator issues, rotates, verifies and revokes token pairs and
// manages sysadmin elevation.
//
// Thread Safety:
//   - Safe for concurrent use. Per-request state lives on the User.
type Authenticator struct {
	users      UserRepository
	tokens     TokenPairRepository
	hasher     *PasswordHasher
	windows    TokenWindows
	tokenBytes int
	optimistic bool
	logger     *slog.Logger
	events     EventSink
	now        func() time.Time

	// decoyHash is verified against when the account does not exist.
	decoyOnce sync.Once
	decoyHash string
}

// NewAuthenticator creates an Authenticator. Zero-valued windows, token
// length, logger and clock fall back to defaults.
func NewAuthenticator(deps AuthenticatorDeps) *Authenticator {
	a := &Authenticator{
		users:      deps.Users,
		tokens:     deps.Tokens,
		hasher:     deps.Hasher,
		windows:    deps.Windows,
		tokenBytes: deps.RawTokenBytes,
		optimistic: deps.OptimisticRotation,
		logger:     deps.Logger,
		events:     deps.Events,
		now:        deps.Now,
	}
	if a.windows == (TokenWindows{}) {
		a.windows = DefaultTokenWindows()
	}
	if a.tokenBytes <= 0 {
		a.tokenBytes = DefaultRawTokenBytes
	}
	if a.logger == nil {
		a.logger = slog.New(slog.DiscardHandler)
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a
}

// Now returns the authenticator's clock reading.
func (a *Authenticator) Now() time.Time {
	return a.now()
}

// Login verifies username (an email) and password and issues a new pair.
// Unknown, deactivated and wrong-password cases all return
// ErrInvalidCredentials.
func (a *Authenticator) Login(ctx context.Context, username, password string, longExpiry bool) (*TokenPair, error) {
	user, err := a.users.GetByEmail(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			a.burnVerify(password)
			a.emit(ctx, SecurityEvent{Type: EventLoginFailed, Subject: NormaliseEmail(username)})
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}

	ok, err := a.hasher.VerifyUserPassword(ctx, password, user)
	if err != nil {
		return nil, fmt.Errorf("verifying password: %w", err)
	}
	if !ok {
		a.emit(ctx, SecurityEvent{Type: EventLoginFailed, UserID: user.ID, Subject: NormaliseEmail(username)})
		return nil, ErrInvalidCredentials
	}

	pair, err := a.GenerateTokenPair(ctx, user, longExpiry)
	if err != nil {
		return nil, err
	}

	a.emit(ctx, SecurityEvent{Type: EventLogin, UserID: user.ID, TokenPairID: pair.ID})
	return pair, nil
}

// burnVerify runs one Argon2 verification against a throwaway hash so an
// unknown account costs the same as a wrong password.
func (a *Authenticator) burnVerify(password string) {
	a.decoyOnce.Do(func() {
		raw, err := newRawToken(a.tokenBytes)
		if err != nil {
			return
		}
		a.decoyHash, _ = a.hasher.Hash(hex.EncodeToString(raw)) //nolint:errcheck // empty hash skips the burn
	})
	if a.decoyHash == "" {
		return
	}
	a.hasher.Verify(password, a.decoyHash) //nolint:errcheck // result is discarded
}

// GenerateTokenPair issues a new pair for user and appends it to
// user.TokenPairs. The returned pair carries the raw tokens.
func (a *Authenticator) GenerateTokenPair(ctx context.Context, user *User, longExpiry bool) (*TokenPair, error) {
	pair := &TokenPair{UserID: user.ID}
	if err := a.issue(pair, longExpiry); err != nil {
		return nil, err
	}

	if err := a.tokens.Create(ctx, pair); err != nil {
		return nil, fmt.Errorf("storing token pair: %w", err)
	}

	user.TokenPairs = append(user.TokenPairs, pair)
	a.logger.DebugContext(ctx, "token pair issued",
		"user_id", user.ID,
		"token_pair_id", pair.ID,
		"long_expiry", pair.LongExpiry,
	)
	return pair, nil
}

// RefreshTokenPair rotates pair in place: new raw tokens and expiries under
// the same ID. The long windows apply if either the pair or this request
// asks for them. The old raw tokens stop matching once saved.
func (a *Authenticator) RefreshTokenPair(ctx context.Context, user *User, pair *TokenPair, longExpiry bool) (*TokenPair, error) {
	if err := a.issue(pair, pair.LongExpiry || longExpiry); err != nil {
		return nil, err
	}

	if err := a.tokens.Save(ctx, pair, a.optimistic); err != nil {
		switch {
		case errors.Is(err, ErrTokenRotated):
			return nil, err
		case errors.Is(err, ErrTokenPairNotFound):
			// Revoked between lookup and save: the presented token is dead.
			return nil, fmt.Errorf("%w: pair revoked during refresh", ErrTokenInvalid)
		}
		return nil, fmt.Errorf("storing rotated token pair: %w", err)
	}

	a.emit(ctx, SecurityEvent{Type: EventTokenRefreshed, UserID: user.ID, TokenPairID: pair.ID})
	return pair, nil
}

// issue draws fresh raw tokens for pair and stages the new hashes and expiries.
func (a *Authenticator) issue(pair *TokenPair, long bool) error {
	access, err := newRawToken(a.tokenBytes)
	if err != nil {
		return err
	}
	refresh, err := newRawToken(a.tokenBytes)
	if err != nil {
		return err
	}

	accessTTL, refreshTTL := a.windows.Access, a.windows.Refresh
	if long {
		accessTTL, refreshTTL = a.windows.LongAccess, a.windows.LongRefresh
	}

	now := a.now()
	pair.SetAccessToken(access, now.Add(accessTTL))
	pair.SetRefreshToken(refresh, now.Add(refreshTTL))
	pair.SetLongExpiry(long)
	return nil
}

// GetUserForToken resolves an encoded token to its user and attaches the
// matching pair as user.RequestToken.
//
// It checks the hash only; expiry is a separate gate (see VerifyToken).
// A malformed token wraps ErrMalformedToken. An unknown user, deactivated
// user or unmatched hash all return ErrTokenInvalid.
func (a *Authenticator) GetUserForToken(ctx context.Context, encoded string, kind TokenKind) (*User, error) {
	userID, raw, err := DecodeToken(encoded)
	if err != nil {
		return nil, err
	}

	user, err := a.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}
	if !user.IsActive() {
		return nil, ErrTokenInvalid
	}

	presented := []byte(HashToken(raw))
	var match *TokenPair
	// Every pair is compared so the scan time doesn't depend on the match position.
	for _, p := range user.TokenPairs {
		if subtle.ConstantTimeCompare(presented, []byte(p.Hash(kind))) == 1 && match == nil {
			match = p
		}
	}
	if match == nil {
		return nil, ErrTokenInvalid
	}

	user.RequestToken = match
	return user, nil
}

// VerifyToken is GetUserForToken followed by the expiry gate for kind.
// An expired but otherwise valid token returns ErrTokenExpired.
func (a *Authenticator) VerifyToken(ctx context.Context, encoded string, kind TokenKind) (*User, error) {
	user, err := a.GetUserForToken(ctx, encoded, kind)
	if err != nil {
		if errors.Is(err, ErrTokenInvalid) {
			a.emit(ctx, SecurityEvent{Type: EventTokenRejected})
		}
		return nil, err
	}
	if !user.RequestToken.ValidFor(kind, a.now()) {
		return nil, ErrTokenExpired
	}
	return user, nil
}

// ElevateUser re-verifies password and, for a system administrator, opens
// an elevation window on the request token. A non-admin with the right
// password gets false and no change.
func (a *Authenticator) ElevateUser(ctx context.Context, user *User, password string) (bool, error) {
	if user.RequestToken == nil {
		return false, ErrNoRequestToken
	}

	ok, err := a.hasher.VerifyUserPassword(ctx, password, user)
	if err != nil {
		return false, fmt.Errorf("verifying password: %w", err)
	}
	if !ok || !user.Sysadmin {
		a.emit(ctx, SecurityEvent{Type: EventElevationFailed, UserID: user.ID, TokenPairID: user.RequestToken.ID})
		return false, nil
	}

	expires := a.now().Add(a.windows.Elevation)
	user.RequestToken.SetSysadminElevationExpires(&expires)
	if err := a.tokens.Save(ctx, user.RequestToken, false); err != nil {
		return false, fmt.Errorf("storing elevation: %w", err)
	}

	a.emit(ctx, SecurityEvent{Type: EventElevated, UserID: user.ID, TokenPairID: user.RequestToken.ID})
	return true, nil
}

// DropElevation ends the current elevation early. It returns ErrNotElevated
// when the user is not elevated.
func (a *Authenticator) DropElevation(ctx context.Context, user *User) error {
	if !IsElevated(user, a.now()) {
		return ErrNotElevated
	}

	user.RequestToken.SetSysadminElevationExpires(nil)
	if err := a.tokens.Save(ctx, user.RequestToken, false); err != nil {
		return fmt.Errorf("clearing elevation: %w", err)
	}

	a.emit(ctx, SecurityEvent{Type: EventElevationDropped, UserID: user.ID, TokenPairID: user.RequestToken.ID})
	return nil
}

// IsElevated reports whether user is currently elevated by this
// authenticator's clock.
func (a *Authenticator) IsElevated(user *User) bool {
	return IsElevated(user, a.now())
}

// RevokeTokenPair deletes the pair id owned by user, or the request token
// when id is nil.
func (a *Authenticator) RevokeTokenPair(ctx context.Context, user *User, id *int64) error {
	var target int64
	switch {
	case id != nil:
		target = *id
	case user.RequestToken != nil:
		target = user.RequestToken.ID
	default:
		return ErrNoRequestToken
	}

	idx := -1
	for i, p := range user.TokenPairs {
		if p.ID == target {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrTokenPairNotFound
	}

	if err := a.tokens.Delete(ctx, user.ID, target); err != nil {
		if errors.Is(err, ErrTokenPairNotFound) {
			return err
		}
		return fmt.Errorf("revoking token pair: %w", err)
	}

	user.TokenPairs = append(user.TokenPairs[:idx], user.TokenPairs[idx+1:]...)
	a.emit(ctx, SecurityEvent{Type: EventTokenRevoked, UserID: user.ID, TokenPairID: target})
	return nil
}

func (a *Authenticator) emit(ctx context.Context, ev SecurityEvent) {
	if ev.Time.IsZero() {
		ev.Time = a.now().UTC()
	}
	if ev.RemoteAddr == "" {
		ev.RemoteAddr = RemoteAddrFrom(ctx)
	}
	if a.events != nil {
		a.events.RecordSecurityEvent(ctx, ev)
	}
}
