package auth

import (
	"time"
)

// tokenPairField names a persisted token pair column that can be staged.
type tokenPairField string

const (
	fieldAccessTokenHash          tokenPairField = "access_token_hash"
	fieldAccessTokenExpires       tokenPairField = "access_token_expires"
	fieldRefreshTokenHash         tokenPairField = "refresh_token_hash"
	fieldRefreshTokenExpires      tokenPairField = "refresh_token_expires"
	fieldLongExpiry               tokenPairField = "long_expiry"
	fieldSysadminElevationExpires tokenPairField = "sysadmin_elevation_expires"
)

// TokenPair is one issued access and refresh credential bound to a user.
//
// Only hashes and expiries are persisted. The raw tokens exist in memory
// between issue (or rotation) and the response that hands them to the
// client. Mutations go through setters that stage changes; a repository
// Save flushes exactly the staged fields.
type TokenPair struct {
	ID     int64 `json:"id"`
	UserID int64 `json:"user_id"`

	AccessTokenHash     string     `json:"-"`
	AccessTokenExpires  *time.Time `json:"access_token_expires"`
	RefreshTokenHash    string     `json:"-"`
	RefreshTokenExpires *time.Time `json:"refresh_token_expires"`
	LongExpiry          bool       `json:"long_expiry"`

	SysadminElevationExpires *time.Time `json:"sysadmin_elevation_expires,omitempty"`

	// Version increases with every save.
	Version int64 `json:"-"`

	rawAccess  []byte
	rawRefresh []byte
	changes    map[tokenPairField]any
}

// SetAccessToken replaces the access token with raw, valid until expires.
func (p *TokenPair) SetAccessToken(raw []byte, expires time.Time) {
	expires = expires.UTC()
	p.rawAccess = raw
	p.AccessTokenHash = HashToken(raw)
	p.AccessTokenExpires = &expires
	p.stage(fieldAccessTokenHash, p.AccessTokenHash)
	p.stage(fieldAccessTokenExpires, expires)
}

// SetRefreshToken replaces the refresh token with raw, valid until expires.
func (p *TokenPair) SetRefreshToken(raw []byte, expires time.Time) {
	expires = expires.UTC()
	p.rawRefresh = raw
	p.RefreshTokenHash = HashToken(raw)
	p.RefreshTokenExpires = &expires
	p.stage(fieldRefreshTokenHash, p.RefreshTokenHash)
	p.stage(fieldRefreshTokenExpires, expires)
}

// SetLongExpiry records whether the pair uses the long windows.
func (p *TokenPair) SetLongExpiry(long bool) {
	p.LongExpiry = long
	p.stage(fieldLongExpiry, long)
}

// SetSysadminElevationExpires sets or, with nil, clears the elevation expiry.
func (p *TokenPair) SetSysadminElevationExpires(expires *time.Time) {
	if expires == nil {
		p.SysadminElevationExpires = nil
		p.stage(fieldSysadminElevationExpires, nil)
		return
	}
	t := expires.UTC()
	p.SysadminElevationExpires = &t
	p.stage(fieldSysadminElevationExpires, t)
}

// AccessToken returns the wire-encoded access token, or "" when the raw
// token is not in memory (pairs loaded from storage).
func (p *TokenPair) AccessToken() string {
	if len(p.rawAccess) == 0 {
		return ""
	}
	return EncodeToken(p.UserID, p.rawAccess)
}

// RefreshToken returns the wire-encoded refresh token, or "".
func (p *TokenPair) RefreshToken() string {
	if len(p.rawRefresh) == 0 {
		return ""
	}
	return EncodeToken(p.UserID, p.rawRefresh)
}

// Hash returns the stored digest for kind.
func (p *TokenPair) Hash(kind TokenKind) string {
	if kind == TokenRefresh {
		return p.RefreshTokenHash
	}
	return p.AccessTokenHash
}

// Expires returns the expiry for kind; nil means already expired.
func (p *TokenPair) Expires(kind TokenKind) *time.Time {
	if kind == TokenRefresh {
		return p.RefreshTokenExpires
	}
	return p.AccessTokenExpires
}

// ValidFor reports whether the pair may be used as kind at now.
// A missing expiry fails closed.
func (p *TokenPair) ValidFor(kind TokenKind, now time.Time) bool {
	exp := p.Expires(kind)
	return exp != nil && now.Before(*exp)
}

// ElevatedAt reports whether the pair carries an unexpired elevation.
func (p *TokenPair) ElevatedAt(now time.Time) bool {
	return p.SysadminElevationExpires != nil && now.Before(*p.SysadminElevationExpires)
}

// HasChanges reports whether any field is staged.
func (p *TokenPair) HasChanges() bool {
	return len(p.changes) > 0
}

// Changes returns a copy of the staged fields keyed by column name.
func (p *TokenPair) Changes() map[string]any {
	out := make(map[string]any, len(p.changes))
	for k, v := range p.changes {
		out[string(k)] = v
	}
	return out
}

func (p *TokenPair) stage(field tokenPairField, value any) {
	if p.changes == nil {
		p.changes = make(map[tokenPairField]any)
	}
	p.changes[field] = value
}

func (p *TokenPair) clearChanges() {
	p.changes = nil
}

// IsElevated reports whether user is a system administrator whose request
// token carries an unexpired elevation.
func IsElevated(user *User, now time.Time) bool {
	return user != nil &&
		user.Sysadmin &&
		user.RequestToken != nil &&
		user.RequestToken.ElevatedAt(now)
}
