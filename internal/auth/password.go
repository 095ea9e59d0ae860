package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/argon2"
)

// PasswordParams are the Argon2 cost parameters used for new hashes.
type PasswordParams struct {
	TimeCost    uint32 // iterations
	MemoryCost  uint32 // KiB
	Parallelism uint8
	HashLength  uint32
	SaltLength  uint32
}

// DefaultPasswordParams returns the OWASP Argon2id profile.
func DefaultPasswordParams() PasswordParams {
	return PasswordParams{
		TimeCost:    3,
		MemoryCost:  64 * 1024,
		Parallelism: 1,
		HashLength:  32,
		SaltLength:  16,
	}
}

const (
	algArgon2id = "argon2id"
	algArgon2i  = "argon2i" // legacy, verify only
)

// Rehasher stores an upgraded password hash.
type Rehasher interface {
	UpdatePassword(ctx context.Context, userID int64, passwordHash string) error
}

// HasherOption configures a PasswordHasher.
type HasherOption func(*PasswordHasher)

// WithLogger sets the logger used for malformed hash and rehash reports.
func WithLogger(logger *slog.Logger) HasherOption {
	return func(h *PasswordHasher) {
		h.logger = logger
	}
}

// WithRehasher enables upgrading weaker stored hashes after a successful
// verification.
func WithRehasher(r Rehasher) HasherOption {
	return func(h *PasswordHasher) {
		h.rehasher = r
	}
}

// PasswordHasher hashes and verifies passwords with Argon2id.
//
// Thread Safety:
//   - Safe for concurrent use; it holds no mutable state.
type PasswordHasher struct {
	params   PasswordParams
	logger   *slog.Logger
	rehasher Rehasher
}

// NewPasswordHasher creates a hasher producing hashes with params.
func NewPasswordHasher(params PasswordParams, opts ...HasherOption) *PasswordHasher {
	h := &PasswordHasher{
		params: params,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Params returns the cost parameters used for new hashes.
func (h *PasswordHasher) Params() PasswordParams {
	return h.params
}

// Hash derives an Argon2id hash under a fresh random salt and returns it in
// PHC string format: $argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>
func (h *PasswordHasher) Hash(password string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	p := h.params
	digest := argon2.IDKey([]byte(password), salt, p.TimeCost, p.MemoryCost, p.Parallelism, p.HashLength)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algArgon2id,
		argon2.Version,
		p.MemoryCost, p.TimeCost, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(digest),
	), nil
}

// Verify checks password against a PHC hash string in constant time.
// A mismatch is (false, nil); an unparseable hash wraps ErrMalformedHash.
func (h *PasswordHasher) Verify(password, encoded string) (bool, error) {
	ph, err := decodePHC(encoded)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrMalformedHash, err)
	}

	keyLen := uint32(len(ph.digest)) //nolint:gosec // G115: digest length always fits uint32
	var candidate []byte
	switch ph.algorithm {
	case algArgon2i:
		candidate = argon2.Key([]byte(password), ph.salt, ph.time, ph.memory, ph.threads, keyLen)
	default:
		candidate = argon2.IDKey([]byte(password), ph.salt, ph.time, ph.memory, ph.threads, keyLen)
	}

	return subtle.ConstantTimeCompare(ph.digest, candidate) == 1, nil
}

// NeedsRehash reports whether encoded was produced by a weaker algorithm or
// weaker parameters than the hasher's current ones. Malformed hashes report
// false; they cannot be verified, so there is nothing to upgrade.
func (h *PasswordHasher) NeedsRehash(encoded string) bool {
	ph, err := decodePHC(encoded)
	if err != nil {
		return false
	}
	p := h.params
	return ph.algorithm != algArgon2id ||
		ph.time < p.TimeCost ||
		ph.memory < p.MemoryCost ||
		ph.threads < p.Parallelism ||
		uint32(len(ph.digest)) < p.HashLength || //nolint:gosec // G115: digest length always fits uint32
		uint32(len(ph.salt)) < p.SaltLength //nolint:gosec // G115: salt length always fits uint32
}

// VerifyUserPassword verifies password against user's stored hash.
//
// A malformed stored hash is logged as an error and reported to the caller
// as a failed verification. An account without a password never verifies.
// On success, a weaker stored hash is upgraded when a Rehasher is set;
// upgrade failures are logged and do not fail the verification.
func (h *PasswordHasher) VerifyUserPassword(ctx context.Context, password string, user *User) (bool, error) {
	if user == nil || user.PasswordHash == "" {
		return false, nil
	}

	ok, err := h.Verify(password, user.PasswordHash)
	if err != nil {
		if errors.Is(err, ErrMalformedHash) {
			h.logger.ErrorContext(ctx, "stored password hash is malformed",
				"user_id", user.ID,
				"error", err,
			)
			return false, nil
		}
		return false, err
	}
	if !ok {
		return false, nil
	}

	if h.rehasher != nil && h.NeedsRehash(user.PasswordHash) {
		h.rehash(ctx, password, user)
	}
	return true, nil
}

func (h *PasswordHasher) rehash(ctx context.Context, password string, user *User) {
	upgraded, err := h.Hash(password)
	if err != nil {
		h.logger.WarnContext(ctx, "password rehash failed", "user_id", user.ID, "error", err)
		return
	}
	if err := h.rehasher.UpdatePassword(ctx, user.ID, upgraded); err != nil {
		h.logger.WarnContext(ctx, "storing rehashed password failed", "user_id", user.ID, "error", err)
		return
	}
	user.PasswordHash = upgraded
	h.logger.InfoContext(ctx, "password hash upgraded", "user_id", user.ID)
}

type phcHash struct {
	algorithm string
	time      uint32
	memory    uint32
	threads   uint8
	salt      []byte
	digest    []byte
}

// decodePHC parses an Argon2 PHC string into its components.
func decodePHC(encoded string) (phcHash, error) {
	var ph phcHash

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 { //nolint:mnd // PHC format has exactly 6 $-delimited parts
		return ph, fmt.Errorf("invalid PHC hash format")
	}

	ph.algorithm = parts[1]
	if ph.algorithm != algArgon2id && ph.algorithm != algArgon2i {
		return ph, fmt.Errorf("unsupported algorithm: %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return ph, fmt.Errorf("parsing version: %w", err)
	}
	if version != argon2.Version {
		return ph, fmt.Errorf("unsupported argon2 version: %d", version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &ph.memory, &ph.time, &ph.threads); err != nil {
		return ph, fmt.Errorf("parsing parameters: %w", err)
	}
	if ph.time == 0 || ph.memory == 0 || ph.threads == 0 {
		return ph, fmt.Errorf("zero cost parameter")
	}

	var err error
	if ph.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return ph, fmt.Errorf("decoding salt: %w", err)
	}
	if ph.digest, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return ph, fmt.Errorf("decoding hash: %w", err)
	}
	if len(ph.digest) == 0 {
		return ph, fmt.Errorf("empty digest")
	}

	return ph, nil
}
