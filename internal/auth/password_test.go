package auth

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"golang.org/x/crypto/argon2"
)

func TestHash_RoundTrip(t *testing.T) {
	h := testHasher()

	hash, err := h.Hash(testPassword)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	if !strings.HasPrefix(hash, "$argon2id$v=19$m=1024,t=1,p=1$") {
		t.Errorf("hash should carry its parameters, got %q", hash)
	}

	ok, err := h.Verify(testPassword, hash)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !ok {
		t.Error("Verify() should return true for correct password")
	}
}

func TestVerify_WrongPassword(t *testing.T) {
	h := testHasher()
	hash, _ := h.Hash("correct-password") //nolint:errcheck // test setup

	ok, err := h.Verify("wrong-password", hash)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if ok {
		t.Error("Verify() should return false for wrong password")
	}
}

func TestHash_UniqueSalts(t *testing.T) {
	h := testHasher()

	hash1, _ := h.Hash("same-password") //nolint:errcheck // test setup
	hash2, _ := h.Hash("same-password") //nolint:errcheck // test setup

	if hash1 == hash2 {
		t.Error("two hashes of the same password should differ (unique salts)")
	}
}

func TestVerify_MalformedHash(t *testing.T) {
	h := testHasher()

	tests := []struct {
		name string
		hash string
	}{
		{"empty", ""},
		{"not PHC", "plaintext"},
		{"wrong algorithm", "$bcrypt$v=19$m=1024,t=1,p=1$c2FsdA$aGFzaA"},
		{"bad version", "$argon2id$v=18$m=1024,t=1,p=1$c2FsdA$aGFzaA"},
		{"bad params", "$argon2id$v=19$m=x,t=1,p=1$c2FsdA$aGFzaA"},
		{"zero cost", "$argon2id$v=19$m=1024,t=0,p=1$c2FsdA$aGFzaA"},
		{"bad salt", "$argon2id$v=19$m=1024,t=1,p=1$!!!$aGFzaA"},
		{"bad digest", "$argon2id$v=19$m=1024,t=1,p=1$c2FsdA$!!!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := h.Verify(testPassword, tt.hash)
			if !errors.Is(err, ErrMalformedHash) {
				t.Errorf("Verify() error = %v, want ErrMalformedHash", err)
			}
			if ok {
				t.Error("Verify() must not succeed on a malformed hash")
			}
		})
	}
}

func TestVerify_LegacyArgon2i(t *testing.T) {
	salt := []byte("0123456789abcdef")
	digest := argon2.Key([]byte(testPassword), salt, 2, 1024, 1, 32)
	legacy := fmt.Sprintf("$argon2i$v=19$m=1024,t=2,p=1$%s$%s",
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(digest))

	h := testHasher()
	ok, err := h.Verify(testPassword, legacy)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !ok {
		t.Error("legacy argon2i hash should verify")
	}
	if !h.NeedsRehash(legacy) {
		t.Error("legacy argon2i hash should need a rehash")
	}
}

func TestNeedsRehash(t *testing.T) {
	weak := testHasher()
	weakHash, _ := weak.Hash(testPassword) //nolint:errcheck // test setup

	if weak.NeedsRehash(weakHash) {
		t.Error("hash made with current params should not need a rehash")
	}

	stronger := testParams
	stronger.TimeCost = 2
	if !NewPasswordHasher(stronger).NeedsRehash(weakHash) {
		t.Error("hash made with lower time cost should need a rehash")
	}

	if weak.NeedsRehash("garbage") {
		t.Error("malformed hash cannot be upgraded and should report false")
	}
}

type fakeRehasher struct {
	calls int
	hash  string
	err   error
}

func (f *fakeRehasher) UpdatePassword(_ context.Context, _ int64, hash string) error {
	f.calls++
	f.hash = hash
	return f.err
}

func TestVerifyUserPassword(t *testing.T) {
	ctx := t.Context()
	weakHash, _ := testHasher().Hash(testPassword) //nolint:errcheck // test setup

	t.Run("no password set", func(t *testing.T) {
		ok, err := testHasher().VerifyUserPassword(ctx, "", &User{ID: 1})
		if err != nil || ok {
			t.Errorf("VerifyUserPassword() = %v, %v; want false, nil", ok, err)
		}
	})

	t.Run("malformed stored hash is logged and fails", func(t *testing.T) {
		var buf bytes.Buffer
		h := NewPasswordHasher(testParams, WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))

		ok, err := h.VerifyUserPassword(ctx, testPassword, &User{ID: 7, PasswordHash: "$argon2id$broken"})
		if err != nil {
			t.Fatalf("VerifyUserPassword() error = %v, want nil", err)
		}
		if ok {
			t.Error("malformed hash must not verify")
		}
		if !strings.Contains(buf.String(), "malformed") {
			t.Errorf("expected malformed hash to be logged, got %q", buf.String())
		}
	})

	t.Run("rehash on stronger params", func(t *testing.T) {
		stronger := testParams
		stronger.TimeCost = 2
		rh := &fakeRehasher{}
		h := NewPasswordHasher(stronger, WithRehasher(rh))
		user := &User{ID: 3, PasswordHash: weakHash}

		ok, err := h.VerifyUserPassword(ctx, testPassword, user)
		if err != nil || !ok {
			t.Fatalf("VerifyUserPassword() = %v, %v; want true, nil", ok, err)
		}
		if rh.calls != 1 {
			t.Fatalf("rehasher called %d times, want 1", rh.calls)
		}
		if user.PasswordHash != rh.hash || !strings.Contains(user.PasswordHash, "t=2") {
			t.Errorf("user hash not upgraded: %q", user.PasswordHash)
		}
	})

	t.Run("rehash failure does not fail login", func(t *testing.T) {
		stronger := testParams
		stronger.TimeCost = 2
		rh := &fakeRehasher{err: errors.New("disk full")}
		user := &User{ID: 4, PasswordHash: weakHash}

		ok, err := NewPasswordHasher(stronger, WithRehasher(rh)).VerifyUserPassword(ctx, testPassword, user)
		if err != nil || !ok {
			t.Fatalf("VerifyUserPassword() = %v, %v; want true, nil", ok, err)
		}
		if user.PasswordHash != weakHash {
			t.Error("user hash should be unchanged when the store fails")
		}
	})

	t.Run("no rehash on wrong password", func(t *testing.T) {
		stronger := testParams
		stronger.TimeCost = 2
		rh := &fakeRehasher{}

		ok, _ := NewPasswordHasher(stronger, WithRehasher(rh)).VerifyUserPassword(ctx, "nope", &User{PasswordHash: weakHash}) //nolint:errcheck // asserting ok only
		if ok || rh.calls != 0 {
			t.Errorf("ok = %v, rehash calls = %d; want false, 0", ok, rh.calls)
		}
	})
}
