package auth

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/tasklane-core/internal/infrastructure/database"
	_ "github.com/nerrad567/tasklane-core/migrations" // registers the schema
)

// testParams keeps Argon2 cheap in tests. Production costs come from config.
var testParams = PasswordParams{
	TimeCost:    1,
	MemoryCost:  1024,
	Parallelism: 1,
	HashLength:  32,
	SaltLength:  16,
}

const testPassword = "correct-horse-battery-staple"

// testDB opens a temporary SQLite database with all migrations applied.
func testDB(t testing.TB) *sql.DB {
	t.Helper()

	db, err := database.Open(t.Context(), database.Config{
		Path:        filepath.Join(t.TempDir(), "auth-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(t.Context()); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	return db.DB
}

func testHasher() *PasswordHasher {
	return NewPasswordHasher(testParams)
}

// seedTestUser inserts a user with testPassword and returns it.
func seedTestUser(t testing.TB, db *sql.DB, email string, sysadmin bool) *User {
	t.Helper()

	hash, err := testHasher().Hash(testPassword)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}

	user := &User{
		Email:        &email,
		FirstName:    "Test",
		OtherNames:   "User",
		PasswordHash: hash,
		Sysadmin:     sysadmin,
	}
	if err := NewUserRepository(db).Create(t.Context(), user); err != nil {
		t.Fatalf("creating test user %s: %v", email, err)
	}
	return user
}

// testClock is a settable clock shared between an Authenticator and an
// Authorisor under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingSink captures emitted security events.
type recordingSink struct {
	mu     sync.Mutex
	events []SecurityEvent
}

func (s *recordingSink) RecordSecurityEvent(_ context.Context, ev SecurityEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) types() []EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventType, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

// authFixture wires an Authenticator and Authorisor to a fresh database.
type authFixture struct {
	db      *sql.DB
	users   *SQLiteUserRepository
	tokens  *SQLiteTokenPairRepository
	roles   *SQLiteRoleRepository
	members *SQLiteMembershipRepository
	clock   *testClock
	events  *recordingSink
	authn   *Authenticator
	authz   *Authorisor
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	db := testDB(t)
	f := &authFixture{
		db:      db,
		users:   NewUserRepository(db),
		tokens:  NewTokenPairRepository(db),
		roles:   NewRoleRepository(db),
		members: NewMembershipRepository(db),
		clock:   newTestClock(),
		events:  &recordingSink{},
	}
	f.authn = NewAuthenticator(AuthenticatorDeps{
		Users:  f.users,
		Tokens: f.tokens,
		Hasher: testHasher(),
		Events: f.events,
		Now:    f.clock.Now,
	})
	f.authz = NewAuthorisor(DefaultCatalog(), f.roles, f.clock.Now)

	if err := f.roles.SyncCatalog(t.Context(), DefaultCatalog()); err != nil {
		t.Fatalf("syncing catalog: %v", err)
	}
	return f
}

// login issues a pair for email and resolves it back to a request user.
func (f *authFixture) login(t *testing.T, email string) (*User, *TokenPair) {
	t.Helper()

	pair, err := f.authn.Login(t.Context(), email, testPassword, false)
	if err != nil {
		t.Fatalf("Login(%s) error = %v", email, err)
	}
	user, err := f.authn.VerifyToken(t.Context(), pair.AccessToken(), TokenAccess)
	if err != nil {
		t.Fatalf("VerifyToken() error = %v", err)
	}
	return user, pair
}
