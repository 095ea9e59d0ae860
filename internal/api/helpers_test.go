package api

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/tasklane-core/internal/antihammer"
	"github.com/nerrad567/tasklane-core/internal/auth"
	"github.com/nerrad567/tasklane-core/internal/infrastructure/config"
	"github.com/nerrad567/tasklane-core/internal/infrastructure/database"
	"github.com/nerrad567/tasklane-core/internal/infrastructure/logging"
	_ "github.com/nerrad567/tasklane-core/migrations" // registers the schema
)

const (
	testPassword = "correct-horse-battery-staple"
	testClient   = "192.0.2.10:51234"
)

var testParams = auth.PasswordParams{
	TimeCost:    1,
	MemoryCost:  1024,
	Parallelism: 1,
	HashLength:  32,
	SaltLength:  16,
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingSink captures security events.
type recordingSink struct {
	mu     sync.Mutex
	events []auth.SecurityEvent
}

func (s *recordingSink) RecordSecurityEvent(_ context.Context, ev auth.SecurityEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) last() auth.SecurityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return auth.SecurityEvent{}
	}
	return s.events[len(s.events)-1]
}

type fixtureOptions struct {
	failureDelay  time.Duration
	blockAttempts int
	logger        *logging.Logger
}

// apiFixture is a Server over a real migrated SQLite database with an
// elevatable sysadmin and a regular developer account.
type apiFixture struct {
	t       *testing.T
	srv     *Server
	handler http.Handler
	db      *sql.DB
	clock   *testClock
	events  *recordingSink
	users   *auth.SQLiteUserRepository
	roles   *auth.SQLiteRoleRepository
	members *auth.SQLiteMembershipRepository
	admin   *auth.User
	dev     *auth.User
}

func newAPIFixture(t *testing.T, opts fixtureOptions) *apiFixture {
	t.Helper()

	db, err := database.Open(t.Context(), database.Config{
		Path:        filepath.Join(t.TempDir(), "api-test.db"),
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

	f := &apiFixture{
		t:       t,
		db:      db.DB,
		clock:   &testClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)},
		events:  &recordingSink{},
		users:   auth.NewUserRepository(db.DB),
		roles:   auth.NewRoleRepository(db.DB),
		members: auth.NewMembershipRepository(db.DB),
	}

	catalog := auth.DefaultCatalog()
	if err := auth.SeedRoles(t.Context(), f.roles, catalog, logging.Discard().Logger); err != nil {
		t.Fatalf("seeding roles: %v", err)
	}

	hasher := auth.NewPasswordHasher(testParams)
	f.admin = f.createUser("admin@example.com", true, hasher)
	f.dev = f.createUser("dev@example.com", false, hasher)

	var guard *antihammer.Guard
	if opts.blockAttempts > 0 {
		guard = antihammer.New(antihammer.NewMemoryStore(time.Minute), opts.blockAttempts, nil)
	}

	authn := auth.NewAuthenticator(auth.AuthenticatorDeps{
		Users:  f.users,
		Tokens: auth.NewTokenPairRepository(db.DB),
		Hasher: hasher,
		Events: f.events,
		Now:    f.clock.Now,
	})

	logger := logging.Discard()
	if opts.logger != nil {
		logger = opts.logger
	}

	f.srv, err = New(Deps{
		Config:        config.APIConfig{Host: "127.0.0.1"},
		Logger:        logger,
		DB:            db.DB,
		FailureDelay:  opts.failureDelay,
		Authenticator: authn,
		Authorisor:    auth.NewAuthorisor(catalog, f.roles, f.clock.Now),
		Hasher:        hasher,
		Users:         f.users,
		Members:       f.members,
		AntiHammer:    guard,
		Version:       "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	f.handler = f.srv.Handler()
	return f
}

func (f *apiFixture) createUser(email string, sysadmin bool, hasher *auth.PasswordHasher) *auth.User {
	f.t.Helper()
	hash, err := hasher.Hash(testPassword)
	if err != nil {
		f.t.Fatalf("hashing password: %v", err)
	}
	u := &auth.User{Email: &email, FirstName: "Test", PasswordHash: hash, Sysadmin: sysadmin}
	if err := f.users.Create(f.t.Context(), u); err != nil {
		f.t.Fatalf("creating %s: %v", email, err)
	}
	return u
}

// do serves one request from testClient and returns the recorder.
func (f *apiFixture) do(method, path string, headers map[string]string, body string) *httptest.ResponseRecorder {
	f.t.Helper()
	return f.serve(testClient, method, path, headers, body)
}

// doFrom serves a body-less request from remoteAddr.
func (f *apiFixture) doFrom(remoteAddr, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	f.t.Helper()
	return f.serve(remoteAddr, method, path, headers, "")
}

func (f *apiFixture) serve(remoteAddr, method, path string, headers map[string]string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.RemoteAddr = remoteAddr
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func basic(email, password string) map[string]string {
	return map[string]string{
		"Authorization": "Basic " + base64.StdEncoding.EncodeToString([]byte(email+":"+password)),
	}
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

// login issues a token pair for email and fails the test otherwise.
func (f *apiFixture) login(email string) tokenResponse {
	f.t.Helper()
	rec := f.do(http.MethodGet, "/api/v1/auth/token", basic(email, testPassword), "")
	if rec.Code != http.StatusOK {
		f.t.Fatalf("login %s: status %d body %s", email, rec.Code, rec.Body.String())
	}
	var tok tokenResponse
	decodeBody(f.t, rec, &tok)
	return tok
}

// elevate logs in as the sysadmin and elevates the new pair.
func (f *apiFixture) elevate() tokenResponse {
	f.t.Helper()
	tok := f.login("admin@example.com")
	h := bearer(tok.AccessToken)
	h[elevationHeader] = base64.StdEncoding.EncodeToString([]byte(testPassword))
	if rec := f.do(http.MethodPost, "/api/v1/auth/elevation", h, ""); rec.Code != http.StatusNoContent {
		f.t.Fatalf("elevate: status %d body %s", rec.Code, rec.Body.String())
	}
	return tok
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding body %q: %v", rec.Body.String(), err)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var e Error
	decodeBody(t, rec, &e)
	return e.Code
}
