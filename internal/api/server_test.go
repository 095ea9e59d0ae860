package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/nerrad567/tasklane-core/internal/infrastructure/logging"
)

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() with empty deps should fail")
	}
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t, fixtureOptions{})

	rec := f.do(http.MethodGet, "/api/v1/health", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Status  string            `json:"status"`
		Version string            `json:"version"`
		Checks  map[string]string `json:"checks"`
	}
	decodeBody(t, rec, &body)
	if body.Status != "ok" || body.Version != "test" {
		t.Errorf("body = %+v", body)
	}
	if body.Checks["database"] != "ok" {
		t.Errorf("database check = %q, want ok", body.Checks["database"])
	}
}

func TestHealth_DatabaseDown(t *testing.T) {
	f := newAPIFixture(t, fixtureOptions{})
	f.db.Close() //nolint:errcheck // simulating an outage

	rec := f.do(http.MethodGet, "/api/v1/health", nil, "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestRequestID(t *testing.T) {
	f := newAPIFixture(t, fixtureOptions{})

	rec := f.do(http.MethodGet, "/api/v1/health", nil, "")
	if _, err := uuid.Parse(rec.Header().Get("X-Request-ID")); err != nil {
		t.Errorf("X-Request-ID %q is not a UUID: %v", rec.Header().Get("X-Request-ID"), err)
	}

	rec = f.do(http.MethodGet, "/api/v1/health", map[string]string{"X-Request-ID": "trace-42"}, "")
	if got := rec.Header().Get("X-Request-ID"); got != "trace-42" {
		t.Errorf("X-Request-ID = %q, want client value echoed", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newAPIFixture(t, fixtureOptions{})
	f.srv.cfg.CORS.AllowedOrigins = []string{"https://app.example.com"}

	rec := f.do(http.MethodOptions, "/api/v1/auth/token", map[string]string{
		"Origin":                        "https://app.example.com",
		"Access-Control-Request-Method": "GET",
	}, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), elevationHeader) {
		t.Errorf("Allow-Headers %q should include %s", rec.Header().Get("Access-Control-Allow-Headers"), elevationHeader)
	}

	rec = f.do(http.MethodOptions, "/api/v1/auth/token", map[string]string{"Origin": "https://evil.example.com"}, "")
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("unlisted origin should not be allowed")
	}
}

func TestUnknownRoute(t *testing.T) {
	f := newAPIFixture(t, fixtureOptions{})

	if rec := f.do(http.MethodGet, "/api/v1/nope", nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t, fixtureOptions{})

	f.do(http.MethodGet, "/api/v1/auth/token", basic("dev@example.com", "wrong"), "")
	f.login("dev@example.com")

	rec := f.do(http.MethodGet, "/api/v1/metrics", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`tasklane_http_requests_total{method="GET",route="/api/v1/auth/token",status="200"} 1`,
		`tasklane_http_requests_total{method="GET",route="/api/v1/auth/token",status="401"} 1`,
		`tasklane_auth_failures_total{reason="invalid"} 1`,
		"tasklane_http_request_duration_seconds",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestAccessLog_CarriesCaller(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.Logger{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	f := newAPIFixture(t, fixtureOptions{logger: &logger})
	tok := f.login("dev@example.com")

	buf.Reset()
	f.do(http.MethodGet, "/api/v1/users/me", bearer(tok.AccessToken), "")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("access log is not one JSON line: %v\n%s", err, buf.String())
	}
	if line["msg"] != "http request" || line["path"] != "/api/v1/users/me" {
		t.Errorf("unexpected log line: %v", line)
	}
	if line["user_id"] != float64(f.dev.ID) || line["pair_id"] != float64(tok.ID) {
		t.Errorf("user_id/pair_id = %v/%v, want %d/%d", line["user_id"], line["pair_id"], f.dev.ID, tok.ID)
	}
	if line["remote_addr"] != "192.0.2.10" {
		t.Errorf("remote_addr = %v", line["remote_addr"])
	}
	if strings.Contains(buf.String(), tok.AccessToken) {
		t.Error("access log must not contain the bearer token")
	}
}

func TestCORS_EmptyAllowListAdmitsAnyOrigin(t *testing.T) {
	f := newAPIFixture(t, fixtureOptions{})

	rec := f.do(http.MethodOptions, "/api/v1/auth/token", map[string]string{"Origin": "https://anywhere.example.com"}, "")
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://anywhere.example.com" {
		t.Errorf("Allow-Origin = %q, want the request origin", got)
	}
}
