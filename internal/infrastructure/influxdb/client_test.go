package influxdb_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/tasklane-core/internal/infrastructure/config"
	"github.com/nerrad567/tasklane-core/internal/infrastructure/influxdb"
)

// fakeInflux serves /ping and captures line protocol posted to /api/v2/write.
type fakeInflux struct {
	*httptest.Server
	lines chan string
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{lines: make(chan string, 16)}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			w.WriteHeader(http.StatusNoContent)
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body) //nolint:errcheck // test server
			f.lines <- string(body)
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "tasklane-test-token",
		Org:           "tasklane",
		Bucket:        "auth",
		BatchSize:     10,
		FlushInterval: 1,
	}
}

func (f *fakeInflux) next(t *testing.T) string {
	t.Helper()
	select {
	case line := <-f.lines:
		return line
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for write")
		return ""
	}
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect(t *testing.T) {
	srv := newFakeInflux(t)

	client, err := influxdb.Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(t.Context()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Enabled = false

	if _, err := influxdb.Connect(cfg); !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	srv := newFakeInflux(t)
	url := srv.URL
	srv.Close()

	if _, err := influxdb.Connect(testConfig(url)); !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_DefaultBatchSettings(t *testing.T) {
	srv := newFakeInflux(t)
	cfg := testConfig(srv.URL)
	cfg.BatchSize = -1
	cfg.FlushInterval = 0

	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() with defaulted batch settings error = %v", err)
	}
	client.Close()
}

// =============================================================================
// Write Tests
// =============================================================================

func TestWriteAuthEvent(t *testing.T) {
	srv := newFakeInflux(t)
	client, err := influxdb.Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	client.WriteAuthEvent(influxdb.AuthEvent{
		Type:        "login_failed",
		Outcome:     influxdb.OutcomeFailure,
		Instance:    "tasklane-1",
		UserID:      7,
		TokenPairID: 0,
		Time:        time.Unix(1700000000, 0),
	})
	client.Flush()

	line := srv.next(t)
	for _, want := range []string{
		"auth_events,",
		"instance=tasklane-1",
		"outcome=failure",
		"type=login_failed",
		"count=1i",
		"user_id=7i",
		"service=tasklane",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
	if !strings.HasSuffix(strings.TrimSpace(line), " 1700000000") {
		t.Errorf("line %q should end with a second-precision timestamp", line)
	}
	if strings.Contains(line, "token_pair_id") {
		t.Errorf("zero token pair id should be omitted: %q", line)
	}
}

func TestWritePoint(t *testing.T) {
	srv := newFakeInflux(t)
	client, err := influxdb.Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	client.WritePoint("token_sweep", map[string]string{"instance": "a"}, map[string]interface{}{"expired_pairs": 3})
	client.Flush()

	if line := srv.next(t); !strings.HasPrefix(line, "token_sweep,instance=a,service=tasklane expired_pairs=3i") {
		t.Errorf("line = %q", line)
	}
}

func TestWriteAfterClose(t *testing.T) {
	srv := newFakeInflux(t)
	client, err := influxdb.Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	client.Close()

	// Writes and flushes after close are dropped silently.
	client.WriteAuthEvent(influxdb.AuthEvent{Type: "elevated", Outcome: influxdb.OutcomeSuccess})
	client.Flush()

	if err := client.HealthCheck(t.Context()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}
	select {
	case line := <-srv.lines:
		t.Errorf("unexpected write after close: %q", line)
	default:
	}
}

func TestFailedWritesCounted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ping" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		http.Error(w, `{"code":"invalid","message":"bucket not found"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	client, err := influxdb.Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	reported := make(chan error, 1)
	client.SetOnError(func(err error) {
		select {
		case reported <- err:
		default:
		}
	})

	client.WriteAuthEvent(influxdb.AuthEvent{Type: "login", Outcome: influxdb.OutcomeSuccess})
	client.Flush()

	select {
	case <-reported:
	case <-time.After(5 * time.Second):
		t.Fatal("write error was not reported")
	}
	if client.FailedWrites() < 1 {
		t.Errorf("FailedWrites() = %d, want at least 1", client.FailedWrites())
	}
}

func TestClose_Twice(t *testing.T) {
	srv := newFakeInflux(t)
	client, err := influxdb.Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestClose_Nil(t *testing.T) {
	client := &influxdb.Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on zero client error = %v", err)
	}
}
