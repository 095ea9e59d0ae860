package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/nerrad567/tasklane-core/internal/auth"
	"github.com/nerrad567/tasklane-core/internal/infrastructure/config"
	"github.com/nerrad567/tasklane-core/internal/infrastructure/database"
	"github.com/nerrad567/tasklane-core/internal/infrastructure/mqtt"
)

var errPasswordMismatch = errors.New("passwords do not match")

// hashPassword prints the PHC hash of a password read from in. A terminal
// is prompted twice without echo; anything else is read as one line.
func hashPassword(in *os.File, out io.Writer) error {
	password, err := readPassword(in, out)
	if err != nil {
		return err
	}
	if password == "" {
		return errors.New("password is empty")
	}

	params := auth.DefaultPasswordParams()
	if cfg, cfgErr := config.Load(getConfigPath()); cfgErr == nil {
		params = passwordParams(cfg.Security.Password)
	}

	hash, err := auth.NewPasswordHasher(params).Hash(password)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, hash)
	return nil
}

func readPassword(in *os.File, out io.Writer) (string, error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(out, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}

	fmt.Fprint(out, "Confirm: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}

	if string(first) != string(second) {
		return "", errPasswordMismatch
	}
	return string(first), nil
}

// watchEvents subscribes to every security event topic and prints one line
// per event until ctx is cancelled.
func watchEvents(ctx context.Context, out io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.MQTT.Enabled {
		return errors.New("mqtt is disabled in the configuration")
	}

	// Broker client IDs must be unique per connection.
	cfg.MQTT.Broker.ClientID = cfg.MQTT.Broker.ClientID + "-watch-" + uuid.NewString()[:8]

	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer client.Close() //nolint:errcheck // exiting

	topics := client.Topics()
	lines := make(chan string, 64)
	err = client.Subscribe(topics.AllSecurityEvents(), byte(cfg.MQTT.QoS), func(topic string, payload []byte) error {
		line, fmtErr := formatEvent(topics, topic, payload)
		if fmtErr != nil {
			return fmtErr
		}
		select {
		case lines <- line:
		default:
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("subscribing to security events: %w", err)
	}

	defer client.Unsubscribe(topics.AllSecurityEvents()) //nolint:errcheck // exiting

	fmt.Fprintf(out, "watching %s\n", topics.AllSecurityEvents())
	for {
		select {
		case <-ctx.Done():
			return nil
		case line := <-lines:
			fmt.Fprintln(out, line)
		}
	}
}

// formatEvent renders one bus message as a log-style line.
func formatEvent(topics mqtt.Topics, topic string, payload []byte) (string, error) {
	var ev auth.SecurityEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return "", fmt.Errorf("decoding event on %s: %w", topic, err)
	}
	if ev.Type == "" {
		ev.Type = auth.EventType(topics.EventType(topic))
	}

	var b strings.Builder
	b.WriteString(ev.Time.UTC().Format(time.RFC3339))
	b.WriteByte(' ')
	b.WriteString(string(ev.Type))
	if ev.UserID != 0 {
		fmt.Fprintf(&b, " user=%d", ev.UserID)
	}
	if ev.TokenPairID != 0 {
		fmt.Fprintf(&b, " pair=%d", ev.TokenPairID)
	}
	if ev.Subject != "" {
		fmt.Fprintf(&b, " subject=%s", ev.Subject)
	}
	if ev.RemoteAddr != "" {
		fmt.Fprintf(&b, " addr=%s", ev.RemoteAddr)
	}
	return b.String(), nil
}

// migrate applies pending migrations, rolls back the latest one, or prints
// the schema version of the configured database.
func migrate(ctx context.Context, args []string, out io.Writer) error {
	action := "up"
	if len(args) > 0 {
		action = args[0]
	}
	if action != "up" && action != "down" && action != "version" {
		return fmt.Errorf("unknown migrate action %q (want up, down or version)", action)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // exiting

	switch action {
	case "up":
		err = db.Migrate(ctx)
	case "down":
		err = db.MigrateDown(ctx, database.MigrationsFS, database.MigrationsDir)
	}
	if err != nil {
		return err
	}

	version, err := db.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: schema version %d\n", db.Path(), version)
	return nil
}
