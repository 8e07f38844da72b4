package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig() returned an unexpected error: %v", err)
	}

	if cfg.Port != 11000 || cfg.TickRate != 60 {
		t.Errorf("unexpected defaults: port %d tick rate %d", cfg.Port, cfg.TickRate)
	}
	if !cfg.Replication.EnforceOwnership || !cfg.Replication.DestroyOwnedOnDisconnect {
		t.Errorf("replication safety defaults should be enabled")
	}
	if cfg.Transport.PollWait != 200*time.Microsecond {
		t.Errorf("Transport.PollWait = %v, want 200µs", cfg.Transport.PollWait)
	}
	if cfg.Database.Engine != "sqlite" {
		t.Errorf("Database.Engine = %s, want sqlite", cfg.Database.Engine)
	}
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	contents := `
hostname: 127.0.0.1
port: 12000
tick_rate: 30
transport:
  message_timeout: 250ms
  max_messages_per_poll: 8
replication:
  enforce_ownership: false
database:
  engine: postgres
  host: db.local
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(contents), 0644); err != nil {
		t.Fatalf("error writing test config: %v", err)
	}
	t.Setenv("ROOST_DATABASE_HOST", "db.override")
	t.Setenv("ROOST_LOG_LEVEL", "debug")

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig() returned an unexpected error: %v", err)
	}

	got := []interface{}{
		cfg.ServerAddress(),
		cfg.TickInterval(),
		cfg.Transport.MessageTimeout,
		cfg.Transport.MaxMessagesPerPoll,
		cfg.Replication.EnforceOwnership,
		cfg.Database.Engine,
		cfg.Database.Host,
		cfg.LogLevel,
	}
	want := []interface{}{
		"127.0.0.1:12000",
		time.Second / 30,
		250 * time.Millisecond,
		8,
		false,
		"postgres",
		"db.override",
		"debug",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("loaded config did not match; diff:\n%s", diff)
	}
}

func TestLoadConfig_Malformed(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("port: [nope"), 0644); err != nil {
		t.Fatalf("error writing test config: %v", err)
	}
	if _, err := LoadConfig(dir); err == nil {
		t.Errorf("LoadConfig() accepted a malformed file")
	}
}

func TestConfig_DatabaseURL(t *testing.T) {
	cfg := &Config{}
	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.Name = "testdb"
	cfg.Database.Username = "testuser"
	cfg.Database.Password = "testpassword"

	url := cfg.DatabaseURL()
	expected := "host=localhost port=5432 dbname=testdb user=testuser password=testpassword sslmode="
	if url != expected {
		t.Errorf("DatabaseURL() want = %s, got = %s", expected, url)
	}
}

func TestConfig_TransportOptions(t *testing.T) {
	cfg := &Config{}
	cfg.Transport.PollWait = time.Millisecond
	cfg.Transport.MaxMessageSize = 512

	opts := cfg.TransportOptions()
	if opts.PollWait != time.Millisecond || opts.MaxMessageSize != 512 {
		t.Errorf("TransportOptions() = %+v", opts)
	}
}

func TestNewLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roost.log")
	logger, err := NewLogger(&Config{LogLevel: "warn", LogFilePath: path})
	if err != nil {
		t.Fatalf("NewLogger() returned an unexpected error: %v", err)
	}
	if logger.Level != logrus.WarnLevel {
		t.Errorf("logger level = %v, want warn", logger.Level)
	}
	logger.Info("dropped")
	logger.Warn("kept")

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("error reading log file: %v", err)
	}
	if got := string(contents); !strings.Contains(got, "kept") || strings.Contains(got, "dropped") {
		t.Errorf("log file contents = %q", got)
	}

	if _, err := NewLogger(&Config{LogLevel: "loud"}); err == nil {
		t.Errorf("NewLogger() accepted an unknown level")
	}
}

