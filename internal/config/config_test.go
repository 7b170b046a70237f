package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validYAML = `
logging:
  level: debug
  console: true
storage:
  path: ./data/compdb.db
  busy_timeout: 5s
server:
  addr: ":8080"
scheduler:
  enabled: true
  timezone: UTC
source:
  endpoint: https://api.example.com/v1/chat/completions
  api_key: sk-test
  model: gpt-4o-mini
  batch_size: 5
  timeout: 2m
`

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "compdb.yaml", validYAML))

	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Errorf("unexpected logging config: %+v", cfg.Logging)
	}
	if cfg.Storage.Path != "./data/compdb.db" {
		t.Errorf("storage path = %q", cfg.Storage.Path)
	}
	if !cfg.Scheduler.Enabled || cfg.Scheduler.Timezone != "UTC" {
		t.Errorf("unexpected scheduler config: %+v", cfg.Scheduler)
	}
	if cfg.Source.BatchSize != 5 || cfg.Source.Model != "gpt-4o-mini" {
		t.Errorf("unexpected source config: %+v", cfg.Source)
	}
	if cfg.Telegram != nil {
		t.Error("telegram section should be nil when omitted")
	}
	if m.Get() != cfg {
		t.Error("Get must return the committed config")
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "compdb.json", `{
		"storage": {"path": "db.sqlite"},
		"source": {"endpoint": "https://api.example.com", "api_key": "k"},
		"telegram": {"enabled": true, "token": "bot:token", "chat_id": -100123}
	}`))

	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram == nil || cfg.Telegram.ChatID != -100123 {
		t.Fatalf("unexpected telegram config: %+v", cfg.Telegram)
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "compdb.yaml", validYAML+"\nbogus_section:\n  x: 1\n"))

	if _, err := m.Load(); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}

func TestLoadValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		wantSub string
	}{
		{
			name:    "missing storage path",
			yaml:    "source:\n  endpoint: https://api.example.com\n",
			wantSub: "storage.path",
		},
		{
			name:    "bad busy timeout",
			yaml:    "storage:\n  path: db.sqlite\n  busy_timeout: soon\n",
			wantSub: "storage.busy_timeout",
		},
		{
			name:    "bad source timeout",
			yaml:    "storage:\n  path: db.sqlite\nsource:\n  timeout: whenever\n",
			wantSub: "source.timeout",
		},
		{
			name:    "telegram enabled without token",
			yaml:    "storage:\n  path: db.sqlite\ntelegram:\n  enabled: true\n  chat_id: 1\n",
			wantSub: "telegram.token",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewManager(writeConfig(t, "compdb.yaml", tt.yaml))
			_, err := m.Load()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationField("x", "90s")
	if err != nil || d != 90*time.Second {
		t.Errorf("ParseDurationField(90s) = %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Errorf("empty value should parse to zero, got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "later"); err == nil {
		t.Error("expected error for invalid duration")
	}
	if d, err := ParseDurationOrDefault("x", "", 5*time.Second); err != nil || d != 5*time.Second {
		t.Errorf("ParseDurationOrDefault = %v, %v", d, err)
	}
}

func TestSubscribePublishDropOldest(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	a := &Config{}
	b := &Config{}
	m.publish(a)
	m.publish(b)

	got := <-ch
	if got != b {
		t.Error("a full buffer must drop the oldest config, keeping the newest")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed")
	}
	// Unsubscribing twice is harmless.
	m.Unsubscribe(ch)
}
