package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDecodeFormats(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		file string
		body string
	}{
		{"json", "c.json", `{"telegram":{"token":"t"},"watch":{"schedule":"2h","workers":4}}`},
		{"yaml", "c.yaml", "telegram:\n  token: t\nwatch:\n  schedule: 2h\n  workers: 4\n"},
		{"toml", "c.toml", "[telegram]\ntoken = \"t\"\n[watch]\nschedule = \"2h\"\nworkers = 4\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := Decode(tc.file, []byte(tc.body))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if cfg.Watch.Schedule != "2h" || cfg.Watch.Workers != 4 {
				t.Fatalf("unexpected watch section: %+v", cfg.Watch)
			}
			if cfg.Storage.Driver != "sqlite" || cfg.Storage.Path != DefaultStorePath {
				t.Fatalf("storage defaults not applied: %+v", cfg.Storage)
			}
			if !cfg.RunOnStart() {
				t.Fatalf("run_on_start should default to true")
			}
			if cfg.FetchTimeout() != DefaultFetchTimeout {
				t.Fatalf("fetch timeout=%v", cfg.FetchTimeout())
			}
		})
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		want string
	}{
		{"unknown field", `{"telegram":{"token":"t"},"bogus":1}`, "unknown field"},
		{"trailing data", `{"telegram":{"token":"t"}}{}`, "trailing data"},
		{"missing token", `{}`, "telegram.token is required"},
		{"bad duration", `{"telegram":{"token":"t"},"watch":{"fetch_timeout":"soon"}}`, "watch.fetch_timeout: invalid duration"},
		{"bad driver", `{"telegram":{"token":"t"},"storage":{"driver":"mongo"}}`, "storage.driver"},
		{"feed without domains", `{"telegram":{"token":"t"},"sources":{"feeds":[{"name":"x"}]}}`, "domains is empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode("c.json", []byte(tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%v, want containing %q", err, tc.want)
			}
		})
	}
}

func TestRunOnStartExplicitFalse(t *testing.T) {
	t.Parallel()

	cfg, err := Decode("c.json", []byte(`{"telegram":{"token":"t"},"watch":{"run_on_start":false}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.RunOnStart() {
		t.Fatalf("run_on_start=false was ignored")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	a, _ := Decode("c.json", []byte(`{"telegram":{"token":"t"}}`))
	b, _ := Decode("c.json", []byte(`{"telegram":{"token":"t"},"watch":{"schedule":"1h"},"storage":{"path":"x.db"}}`))
	changed, _ := SummarizeConfigChange(a, b)
	if strings.Join(changed, ",") != "storage,watch" {
		t.Fatalf("changed=%v", changed)
	}
	if got := RequiresRestart(changed); len(got) != 1 || got[0] != "storage" {
		t.Fatalf("restart=%v", got)
	}
}

func TestWatchPublishesChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"telegram":{"token":"t"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte(`{"telegram":{"token":"t"},"watch":{"schedule":"1h"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-ch:
		if cfg.Watch.Schedule != "1h" {
			t.Fatalf("schedule=%q", cfg.Watch.Schedule)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no config published")
	}
}
