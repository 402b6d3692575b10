package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mangawatch/internal/source"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := "[telegram]\ntoken = \"123:abc\"\n\n[storage]\ndriver = \"sqlite\"\npath = \"" +
		filepath.ToSlash(filepath.Join(dir, "watch.db")) + "\"\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestAddThenListWorks(t *testing.T) {
	cfg := writeConfig(t)

	out, err := execute(t, "--config", cfg, "works")
	if err != nil {
		t.Fatalf("works: %v", err)
	}
	if !strings.Contains(out, "No works tracked") {
		t.Fatalf("works output = %q", out)
	}

	if out, err = execute(t, "--config", cfg, "add", "https://sing-manga.com/manga/solo/"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !strings.Contains(out, "Tracking https://sing-manga.com/manga/solo/") {
		t.Fatalf("add output = %q", out)
	}

	if _, err = execute(t, "--config", cfg, "add", "http://sing-manga.com/manga/solo/"); err == nil {
		t.Fatalf("expected http URL to be rejected")
	}

	out, err = execute(t, "--config", cfg, "works")
	if err != nil {
		t.Fatalf("works: %v", err)
	}
	for _, want := range []string{"Untitled", "https://sing-manga.com/manga/solo/"} {
		if !strings.Contains(out, want) {
			t.Fatalf("works output missing %q:\n%s", want, out)
		}
	}
}

func TestChannelsEmpty(t *testing.T) {
	out, err := execute(t, "--config", writeConfig(t), "channels")
	if err != nil {
		t.Fatalf("channels: %v", err)
	}
	if !strings.Contains(out, "No destinations registered") {
		t.Fatalf("channels output = %q", out)
	}
}

func TestRenderTablePadsShortRows(t *testing.T) {
	got := renderTable([]string{"A", "B"}, [][]string{{"x"}}, []columnAlignment{alignLeft, alignRight})
	if !strings.Contains(got, "x") || !strings.Contains(got, "A") {
		t.Fatalf("table = %q", got)
	}
	if renderTable(nil, nil, nil) != "" {
		t.Fatalf("empty headers should render nothing")
	}
}

func TestExtractRejectsPlainHTTP(t *testing.T) {
	_, err := execute(t, "--config", writeConfig(t), "extract", "http://sing-manga.com/manga/solo/")
	if !errors.Is(err, source.ErrNotHTTPS) {
		t.Fatalf("err=%v, want ErrNotHTTPS", err)
	}
}
