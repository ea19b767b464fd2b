package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.conf")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadParsesRecognizedKeys(t *testing.T) {
	path := writeTempConfig(t, "# a comment\nport = 9981\nthreads = 4\nuse = epoll\nlogfile = /tmp/x.log\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 9981 {
		t.Errorf("Port = %d, want 9981", cfg.Port)
	}
	if cfg.Threads != 4 {
		t.Errorf("Threads = %d, want 4", cfg.Threads)
	}
	if !cfg.UseEpoll {
		t.Error("UseEpoll = false, want true")
	}
	if cfg.LogFile != "/tmp/x.log" {
		t.Errorf("LogFile = %q", cfg.LogFile)
	}
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	path := writeTempConfig(t, "port = 80\nbogus = 1\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an unrecognized key")
	}
}

func TestLoadRejectsBadUseValue(t *testing.T) {
	path := writeTempConfig(t, "use = select\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an invalid \"use\" value")
	}
}

func TestLoadDefaultsThreadsToOne(t *testing.T) {
	path := writeTempConfig(t, "port = 80\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Threads != 1 {
		t.Errorf("Threads = %d, want 1", cfg.Threads)
	}
}
