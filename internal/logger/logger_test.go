package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPrepareLogFileUsesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	got, err := prepareLogFile(Options{Dir: tmpDir})
	if err != nil {
		t.Fatalf("resolve log path failed: %v", err)
	}
	if filepath.Base(got) != rotateDefaults.Filename {
		t.Fatalf("unexpected log filename: %s", filepath.Base(got))
	}
	if _, err := os.Stat(got); err != nil {
		t.Fatalf("expected log file to be created: %v", err)
	}
}

func TestNewReleaseWritesJSONToFile(t *testing.T) {
	tmpDir := t.TempDir()
	log := New("release", Options{Dir: tmpDir, Filename: "settle.log"})
	log.Info("payout_submit_accepted")
	_ = log.Sync()

	content, err := os.ReadFile(filepath.Join(tmpDir, "settle.log"))
	if err != nil {
		t.Fatalf("read release log failed: %v", err)
	}
	if !strings.Contains(string(content), `"message":"payout_submit_accepted"`) {
		t.Fatalf("expected json line with message, got=%s", string(content))
	}
}

func TestNewDebugDoesNotWriteFile(t *testing.T) {
	tmpDir := t.TempDir()
	log := New("debug", Options{Dir: tmpDir, Filename: "debug.log"})
	log.Info("debug-log-test")
	_ = log.Sync()

	if _, err := os.Stat(filepath.Join(tmpDir, "debug.log")); !os.IsNotExist(err) {
		t.Fatalf("debug mode should not create log file")
	}
}

func TestPositiveOr(t *testing.T) {
	if positiveOr(0, 7) != 7 || positiveOr(-1, 7) != 7 || positiveOr(3, 7) != 3 {
		t.Fatalf("positiveOr returned unexpected values")
	}
}

func TestResolveLevel(t *testing.T) {
	if got := resolveLevel("", false).Level().String(); got != "info" {
		t.Fatalf("release default want info got %s", got)
	}
	if got := resolveLevel("", true).Level().String(); got != "debug" {
		t.Fatalf("debug default want debug got %s", got)
	}
	if got := resolveLevel(" WARN ", false).Level().String(); got != "warn" {
		t.Fatalf("explicit level want warn got %s", got)
	}
	if got := resolveLevel("verbose", false).Level().String(); got != "info" {
		t.Fatalf("unknown level should fall back to info, got %s", got)
	}
}

func TestReleaseLevelFiltersInfo(t *testing.T) {
	tmpDir := t.TempDir()
	log := New("release", Options{Dir: tmpDir, Filename: "warn.log", Level: "warn"})
	log.Info("payout_webhook_received")
	log.Warn("payout_webhook_event_discarded")
	_ = log.Sync()

	content, err := os.ReadFile(filepath.Join(tmpDir, "warn.log"))
	if err != nil {
		t.Fatalf("read log failed: %v", err)
	}
	if strings.Contains(string(content), "payout_webhook_received") {
		t.Fatalf("info line should be filtered at warn level")
	}
	if !strings.Contains(string(content), "payout_webhook_event_discarded") {
		t.Fatalf("warn line missing, got=%s", string(content))
	}
}
