package util

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestComponentLogger(t *testing.T) {
	logger := ComponentLogger("registry")

	var buf bytes.Buffer
	prev := SetOutput(&buf)
	defer SetOutput(prev)

	logger.Info().Uint32("id", 3).Msg("slot reset")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if line["app"] != AppName {
		t.Errorf("app = %v, want %s", line["app"], AppName)
	}
	if line["component"] != "registry" {
		t.Errorf("component = %v, want registry", line["component"])
	}
	if line["message"] != "slot reset" {
		t.Errorf("message = %v", line["message"])
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug": zerolog.DebugLevel,
		"WARN":  zerolog.WarnLevel,
		"":      zerolog.InfoLevel,
		"loud":  zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSizeCappedStopsAtLimit(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "cap.log"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	w := &sizeCapped{f: f, limit: 10}
	for range 3 {
		if n, err := w.Write([]byte("12345")); err != nil || n != 5 {
			t.Fatalf("Write = %d, %v", n, err)
		}
	}
	st, _ := f.Stat()
	if st.Size() != 10 {
		t.Fatalf("file size = %d, want 10", st.Size())
	}
}

func TestCleanOldLogsKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	for i := range 4 {
		path := filepath.Join(dir, logFileName(base.AddDate(0, 0, -i)))
		if err := os.WriteFile(path, nil, 0644); err != nil {
			t.Fatal(err)
		}
		mod := base.Add(-time.Duration(i) * time.Minute)
		os.Chtimes(path, mod, mod)
	}
	other := filepath.Join(dir, "other.log")
	os.WriteFile(other, nil, 0644)

	cleanOldLogs(dir, 2)

	for i := range 4 {
		_, err := os.Stat(filepath.Join(dir, logFileName(base.AddDate(0, 0, -i))))
		if kept := err == nil; kept != (i < 2) {
			t.Errorf("file %d kept = %v", i, kept)
		}
	}
	if _, err := os.Stat(other); err != nil {
		t.Errorf("unrelated log removed: %v", err)
	}
}
