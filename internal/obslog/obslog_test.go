package obslog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestInitWritesJSONFile(t *testing.T) {
	t.Cleanup(func() { Replace(nil) })
	path := filepath.Join(t.TempDir(), "nested", "sg.log")
	err := Init(Options{Level: zapcore.InfoLevel, Format: "json", ToFile: true, FilePath: path})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	Component("ratelimit").Info("rate_limit_denied")
	_ = L().Sync()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(raw), `"logger":"ratelimit"`) || !strings.Contains(string(raw), "rate_limit_denied") {
		t.Fatalf("unexpected log output: %s", raw)
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("WARNING") != zapcore.WarnLevel || parseLevel("bogus") != zapcore.InfoLevel {
		t.Fatalf("parseLevel mismatch")
	}
}
