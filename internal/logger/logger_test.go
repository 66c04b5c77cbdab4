package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewEmitsJSONOutsideDev(t *testing.T) {
	var buf bytes.Buffer
	log := New("prod", &buf)
	log.Warn().Str("issue", "PAY-1").Msg("fetch issue failed")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected a JSON line, got %q: %v", buf.String(), err)
	}
	if line["level"] != "warn" || line["issue"] != "PAY-1" || line["message"] != "fetch issue failed" {
		t.Fatalf("unexpected fields %v", line)
	}
	if _, ok := line["time"]; !ok {
		t.Fatalf("missing timestamp in %v", line)
	}
}

func TestNewUsesConsoleInDev(t *testing.T) {
	var buf bytes.Buffer
	log := New("dev", &buf)
	log.Info().Msg("listening")
	out := buf.String()
	if strings.HasPrefix(out, "{") || !strings.Contains(out, "listening") {
		t.Fatalf("expected console output, got %q", out)
	}
}
