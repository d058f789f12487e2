package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/orrn/printdesk/internal/config"
)

func TestNew_JSONFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithOutput(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)

	if logger.GetLevel() != logrus.WarnLevel {
		t.Fatalf("level = %s", logger.GetLevel())
	}

	WithService(logger, "printdesk").WithField("job_id", "j1").Warn("publish failed")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected json line, got %q: %v", buf.String(), err)
	}
	if entry["service"] != "printdesk" || entry["job_id"] != "j1" {
		t.Fatalf("entry = %v", entry)
	}
}

func TestNew_TextFormatFallbackLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithOutput(config.LoggingConfig{Level: "nonsense", Format: "text"}, &buf)

	if logger.GetLevel() != logrus.InfoLevel {
		t.Fatalf("level = %s, want info", logger.GetLevel())
	}

	logger.Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Fatalf("text output = %q", buf.String())
	}
}
