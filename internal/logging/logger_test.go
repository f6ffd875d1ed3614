package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Format: "json", Output: &buf})
	log.WithField("run_id", "r1").Info("hello")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["run_id"] != "r1" {
		t.Fatalf("expected run_id field, got %v", entry)
	}
}

func TestNewVerboseLevel(t *testing.T) {
	if lvl := New(Options{}).GetLevel(); lvl != logrus.InfoLevel {
		t.Fatalf("default level = %v, want info", lvl)
	}
	if lvl := New(Options{Verbose: true}).GetLevel(); lvl != logrus.DebugLevel {
		t.Fatalf("verbose level = %v, want debug", lvl)
	}
}
