package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testEvents = `[
  {"id": "e1", "title": "Wine Tour: Adams, 4", "description": "Email: adams@example.net\nPickup: Hotel Nikko",
   "start": {"date": "2025-05-01"}, "end": {"date": "2025-05-01"}},
  {"id": "e2", "title": "Wine Tour: Baker, 2", "description": "Phone: 415-555-0199",
   "start": {"date": "2025-05-03"}, "end": {"date": "2025-05-03"}},
  {"id": "x1", "title": "Staff meeting", "start": {"date": "2025-05-02"}, "end": {"date": "2025-05-02"}}
]`

const testMessages = `[
  {"id": "m1", "from": "adams@example.net", "subject": "Pickup time", "timestamp": "2025-04-28T10:00:00Z"},
  {"id": "m2", "from": "news@wineclub.com", "subject": "Spring sale", "timestamp": "2025-04-29T10:00:00Z"}
]`

type testEnv struct {
	dir  string
	db   string
	args []string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	db := filepath.Join(dir, "bookrecon.db")
	for name, content := range map[string]string{"events.json": testEvents, "messages.json": testMessages} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return &testEnv{
		dir: dir,
		db:  db,
		args: []string{
			"--config", filepath.Join(dir, "missing.yaml"),
			"--env-file", filepath.Join(dir, "missing.env"),
			"--db", db,
			"--db-driver", "sqlite",
		},
	}
}

func (e *testEnv) path(name string) string { return filepath.Join(e.dir, name) }

// run executes the CLI and returns what it printed to stdout.
func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	a := &app{out: &out}
	root := newRootCmd(a)
	root.SetArgs(append(append([]string{}, e.args...), args...))
	root.SetErr(io.Discard)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func (e *testEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	if err != nil {
		t.Fatalf("bookrecon %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func TestVersion(t *testing.T) {
	e := newTestEnv(t)
	out := e.mustRun(t, "version")
	if !strings.Contains(out, "bookrecon "+version) {
		t.Fatalf("unexpected version output: %q", out)
	}
}

func TestImportDryRunThenImport(t *testing.T) {
	e := newTestEnv(t)

	out := e.mustRun(t, "import", "--source", "file", "--file", e.path("events.json"), "--dry-run")
	if !strings.Contains(out, "Dry run mode") || !strings.Contains(out, "Would import:") {
		t.Fatalf("expected dry-run summary, got:\n%s", out)
	}
	if strings.Contains(out, "Tip: pass --dry-run") {
		t.Fatalf("dry run should not print the reminder:\n%s", out)
	}

	stats := e.mustRun(t, "stats")
	if !strings.Contains(stats, "Bookings:          0") {
		t.Fatalf("dry run wrote bookings:\n%s", stats)
	}

	out = e.mustRun(t, "import", "--source", "file", "--file", e.path("events.json"), "--verbose")
	if !strings.Contains(out, "Imported:") || !strings.Contains(out, "Tip: pass --dry-run") {
		t.Fatalf("expected import summary with reminder, got:\n%s", out)
	}
	if !strings.Contains(out, "HIST-00001") {
		t.Fatalf("verbose output should list booking numbers:\n%s", out)
	}

	out = e.mustRun(t, "import", "--source", "file", "--file", e.path("events.json"))
	if !strings.Contains(out, "Already imported:     2") {
		t.Fatalf("expected second import to be a no-op, got:\n%s", out)
	}

	stats = e.mustRun(t, "stats")
	if !strings.Contains(stats, "Bookings:          2 (2 imported)") {
		t.Fatalf("unexpected stats:\n%s", stats)
	}
	if !strings.Contains(stats, "Recent runs:") || !strings.Contains(stats, "import") {
		t.Fatalf("expected run history in stats:\n%s", stats)
	}
}

func TestReadOnlyRunsRecordNoHistory(t *testing.T) {
	e := newTestEnv(t)
	e.mustRun(t, "import", "--source", "file", "--file", e.path("events.json"), "--dry-run")
	e.mustRun(t, "match", "--source", "file", "--file", e.path("messages.json"), "-n")
	e.mustRun(t, "compliance", "--report-only")
	e.mustRun(t, "compliance", "--dry-run")

	stats := e.mustRun(t, "stats")
	if !strings.Contains(stats, "Runs:              0") || strings.Contains(stats, "Recent runs:") {
		t.Fatalf("read-only runs were recorded:\n%s", stats)
	}

	e.mustRun(t, "import", "--source", "file", "--file", e.path("events.json"))
	stats = e.mustRun(t, "stats")
	if !strings.Contains(stats, "Runs:              1") {
		t.Fatalf("expected one recorded run:\n%s", stats)
	}
}

func TestMatchAndCompliance(t *testing.T) {
	e := newTestEnv(t)
	e.mustRun(t, "import", "--source", "file", "--file", e.path("events.json"))

	out := e.mustRun(t, "match", "--source", "file", "--file", e.path("messages.json"))
	if !strings.Contains(out, "Matched:         1") || !strings.Contains(out, "Unmatched:       1") {
		t.Fatalf("unexpected match summary:\n%s", out)
	}

	out = e.mustRun(t, "timeline", "HIST-00001")
	if !strings.Contains(out, "Adams") || !strings.Contains(out, "historical_import") || !strings.Contains(out, "email_linked") {
		t.Fatalf("unexpected timeline:\n%s", out)
	}

	out = e.mustRun(t, "compliance", "--from", "2025-05-01", "--to", "2025-05-31")
	if !strings.Contains(out, "Bookings analyzed: 2") || !strings.Contains(out, "No driver assigned (2):") {
		t.Fatalf("unexpected compliance report:\n%s", out)
	}
	if !strings.Contains(out, "Compliance:        0.0%") {
		t.Fatalf("expected 0%% compliance:\n%s", out)
	}

	out = e.mustRun(t, "compliance", "--report-only", "--driver", "7")
	if !strings.Contains(out, "Bookings analyzed: 0") || !strings.Contains(out, "100.0%") {
		t.Fatalf("driver filter should skip driverless bookings:\n%s", out)
	}
}

func TestStatsJSON(t *testing.T) {
	e := newTestEnv(t)
	out := e.mustRun(t, "stats", "--json")
	if !strings.Contains(out, `"BookingCount": 0`) {
		t.Fatalf("unexpected JSON stats:\n%s", out)
	}
}

func TestRunLevelErrors(t *testing.T) {
	e := newTestEnv(t)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing file flag", []string{"import", "--source", "file"}, "needs --file"},
		{"unknown source", []string{"import", "--source", "outlook"}, "unknown event source"},
		{"unreadable file", []string{"match", "--source", "file", "--file", e.path("nope.json")}, "reading"},
		{"bad date", []string{"compliance", "--from", "05/01/2025"}, "not a YYYY-MM-DD date"},
		{"inverted range", []string{"import", "--source", "file", "--file", e.path("events.json"), "--from", "2025-06-01", "--to", "2025-05-01"}, "after --to"},
		{"bad driver", []string{"--db-driver", "mysql", "stats"}, "unknown db driver"},
		{"unknown booking", []string{"timeline", "HIST-09999"}, "no booking HIST-09999"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.run(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestParseRange(t *testing.T) {
	from, to, err := parseRange("2025-05-01", "2025-05-31")
	if err != nil {
		t.Fatalf("parseRange: %v", err)
	}
	if from.Format(dateLayout) != "2025-05-01" || to.Format(dateLayout) != "2025-06-01" {
		t.Fatalf("unexpected window %s..%s", from, to)
	}

	from, to, err = parseRange("", "")
	if err != nil || !from.IsZero() || !to.IsZero() {
		t.Fatalf("empty range should be unbounded, got %s..%s %v", from, to, err)
	}
}
