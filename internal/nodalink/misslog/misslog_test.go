package misslog_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nodalink/nodalink/internal/nodalink/misslog"
)

func rec(id, ts string) misslog.Record {
	return misslog.Record{
		Timestamp:  ts,
		ScenarioID: id,
		Context:    map[string]any{"room": "kitchen"},
	}
}

func TestAppendRead_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "unmatched.log")
	w := misslog.NewWriter(path)

	if err := w.Append(rec("kitchen|07-08|weekday||single_press", "2025-06-02T07:30:00Z")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Append(rec("hall|20-21", "2025-06-02T20:05:00Z")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	records, err := misslog.Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("read %d records, want 2", len(records))
	}
	if records[0].ScenarioID != "kitchen|07-08|weekday||single_press" {
		t.Errorf("unexpected first record %+v", records[0])
	}
	if records[0].Context["room"] != "kitchen" {
		t.Errorf("context lost: %+v", records[0].Context)
	}
}

func TestRead_MissingFile(t *testing.T) {
	records, err := misslog.Read(filepath.Join(t.TempDir(), "absent.log"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records, got %d", len(records))
	}
}

func TestRead_SkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unmatched.log")
	content := `{"timestamp":"t1","scenario_id":"a|07-08","context":{}}
not json at all
{"timestamp":"t2","scenario_id":"b|08-09","context":{}}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	records, err := misslog.Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("read %d records, want 2 (malformed line skipped)", len(records))
	}
}

func TestSuggestions_OrderedByCountThenRecency(t *testing.T) {
	var records []misslog.Record
	for i := 0; i < 5; i++ {
		records = append(records, rec("kitchen|07-08", "2025-06-02T07:00:00Z"))
	}
	records = append(records, rec("hall|20-21", "2025-06-03T20:00:00Z"))
	records = append(records, rec("hall|20-21", "2025-06-04T20:00:00Z"))
	records = append(records, rec("office|09-10", "2025-06-05T09:00:00Z"))
	records = append(records, rec("office|09-10", "2025-06-01T09:00:00Z"))

	got := misslog.Suggestions(records, 10)
	if len(got) != 3 {
		t.Fatalf("got %d suggestions, want 3", len(got))
	}
	if got[0].ScenarioID != "kitchen|07-08" || got[0].Count != 5 {
		t.Errorf("first suggestion = %+v, want kitchen count 5", got[0])
	}
	// hall last seen 06-04 beats office last seen 06-01 at equal counts.
	if got[1].ScenarioID != "hall|20-21" {
		t.Errorf("second suggestion = %+v, want hall", got[1])
	}
	if got[0].FirstSeen != "2025-06-02T07:00:00Z" {
		t.Errorf("first_seen = %q", got[0].FirstSeen)
	}
}

func TestSuggestions_Truncates(t *testing.T) {
	var records []misslog.Record
	for i := 0; i < 15; i++ {
		records = append(records, rec(string(rune('a'+i))+"|07-08", "t"))
	}
	if got := misslog.Suggestions(records, 0); len(got) != 10 {
		t.Errorf("default limit should be 10, got %d", len(got))
	}
	if got := misslog.Suggestions(records, 3); len(got) != 3 {
		t.Errorf("limit 3 returned %d", len(got))
	}
}
