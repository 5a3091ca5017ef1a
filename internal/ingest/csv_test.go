package ingest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Napageneral/scribe/internal/model"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "export.csv")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return path
}

func TestReadCSV(t *testing.T) {
	path := writeCSV(t, `guid,kind,date,handle,is_from_me,is_read,text,media_id,media_filename,media_mime,tapback_kind,tapback_target,reply_to_guid
g1,text,2024-03-01T12:00:00Z,alice,0,1,Hi!,,,,,,
g2,media,2024-03-01T12:01:00Z,alice,0,0,,att-1,IMG_001.jpeg,image/jpeg,,,
g3,tapback,2024-03-01T12:02:00Z,bob,1,0,,,,,love,g1,
g4,text,1709294520,alice,0,0,replying,,,,,,"g1"
`)

	msgs, err := ReadCSV(path)
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}

	if msgs[0].Kind != model.KindText || msgs[0].Text == nil || *msgs[0].Text != "Hi!" {
		t.Errorf("text row parsed wrong: %+v", msgs[0])
	}
	if !msgs[0].IsRead || msgs[0].IsFromMe {
		t.Errorf("bool columns parsed wrong: %+v", msgs[0])
	}
	want := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if !msgs[0].Date.Equal(want) {
		t.Errorf("date = %v, want %v", msgs[0].Date, want)
	}

	if msgs[1].Kind != model.KindMedia || msgs[1].Media == nil {
		t.Fatalf("media row parsed wrong: %+v", msgs[1])
	}
	if msgs[1].Media.ID != "att-1" || msgs[1].Media.MimeType != "image/jpeg" {
		t.Errorf("media descriptor wrong: %+v", msgs[1].Media)
	}

	if msgs[2].Kind != model.KindTapback || msgs[2].Tapback == nil {
		t.Fatalf("tapback row parsed wrong: %+v", msgs[2])
	}
	if msgs[2].Tapback.Kind != "love" || msgs[2].Tapback.TargetMessageGUID != "g1" {
		t.Errorf("tapback fields wrong: %+v", msgs[2].Tapback)
	}

	if msgs[3].Reply == nil || msgs[3].Reply.TargetMessageGUID != "g1" {
		t.Errorf("reply association wrong: %+v", msgs[3].Reply)
	}
	// Unix-seconds dates are accepted too.
	if msgs[3].Date.Year() != 2024 {
		t.Errorf("unix date parsed wrong: %v", msgs[3].Date)
	}
}

func TestReadCSVGeneratesMissingGUIDs(t *testing.T) {
	path := writeCSV(t, `guid,kind,date,handle,text
,text,2024-03-01T12:00:00Z,alice,hello
,text,2024-03-01T12:01:00Z,alice,world
`)

	msgs, err := ReadCSV(path)
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	if msgs[0].GUID == "" || msgs[1].GUID == "" {
		t.Fatalf("rows without guid should get generated ones")
	}
	if msgs[0].GUID == msgs[1].GUID {
		t.Errorf("generated guids must be unique")
	}
}

func TestReadCSVMissingDateColumn(t *testing.T) {
	path := writeCSV(t, "guid,text\ng1,hello\n")
	if _, err := ReadCSV(path); err == nil {
		t.Fatalf("expected error for export without a date column")
	}
}

func TestReadCSVMissingFile(t *testing.T) {
	if _, err := ReadCSV(filepath.Join(t.TempDir(), "nope.csv")); err == nil {
		t.Fatalf("expected error for missing export file")
	}
}

func TestAppleTime(t *testing.T) {
	// Nanoseconds since 2001-01-01.
	ns := int64(700_000_000) * 1_000_000_000
	got := appleTime(ns)
	want := appleEpoch.Add(700_000_000 * time.Second)
	if !got.Equal(want) {
		t.Errorf("nanosecond appleTime = %v, want %v", got, want)
	}

	// Legacy databases store plain seconds.
	if got := appleTime(700_000_000); !got.Equal(want) {
		t.Errorf("second appleTime = %v, want %v", got, want)
	}
}
