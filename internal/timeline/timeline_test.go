package timeline

import (
	"testing"
	"time"

	"github.com/Napageneral/scribe/internal/model"
)

func msg(guid string, date time.Time, handle string, fromMe bool) model.Message {
	m := model.Message{GUID: guid, Kind: model.KindText, Date: date, IsFromMe: fromMe}
	if handle != "" {
		m.Handle = &handle
	}
	return m
}

func TestAggregateGroupsByDay(t *testing.T) {
	d1 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	d2 := time.Date(2024, 3, 2, 21, 0, 0, 0, time.UTC)

	msgs := []model.Message{
		msg("a", d1, "alice", false),
		msg("b", d1.Add(time.Hour), "alice", false),
		msg("c", d1.Add(2*time.Hour), "", true),
		msg("d", d2, "bob", false),
	}

	days := Aggregate(msgs, Options{})
	if len(days) != 2 {
		t.Fatalf("expected 2 days, got %d", len(days))
	}
	if days[0].Date != "2024-03-01" || days[0].TotalMessages != 3 {
		t.Errorf("day 1 wrong: %+v", days[0])
	}
	if days[0].BySender["alice"] != 2 || days[0].BySender["me"] != 1 {
		t.Errorf("sender grouping wrong: %v", days[0].BySender)
	}
	if days[0].ByTimeOfDay["morning"] != 2 {
		t.Errorf("time-of-day grouping wrong: %v", days[0].ByTimeOfDay)
	}
	if days[1].ByTimeOfDay["evening"] != 1 {
		t.Errorf("evening grouping wrong: %v", days[1].ByTimeOfDay)
	}
}

func TestAggregateDateWindow(t *testing.T) {
	msgs := []model.Message{
		msg("a", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), "alice", false),
		msg("b", time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC), "alice", false),
	}

	days := Aggregate(msgs, Options{
		StartDate: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC),
	})
	if len(days) != 1 || days[0].Date != "2024-03-05" {
		t.Errorf("window filtering wrong: %+v", days)
	}
}

func TestAggregateCountsEnriched(t *testing.T) {
	m := msg("a", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), "alice", false)
	m.Enrichments = []model.Enrichment{{Kind: "link_analysis", Provider: "gemini", Version: "1"}}

	days := Aggregate([]model.Message{m}, Options{})
	if days[0].Enriched != 1 {
		t.Errorf("expected 1 enriched message, got %d", days[0].Enriched)
	}
}
