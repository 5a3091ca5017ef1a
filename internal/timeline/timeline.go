package timeline

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Napageneral/scribe/internal/model"
)

// DayStats holds aggregated statistics for a single day
type DayStats struct {
	Date          string         // YYYY-MM-DD format
	TotalMessages int            // Total messages on this day
	BySender      map[string]int // Messages grouped by sender handle
	ByKind        map[string]int // Messages grouped by kind
	ByTimeOfDay   map[string]int // morning / afternoon / evening / night
	Enriched      int            // Messages carrying at least one enrichment
}

// Options specifies what time period to aggregate
type Options struct {
	StartDate time.Time
	EndDate   time.Time
}

// Aggregate computes per-day statistics over a corpus for the given period.
// A zero StartDate/EndDate means unbounded on that side.
func Aggregate(msgs []model.Message, opts Options) []DayStats {
	dayMap := make(map[string]*DayStats)
	var days []string

	for _, m := range msgs {
		if !opts.StartDate.IsZero() && m.Date.Before(opts.StartDate) {
			continue
		}
		if !opts.EndDate.IsZero() && !m.Date.Before(opts.EndDate) {
			continue
		}

		day := m.Date.UTC().Format("2006-01-02")
		stats, ok := dayMap[day]
		if !ok {
			stats = &DayStats{
				Date:        day,
				BySender:    make(map[string]int),
				ByKind:      make(map[string]int),
				ByTimeOfDay: make(map[string]int),
			}
			dayMap[day] = stats
			days = append(days, day)
		}

		stats.TotalMessages++
		stats.ByKind[string(m.Kind)]++
		stats.ByTimeOfDay[timeOfDay(m.Date.UTC().Hour())]++

		sender := "me"
		if !m.IsFromMe {
			if m.Handle != nil {
				sender = *m.Handle
			} else {
				sender = "unknown"
			}
		}
		stats.BySender[sender]++

		if len(m.Enrichments) > 0 || (m.Media != nil && len(m.Media.Enrichments) > 0) {
			stats.Enriched++
		}
	}

	sort.Strings(days)
	out := make([]DayStats, 0, len(days))
	for _, day := range days {
		out = append(out, *dayMap[day])
	}
	return out
}

func timeOfDay(hour int) string {
	switch {
	case hour < 6:
		return "night"
	case hour < 12:
		return "morning"
	case hour < 18:
		return "afternoon"
	default:
		return "evening"
	}
}

// Render formats day stats as a plain-text summary.
func Render(days []DayStats) string {
	var b strings.Builder
	for _, d := range days {
		fmt.Fprintf(&b, "%s  %d messages", d.Date, d.TotalMessages)
		if d.Enriched > 0 {
			fmt.Fprintf(&b, " (%d enriched)", d.Enriched)
		}
		b.WriteByte('\n')

		senders := make([]string, 0, len(d.BySender))
		for s := range d.BySender {
			senders = append(senders, s)
		}
		sort.Slice(senders, func(i, j int) bool {
			if d.BySender[senders[i]] != d.BySender[senders[j]] {
				return d.BySender[senders[i]] > d.BySender[senders[j]]
			}
			return senders[i] < senders[j]
		})
		for _, s := range senders {
			fmt.Fprintf(&b, "    %-24s %d\n", s, d.BySender[s])
		}
	}
	return b.String()
}
