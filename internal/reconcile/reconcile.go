package reconcile

import (
	"fmt"
	"sort"

	"github.com/Napageneral/scribe/internal/model"
)

// Stats accounts for every input message exactly once:
// OutputCount == ExactMatches + ContentMatches + NoMatches + (DBCount - matched).
type Stats struct {
	CSVCount       int `json:"csvCount"`
	DBCount        int `json:"dbCount"`
	OutputCount    int `json:"outputCount"`
	ExactMatches   int `json:"exactMatches"`
	ContentMatches int `json:"contentMatches"`
	NoMatches      int `json:"noMatches"`
}

// ContentMatch is a scored candidate pairing produced while matching a
// primary message against the authoritative set. Ephemeral: computed per
// merge, never persisted.
type ContentMatch struct {
	PrimaryGUID   string   `json:"primaryGuid"`
	CandidateGUID string   `json:"candidateGuid"`
	Confidence    float64  `json:"confidence"`
	Reasons       []string `json:"reasons"`
}

// Options tunes content-equivalence matching. The built-in matcher only
// ever produces confidence 1.0, so the threshold matters only if a future
// matcher starts scoring fuzzily; candidates below it are skipped.
type Options struct {
	ConfidenceThreshold float64
}

// DefaultOptions returns the merge options used by the CLI.
func DefaultOptions() Options {
	return Options{ConfidenceThreshold: 1.0}
}

// Merge reconciles a primary collection (CSV-derived) with an authoritative
// collection (chat.db-derived) into one output with no loss and no
// duplication. Both inputs are sorted by GUID first so matching is
// reproducible regardless of input order.
//
// Matching is two-pass per primary message: exact GUID match first, then
// content equivalence against the still-unconsumed authoritative messages.
// On a match the authoritative side wins the timestamp/handle/read-state
// fields and the GUID itself; unmatched authoritative messages are appended
// after the primary pass.
func Merge(primary, authoritative []model.Message, opts Options) ([]model.Message, Stats) {
	if opts.ConfidenceThreshold <= 0 {
		opts.ConfidenceThreshold = 1.0
	}

	sortedPrimary := sortByGUID(primary)
	sortedAuth := sortByGUID(authoritative)

	byGUID := make(map[string]int, len(sortedAuth))
	for i, m := range sortedAuth {
		byGUID[m.GUID] = i
	}
	consumed := make([]bool, len(sortedAuth))

	stats := Stats{
		CSVCount: len(primary),
		DBCount:  len(authoritative),
	}

	out := make([]model.Message, 0, len(sortedPrimary)+len(sortedAuth))

	for _, p := range sortedPrimary {
		// Pass 1: identical GUID.
		if idx, ok := byGUID[p.GUID]; ok && !consumed[idx] {
			out = append(out, applyAuthoritative(p, sortedAuth[idx]))
			consumed[idx] = true
			stats.ExactMatches++
			continue
		}

		// Pass 2: content equivalence against unconsumed candidates, in
		// sorted order so the first qualifying candidate is deterministic.
		matched := false
		for i, cand := range sortedAuth {
			if consumed[i] {
				continue
			}
			match, ok := contentEquivalent(p, cand)
			if !ok || match.Confidence < opts.ConfidenceThreshold {
				continue
			}
			out = append(out, applyAuthoritative(p, cand))
			consumed[i] = true
			stats.ContentMatches++
			matched = true
			break
		}
		if matched {
			continue
		}

		out = append(out, p)
		stats.NoMatches++
	}

	// Everything the primary pass did not claim survives as-is.
	for i, m := range sortedAuth {
		if !consumed[i] {
			out = append(out, m)
		}
	}

	stats.OutputCount = len(out)
	return out, stats
}

// contentEquivalent decides whether two messages without a shared GUID are
// the same logical message. Kind and handle must agree; text messages
// compare on normalized text, media messages on media ID. Tapbacks and
// notifications are never content-matched.
func contentEquivalent(p, cand model.Message) (ContentMatch, bool) {
	if p.Kind != cand.Kind {
		return ContentMatch{}, false
	}
	if !model.HandleEqual(p.Handle, cand.Handle) {
		return ContentMatch{}, false
	}

	match := ContentMatch{
		PrimaryGUID:   p.GUID,
		CandidateGUID: cand.GUID,
		Confidence:    1.0,
	}

	switch p.Kind {
	case model.KindText:
		if p.Text == nil || cand.Text == nil {
			return ContentMatch{}, false
		}
		np, nc := NormalizeText(*p.Text), NormalizeText(*cand.Text)
		if np == "" || np != nc {
			return ContentMatch{}, false
		}
		match.Reasons = append(match.Reasons,
			"same kind and handle",
			fmt.Sprintf("normalized text equal (%q)", np))
		return match, true
	case model.KindMedia:
		if p.Media == nil || cand.Media == nil || p.Media.ID == "" {
			return ContentMatch{}, false
		}
		if p.Media.ID != cand.Media.ID {
			return ContentMatch{}, false
		}
		match.Reasons = append(match.Reasons,
			"same kind and handle",
			fmt.Sprintf("same media id (%s)", p.Media.ID))
		return match, true
	default:
		return ContentMatch{}, false
	}
}

// applyAuthoritative merges a matched pair. The authoritative side wins
// GUID, timestamps, handle, read state and the reply target; everything
// else keeps the primary value unless the primary side lacks it.
func applyAuthoritative(p, auth model.Message) model.Message {
	merged := p

	merged.GUID = auth.GUID
	merged.Date = auth.Date
	merged.DateRead = auth.DateRead
	merged.DateDelivered = auth.DateDelivered
	merged.DateEdited = auth.DateEdited
	merged.Handle = auth.Handle
	merged.IsRead = auth.IsRead

	if auth.Reply != nil {
		if merged.Reply == nil {
			merged.Reply = &model.ReplyInfo{}
		}
		merged.Reply.TargetMessageGUID = auth.Reply.TargetMessageGUID
	}

	if merged.Text == nil {
		merged.Text = auth.Text
	}
	if merged.Media == nil {
		merged.Media = auth.Media
	}
	if merged.Tapback == nil {
		merged.Tapback = auth.Tapback
	}

	return merged
}

func sortByGUID(in []model.Message) []model.Message {
	out := make([]model.Message, len(in))
	copy(out, in)
	sort.Slice(out, func(i, j int) bool { return out[i].GUID < out[j].GUID })
	return out
}
