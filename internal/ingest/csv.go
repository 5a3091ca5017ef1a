// Package ingest loads raw message collections from the two supported
// sources: a CSV export and an iMessage chat.db dump. Both produce the
// normalized model.Message shape the reconciler consumes.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Napageneral/scribe/internal/model"
)

// csv timestamp layouts tried in order.
var csvTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ReadCSV parses a CSV export into messages. Columns are resolved by
// header name, not position; rows without a guid get a generated one so
// they can still be tracked through merge and enrichment.
func ReadCSV(path string) ([]model.Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV export: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := col["date"]; !ok {
		return nil, fmt.Errorf("CSV export missing required column %q", "date")
	}

	field := func(row []string, name string) string {
		idx, ok := col[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	var out []model.Message
	line := 1
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row %d: %w", line, err)
		}

		date, err := parseCSVTime(field(row, "date"))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}

		msg := model.Message{
			GUID:     field(row, "guid"),
			Kind:     parseKind(field(row, "kind")),
			Date:     date,
			IsFromMe: parseBool(field(row, "is_from_me")),
			IsRead:   parseBool(field(row, "is_read")),
		}
		if msg.GUID == "" {
			msg.GUID = "csv-" + uuid.New().String()
		}
		if h := field(row, "handle"); h != "" {
			msg.Handle = &h
		}
		if t := field(row, "text"); t != "" {
			text := t
			msg.Text = &text
		}
		if id := field(row, "media_id"); id != "" {
			msg.Media = &model.MediaInfo{
				ID:           id,
				Filename:     field(row, "media_filename"),
				MimeType:     field(row, "media_mime"),
				TransferName: field(row, "media_transfer_name"),
			}
			if msg.Kind == model.KindText {
				msg.Kind = model.KindMedia
			}
		}
		if tk := field(row, "tapback_kind"); tk != "" {
			msg.Tapback = &model.TapbackInfo{
				Kind:              tk,
				TargetMessageGUID: field(row, "tapback_target"),
			}
			msg.Kind = model.KindTapback
		}
		if rt := field(row, "reply_to_guid"); rt != "" {
			msg.Reply = &model.ReplyInfo{TargetMessageGUID: rt}
		}

		out = append(out, msg)
	}

	return out, nil
}

func parseKind(s string) model.Kind {
	switch strings.ToLower(s) {
	case "media", "attachment":
		return model.KindMedia
	case "tapback", "reaction":
		return model.KindTapback
	case "notification", "system":
		return model.KindNotification
	default:
		return model.KindText
	}
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}

func parseCSVTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	// Unix seconds are common in scripted exports.
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	for _, layout := range csvTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}
