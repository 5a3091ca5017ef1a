package ingest

import (
	"database/sql"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Napageneral/scribe/internal/model"
)

// appleEpoch is 2001-01-01 UTC; chat.db stores dates as nanoseconds (or,
// in old databases, seconds) since then.
var appleEpoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

// ReadChatDB loads messages from an iMessage chat.db dump. The database is
// opened read-only; this is the authoritative collection in a merge.
func ReadChatDB(path string) ([]model.Message, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("chat.db not found at %s: %w", path, err)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open chat.db: %w", err)
	}
	defer db.Close()

	_, _ = db.Exec("PRAGMA busy_timeout = 5000")

	msgs, err := readMessages(db)
	if err != nil {
		return nil, err
	}
	if err := attachMedia(db, msgs); err != nil {
		return nil, err
	}

	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func readMessages(db *sql.DB) (map[int64]*model.Message, error) {
	rows, err := db.Query(`
		SELECT
			m.ROWID,
			m.guid,
			m.date,
			m.date_read,
			m.date_delivered,
			m.text,
			m.is_from_me,
			m.is_read,
			m.cache_has_attachments,
			m.associated_message_type,
			m.associated_message_guid,
			m.thread_originator_guid,
			h.id
		FROM message m
		LEFT JOIN handle h ON m.handle_id = h.ROWID
		ORDER BY m.date
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]*model.Message)
	for rows.Next() {
		var (
			rowID          int64
			guid           string
			date           int64
			dateRead       sql.NullInt64
			dateDelivered  sql.NullInt64
			text           sql.NullString
			isFromMe       int
			isRead         int
			hasAttachments int
			assocType      sql.NullInt64
			assocGUID      sql.NullString
			threadOrigin   sql.NullString
			handle         sql.NullString
		)
		if err := rows.Scan(&rowID, &guid, &date, &dateRead, &dateDelivered, &text,
			&isFromMe, &isRead, &hasAttachments, &assocType, &assocGUID, &threadOrigin, &handle); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}

		msg := &model.Message{
			GUID:     guid,
			Kind:     model.KindText,
			Date:     appleTime(date),
			IsFromMe: isFromMe == 1,
			IsRead:   isRead == 1,
		}
		if dateRead.Valid && dateRead.Int64 > 0 {
			t := appleTime(dateRead.Int64)
			msg.DateRead = &t
		}
		if dateDelivered.Valid && dateDelivered.Int64 > 0 {
			t := appleTime(dateDelivered.Int64)
			msg.DateDelivered = &t
		}
		if handle.Valid && handle.String != "" {
			h := handle.String
			msg.Handle = &h
		}
		if text.Valid && text.String != "" {
			body := text.String
			msg.Text = &body
		}

		// associated_message_type >= 2000 marks tapbacks; the target guid
		// arrives prefixed (e.g. "p:0/<guid>").
		if assocType.Valid && assocType.Int64 >= 2000 && assocType.Int64 < 4000 && assocGUID.Valid {
			msg.Kind = model.KindTapback
			msg.Tapback = &model.TapbackInfo{
				Kind:              tapbackKind(assocType.Int64),
				TargetMessageGUID: stripTapbackPrefix(assocGUID.String),
			}
		} else if hasAttachments == 1 {
			msg.Kind = model.KindMedia
		} else if !text.Valid || text.String == "" {
			msg.Kind = model.KindNotification
		}

		if threadOrigin.Valid && threadOrigin.String != "" {
			msg.Reply = &model.ReplyInfo{TargetMessageGUID: threadOrigin.String}
		}

		out[rowID] = msg
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating message rows: %w", err)
	}
	return out, nil
}

func attachMedia(db *sql.DB, msgs map[int64]*model.Message) error {
	rows, err := db.Query(`
		SELECT
			j.message_id,
			a.guid,
			a.filename,
			a.mime_type,
			a.transfer_name
		FROM message_attachment_join j
		JOIN attachment a ON a.ROWID = j.attachment_id
		ORDER BY j.message_id, a.ROWID
	`)
	if err != nil {
		return fmt.Errorf("failed to query attachments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			messageID    int64
			guid         string
			filename     sql.NullString
			mimeType     sql.NullString
			transferName sql.NullString
		)
		if err := rows.Scan(&messageID, &guid, &filename, &mimeType, &transferName); err != nil {
			return fmt.Errorf("failed to scan attachment row: %w", err)
		}
		msg, ok := msgs[messageID]
		if !ok {
			continue
		}
		// First attachment wins; multi-attachment messages keep the rest
		// in the export directory but the corpus tracks one descriptor.
		if msg.Media != nil {
			continue
		}
		msg.Kind = model.KindMedia
		msg.Media = &model.MediaInfo{
			ID:           guid,
			Filename:     filename.String,
			MimeType:     mimeType.String,
			TransferName: transferName.String,
		}
	}
	return rows.Err()
}

// appleTime converts a chat.db date to UTC. Modern databases store
// nanoseconds since the Apple epoch, pre-High-Sierra ones store seconds.
func appleTime(v int64) time.Time {
	if v > 1_000_000_000_000 {
		return appleEpoch.Add(time.Duration(v) * time.Nanosecond)
	}
	return appleEpoch.Add(time.Duration(v) * time.Second)
}

func tapbackKind(assocType int64) string {
	switch assocType {
	case 2000:
		return "love"
	case 2001:
		return "like"
	case 2002:
		return "dislike"
	case 2003:
		return "laugh"
	case 2004:
		return "emphasize"
	case 2005:
		return "question"
	default:
		return fmt.Sprintf("tapback_%d", assocType)
	}
}

func stripTapbackPrefix(guid string) string {
	// "p:0/ABC-123" -> "ABC-123"
	if i := strings.IndexByte(guid, '/'); i >= 0 {
		return guid[i+1:]
	}
	return guid
}
