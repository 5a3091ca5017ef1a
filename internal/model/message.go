package model

import (
	"time"
)

// Kind discriminates the message variants. Each kind carries its own
// optional payload (Media, Tapback, Reply); the flat fields are shared.
type Kind string

const (
	KindText         Kind = "text"
	KindMedia        Kind = "media"
	KindTapback      Kind = "tapback"
	KindNotification Kind = "notification"
)

// Message is a single normalized message from an export. GUIDs are unique
// within a collection; across two independently-ingested collections the
// same logical message may appear under the same or a different GUID,
// which is what the reconciler sorts out.
type Message struct {
	GUID          string     `json:"guid"`
	Kind          Kind       `json:"messageKind"`
	Date          time.Time  `json:"date"`
	DateRead      *time.Time `json:"dateRead,omitempty"`
	DateDelivered *time.Time `json:"dateDelivered,omitempty"`
	DateEdited    *time.Time `json:"dateEdited,omitempty"`
	Handle        *string    `json:"handle,omitempty"`
	IsFromMe      bool       `json:"isFromMe"`
	IsRead        bool       `json:"isRead"`
	Text          *string    `json:"text,omitempty"`

	Media   *MediaInfo   `json:"media,omitempty"`
	Tapback *TapbackInfo `json:"tapback,omitempty"`
	Reply   *ReplyInfo   `json:"replyingTo,omitempty"`

	// Enrichments attached directly to the message (e.g. link analysis on
	// a text message). Media-derived enrichments live on Media instead.
	Enrichments []Enrichment `json:"enrichment,omitempty"`
}

// MediaInfo describes an attachment carried by a media message.
type MediaInfo struct {
	ID           string       `json:"id"`
	Filename     string       `json:"filename,omitempty"`
	MimeType     string       `json:"mimeType,omitempty"`
	TransferName string       `json:"transferName,omitempty"`
	Enrichments  []Enrichment `json:"enrichment,omitempty"`
}

// TapbackInfo describes a reaction to another message.
type TapbackInfo struct {
	Kind              string `json:"kind"`
	TargetMessageGUID string `json:"targetMessageGuid"`
}

// ReplyInfo associates a message with the message it replies to.
type ReplyInfo struct {
	TargetMessageGUID string `json:"targetMessageGuid"`
}

// Enrichment is one provider-computed annotation. Fields holds the
// provider-specific payload; the envelope is stable across providers.
type Enrichment struct {
	Kind      string         `json:"kind"`
	Provider  string         `json:"provider"`
	Model     string         `json:"model,omitempty"`
	Version   string         `json:"version"`
	CreatedAt time.Time      `json:"createdAt"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// HandleEqual reports whether two optional handles agree (both unset, or
// both set to the same identifier).
func HandleEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
