package gemini

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/Napageneral/scribe/internal/model"
)

const providerName = "gemini"

// enrichmentVersion bumps when prompt or output shape changes, so old and
// new enrichments are distinguishable in the corpus.
const enrichmentVersion = "1"

// ImageDescriber describes image attachments.
type ImageDescriber struct {
	Client        *Client
	Model         string
	AttachmentDir string
}

func (p *ImageDescriber) Name() string { return providerName + "/image" }

func (p *ImageDescriber) Eligible(msg model.Message) bool {
	return msg.Kind == model.KindMedia &&
		msg.Media != nil &&
		strings.HasPrefix(msg.Media.MimeType, "image/")
}

func (p *ImageDescriber) Enrich(ctx context.Context, msg model.Message) (model.Enrichment, error) {
	data, err := p.readAttachment(msg)
	if err != nil {
		return model.Enrichment{}, err
	}

	text, err := p.Client.GenerateText(ctx, p.Model, []part{
		{Text: "Describe this image from a personal message thread in one or two sentences. Mention any visible text."},
		{InlineData: &inlineData{
			MimeType: msg.Media.MimeType,
			Data:     base64.StdEncoding.EncodeToString(data),
		}},
	})
	if err != nil {
		return model.Enrichment{}, err
	}

	return model.Enrichment{
		Kind:      "image_description",
		Provider:  providerName,
		Model:     p.Model,
		Version:   enrichmentVersion,
		CreatedAt: time.Now().UTC(),
		Fields:    map[string]any{"description": strings.TrimSpace(text)},
	}, nil
}

func (p *ImageDescriber) readAttachment(msg model.Message) ([]byte, error) {
	path := msg.Media.Filename
	if !filepath.IsAbs(path) && p.AttachmentDir != "" {
		path = filepath.Join(p.AttachmentDir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read attachment %s: %w", msg.Media.ID, err)
	}
	return data, nil
}

// AudioTranscriber transcribes voice-message attachments.
type AudioTranscriber struct {
	Client        *Client
	Model         string
	AttachmentDir string
}

func (p *AudioTranscriber) Name() string { return providerName + "/audio" }

func (p *AudioTranscriber) Eligible(msg model.Message) bool {
	return msg.Kind == model.KindMedia &&
		msg.Media != nil &&
		strings.HasPrefix(msg.Media.MimeType, "audio/")
}

func (p *AudioTranscriber) Enrich(ctx context.Context, msg model.Message) (model.Enrichment, error) {
	path := msg.Media.Filename
	if !filepath.IsAbs(path) && p.AttachmentDir != "" {
		path = filepath.Join(p.AttachmentDir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Enrichment{}, fmt.Errorf("read attachment %s: %w", msg.Media.ID, err)
	}

	text, err := p.Client.GenerateText(ctx, p.Model, []part{
		{Text: "Transcribe this voice message verbatim. Output only the transcript."},
		{InlineData: &inlineData{
			MimeType: msg.Media.MimeType,
			Data:     base64.StdEncoding.EncodeToString(data),
		}},
	})
	if err != nil {
		return model.Enrichment{}, err
	}

	return model.Enrichment{
		Kind:      "audio_transcript",
		Provider:  providerName,
		Model:     p.Model,
		Version:   enrichmentVersion,
		CreatedAt: time.Now().UTC(),
		Fields:    map[string]any{"transcript": strings.TrimSpace(text)},
	}, nil
}

var urlPattern = regexp.MustCompile(`https?://[^\s<>"]+`)

// LinkAnalyzer summarizes the first URL found in a text message.
type LinkAnalyzer struct {
	Client *Client
	Model  string
}

func (p *LinkAnalyzer) Name() string { return providerName + "/link" }

func (p *LinkAnalyzer) Eligible(msg model.Message) bool {
	return msg.Kind == model.KindText &&
		msg.Text != nil &&
		urlPattern.MatchString(*msg.Text)
}

func (p *LinkAnalyzer) Enrich(ctx context.Context, msg model.Message) (model.Enrichment, error) {
	url := urlPattern.FindString(*msg.Text)

	text, err := p.Client.GenerateText(ctx, p.Model, []part{
		{Text: fmt.Sprintf(
			"A personal message contains this link: %s\nIn one sentence, say what the link most likely points to based on the URL alone.", url)},
	})
	if err != nil {
		return model.Enrichment{}, err
	}

	return model.Enrichment{
		Kind:      "link_analysis",
		Provider:  providerName,
		Model:     p.Model,
		Version:   enrichmentVersion,
		CreatedAt: time.Now().UTC(),
		Fields: map[string]any{
			"url":     url,
			"summary": strings.TrimSpace(text),
		},
	}, nil
}
