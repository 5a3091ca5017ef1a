package enrich

import (
	"context"

	"github.com/Napageneral/scribe/internal/model"
)

// Provider is the capability boundary for external enrichment. The
// orchestrator never looks inside a provider: it asks whether a message is
// eligible, invokes Enrich, and treats any returned error as a recoverable
// per-message failure.
type Provider interface {
	Name() string
	Eligible(msg model.Message) bool
	Enrich(ctx context.Context, msg model.Message) (model.Enrichment, error)
}
