package enrich

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Napageneral/scribe/internal/checkpoint"
	"github.com/Napageneral/scribe/internal/delta"
	"github.com/Napageneral/scribe/internal/model"
	"github.com/Napageneral/scribe/internal/ratelimit"
)

// ErrConfigMismatch means a resumed run's configuration fingerprint differs
// from the checkpoint's. Partial results computed under the old
// configuration are not comparable to what the new one would produce, so
// the run stops before touching anything.
var ErrConfigMismatch = errors.New("checkpoint config hash mismatch")

// Config is the fingerprinted enrichment configuration. Any field change
// produces a different config hash and therefore a fresh checkpoint file.
type Config struct {
	DescribeImages   bool   `json:"describeImages"`
	TranscribeAudio  bool   `json:"transcribeAudio"`
	AnalyzeLinks     bool   `json:"analyzeLinks"`
	Model            string `json:"model,omitempty"`
	RateLimitMS      int    `json:"rateLimitMs"`
	MaxRetries       int    `json:"maxRetries"`
	FailureThreshold int    `json:"failureThreshold"`
	CooldownSeconds  int    `json:"cooldownSeconds"`
}

// Options controls one orchestrator run.
type Options struct {
	Resume             bool
	Incremental        bool
	StatePath          string
	CheckpointDir      string
	CheckpointInterval int
}

// Result is the run summary. It is produced even when messages failed;
// provider failures are never fatal to the batch.
type Result struct {
	Enriched           []model.Message
	TotalProcessed     int
	TotalFailed        int
	FailedItems        []checkpoint.FailedItem
	SkippedCircuit     int
	SkippedIncremental int
	ConfigHash         string
	CheckpointPath     string
}

// Orchestrator drives one sequential enrichment pass. It owns its rate
// limiter and circuit breaker; independent runs never share mutable state.
type Orchestrator struct {
	cfg       Config
	opts      Options
	providers []Provider
	limiter   *ratelimit.Limiter
	log       *zap.SugaredLogger

	// flush persists the partially-enriched corpus alongside each
	// checkpoint so a resumed run sees the prefix's enrichments.
	flush func(msgs []model.Message) error

	sleep func(ctx context.Context, d time.Duration) error
}

// New builds an orchestrator. A nil logger is replaced with a no-op one.
func New(cfg Config, opts Options, providers []Provider, log *zap.SugaredLogger) *Orchestrator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if opts.CheckpointInterval <= 0 {
		opts.CheckpointInterval = 50
	}
	limiter := ratelimit.New(
		time.Duration(cfg.RateLimitMS)*time.Millisecond,
		cfg.FailureThreshold,
		time.Duration(cfg.CooldownSeconds)*time.Second,
	)
	return &Orchestrator{
		cfg:       cfg,
		opts:      opts,
		providers: providers,
		limiter:   limiter,
		log:       log,
		sleep:     sleepCtx,
	}
}

// SetFlush installs the partial-output writer invoked at each checkpoint.
func (o *Orchestrator) SetFlush(f func(msgs []model.Message) error) {
	o.flush = f
}

// Run processes messages in input order, one provider call in flight at a
// time. Per-message provider errors are recorded and never abort the run;
// the only fatal conditions are a config-hash mismatch on resume and
// context cancellation. When the final checkpoint or incremental-state
// write fails, Run returns the full Result together with the error.
func (o *Orchestrator) Run(ctx context.Context, messages []model.Message) (*Result, error) {
	hash := checkpoint.ConfigHash(o.cfg)
	cpPath := checkpoint.PathFor(o.opts.CheckpointDir, hash)

	result := &Result{
		ConfigHash:     hash,
		CheckpointPath: cpPath,
		FailedItems:    []checkpoint.FailedItem{},
	}

	startIndex := 0
	if o.opts.Resume {
		if st := checkpoint.Load(cpPath); st != nil {
			if st.ConfigHash != hash {
				return nil, fmt.Errorf("%w: checkpoint %s was written by a different configuration", ErrConfigMismatch, cpPath)
			}
			startIndex = st.LastProcessedIndex + 1
			result.TotalProcessed = st.TotalProcessed
			result.TotalFailed = st.TotalFailed
			result.FailedItems = append(result.FailedItems, st.FailedItems...)
			o.log.Infow("resuming from checkpoint",
				"path", cpPath,
				"startIndex", startIndex,
				"totalProcessed", st.TotalProcessed,
				"totalFailed", st.TotalFailed)
		}
	}
	if startIndex > len(messages) {
		startIndex = len(messages)
	}

	// Incremental mode: messages seen by a prior run pass through
	// unenriched. No prior state means everything is new.
	var prevState *delta.State
	var newSet map[string]bool
	if o.opts.Incremental {
		prev, err := delta.Load(o.opts.StatePath)
		if err != nil {
			o.log.Warnw("incremental state unreadable, treating all messages as new", "error", err)
		}
		prevState = prev
		if prev != nil {
			guids := make([]string, len(messages))
			for i, m := range messages {
				guids[i] = m.GUID
			}
			newSet = make(map[string]bool)
			for _, g := range delta.DetectNew(guids, prev) {
				newSet[g] = true
			}
		}
	}

	out := make([]model.Message, 0, len(messages))
	// The prefix was processed before the resume point; the flushed corpus
	// already carries its enrichments.
	out = append(out, messages[:startIndex]...)

	processedThisRun := 0
	for i := startIndex; i < len(messages); i++ {
		msg := messages[i]

		skipIncremental := newSet != nil && !newSet[msg.GUID]
		if skipIncremental {
			result.SkippedIncremental++
		} else if p := o.matchProvider(msg); p != nil {
			if o.limiter.IsCircuitOpen() {
				// Not a failure: the message is simply not enriched while
				// the breaker cools down.
				result.SkippedCircuit++
			} else {
				enriched, err := o.enrichOne(ctx, p, msg)
				if err != nil {
					if ctxErr := ctx.Err(); ctxErr != nil {
						o.saveCheckpoint(cpPath, hash, i-1, result, out, messages[i:])
						// Callers persist result.Enriched, so it must carry
						// the unprocessed remainder too.
						result.Enriched = append(out, messages[i:]...)
						return result, ctxErr
					}
					o.limiter.RecordFailure()
					result.TotalFailed++
					result.FailedItems = append(result.FailedItems, checkpoint.FailedItem{
						Index: i,
						GUID:  msg.GUID,
						Kind:  string(msg.Kind),
						Error: err.Error(),
					})
					o.log.Warnw("enrichment failed",
						"provider", p.Name(),
						"guid", msg.GUID,
						"index", i,
						"error", err)
				} else {
					o.limiter.RecordSuccess()
					msg = enriched
				}
			}
		}

		out = append(out, msg)
		result.TotalProcessed++
		processedThisRun++

		if processedThisRun%o.opts.CheckpointInterval == 0 {
			o.saveCheckpoint(cpPath, hash, i, result, out, messages[i+1:])
		}
	}

	result.Enriched = out

	// Final checkpoint covers the whole run regardless of interval
	// alignment. Unlike interval writes, a failure here is surfaced.
	final := o.buildCheckpoint(hash, len(messages)-1, result)
	if err := checkpoint.Save(cpPath, final); err != nil {
		return result, fmt.Errorf("failed to write final checkpoint: %w", err)
	}

	if o.opts.Incremental {
		guids := make([]string, len(messages))
		for i, m := range messages {
			guids[i] = m.GUID
		}
		if err := delta.Save(o.opts.StatePath, delta.Updated(prevState, guids)); err != nil {
			return result, fmt.Errorf("failed to write incremental state: %w", err)
		}
	}

	return result, nil
}

// enrichOne performs one gated provider call: wait out the pacing delay,
// record the call, invoke the provider, attach its output.
func (o *Orchestrator) enrichOne(ctx context.Context, p Provider, msg model.Message) (model.Message, error) {
	if wait := o.limiter.ShouldRateLimit(); wait > 0 {
		if err := o.sleep(ctx, wait); err != nil {
			return msg, err
		}
	}
	o.limiter.RecordCall()

	enr, err := p.Enrich(ctx, msg)
	if err != nil {
		return msg, err
	}
	return attach(msg, enr), nil
}

func (o *Orchestrator) matchProvider(msg model.Message) Provider {
	for _, p := range o.providers {
		if p.Eligible(msg) {
			return p
		}
	}
	return nil
}

func (o *Orchestrator) buildCheckpoint(hash string, lastIndex int, result *Result) *checkpoint.State {
	items := make([]checkpoint.FailedItem, len(result.FailedItems))
	copy(items, result.FailedItems)
	return &checkpoint.State{
		LastProcessedIndex: lastIndex,
		TotalProcessed:     result.TotalProcessed,
		TotalFailed:        result.TotalFailed,
		FailedItems:        items,
		ConfigHash:         hash,
	}
}

// saveCheckpoint is the best-effort interval write: failures are logged,
// the run continues, and the next interval retries. The flushed corpus is
// the processed prefix plus the untouched remainder so no message ever
// goes missing from the output file.
func (o *Orchestrator) saveCheckpoint(path, hash string, lastIndex int, result *Result, out, rest []model.Message) {
	if err := checkpoint.Save(path, o.buildCheckpoint(hash, lastIndex, result)); err != nil {
		o.log.Warnw("checkpoint write failed", "path", path, "error", err)
		return
	}
	if o.flush != nil {
		full := make([]model.Message, 0, len(out)+len(rest))
		full = append(full, out...)
		full = append(full, rest...)
		if err := o.flush(full); err != nil {
			o.log.Warnw("partial output flush failed", "error", err)
		}
	}
}

// attach appends an enrichment without mutating shared message state:
// media enrichments live on a copied MediaInfo, everything else on the
// message itself.
func attach(msg model.Message, enr model.Enrichment) model.Message {
	if msg.Kind == model.KindMedia && msg.Media != nil {
		media := *msg.Media
		media.Enrichments = append(append([]model.Enrichment{}, media.Enrichments...), enr)
		msg.Media = &media
		return msg
	}
	msg.Enrichments = append(append([]model.Enrichment{}, msg.Enrichments...), enr)
	return msg
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
