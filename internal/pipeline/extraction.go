package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openagentkit/ci/internal/domain"
	"github.com/openagentkit/ci/internal/vectorindex"
)

const extractionSystemPrompt = `You review one coding-agent prompt/response cycle and extract durable
observations worth remembering on future sessions in this project: gotchas,
decisions, bug fixes, discoveries, and trade-offs. Skip anything trivial or
specific only to this one exchange. Respond with JSON only, no prose, no
code fences, shaped exactly as:
{"observations":[{"memory_type":"gotcha|decision|bug_fix|discovery|trade_off","observation":"...","context":"...","tags":"comma,separated","importance":1-10}]}
An empty "observations" array is a valid and often correct answer.`

type extractedObservation struct {
	MemoryType  string `json:"memory_type"`
	Observation string `json:"observation"`
	Context     string `json:"context"`
	Tags        string `json:"tags"`
	Importance  int    `json:"importance"`
}

// extractionFailure is the interim retry bookkeeping persisted, JSON
// encoded, into a batch's error_annotation while observation extraction
// is backing off.
type extractionFailure struct {
	Attempt     int       `json:"attempt"`
	NextRetryAt time.Time `json:"next_retry_at"`
	Message     string    `json:"message"`
}

// extractionBackoffBase is the delay before the first retry; each
// subsequent attempt doubles it, capped at extractionBackoffCap.
const (
	extractionBackoffBase = 30 * time.Second
	extractionBackoffCap  = 30 * time.Minute
)

func extractionBackoff(attempt int) time.Duration {
	d := extractionBackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= extractionBackoffCap {
			return extractionBackoffCap
		}
	}
	return d
}

func parseExtractionFailure(annotation string) (extractionFailure, bool) {
	if strings.TrimSpace(annotation) == "" {
		return extractionFailure{}, false
	}
	var f extractionFailure
	if err := json.Unmarshal([]byte(annotation), &f); err != nil {
		return extractionFailure{}, false
	}
	return f, true
}

// extractObservations runs observation extraction over completed batches
// not yet processed, applying bounded exponential back-off to batches
// that failed extraction on a prior tick.
func (p *Pipeline) extractObservations(ctx context.Context) {
	batches, err := p.store.UnprocessedCompletedBatches(20)
	if err != nil {
		p.logger.Warn().Err(err).Msg("list unprocessed batches failed")
		return
	}

	maxRetries := p.settings.MaxExtractionRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}

	now := time.Now()
	for _, b := range batches {
		if state, ok := parseExtractionFailure(b.ErrorAnnotation); ok && now.Before(state.NextRetryAt) {
			continue
		}
		if err := p.extractOne(ctx, b); err != nil {
			p.logger.Warn().Err(err).Str("batch", b.ID).Msg("extract observations failed")
			p.recordExtractionFailure(b, err, maxRetries)
			continue
		}
		if err := p.store.MarkBatchProcessed(b.ID, ""); err != nil {
			p.logger.Warn().Err(err).Str("batch", b.ID).Msg("mark batch processed failed")
		}
	}
}

func (p *Pipeline) recordExtractionFailure(b domain.PromptBatch, extractErr error, maxRetries int) {
	prior, _ := parseExtractionFailure(b.ErrorAnnotation)
	attempt := prior.Attempt + 1

	if attempt >= maxRetries {
		annotation := fmt.Sprintf("extraction abandoned after %d attempts: %v", attempt, extractErr)
		if err := p.store.MarkBatchProcessed(b.ID, annotation); err != nil {
			p.logger.Warn().Err(err).Str("batch", b.ID).Msg("abandon batch after retries failed")
		}
		return
	}

	state := extractionFailure{
		Attempt:     attempt,
		NextRetryAt: time.Now().Add(extractionBackoff(attempt)),
		Message:     extractErr.Error(),
	}
	encoded, err := json.Marshal(state)
	if err != nil {
		p.logger.Warn().Err(err).Msg("encode extraction retry state failed")
		return
	}
	if err := p.store.SetBatchErrorAnnotation(b.ID, string(encoded)); err != nil {
		p.logger.Warn().Err(err).Str("batch", b.ID).Msg("record extraction retry state failed")
	}
}

// extractOne runs one batch's activities through the summarization
// provider and persists whatever durable observations it returns.
func (p *Pipeline) extractOne(ctx context.Context, b domain.PromptBatch) error {
	activities, err := p.store.ActivitiesForBatch(b.ID)
	if err != nil {
		return fmt.Errorf("load activities: %w", err)
	}

	var parsed struct {
		Observations []extractedObservation `json:"observations"`
	}
	if err := p.summarizer.CompleteJSON(ctx, extractionSystemPrompt, buildExtractionPrompt(b, activities), &parsed); err != nil {
		return fmt.Errorf("extract observations: %w", err)
	}

	origin := computeOriginType(b, activities)
	for _, eo := range parsed.Observations {
		if strings.TrimSpace(eo.Observation) == "" {
			continue
		}
		obs := domain.Observation{
			MemoryType:        domain.MemoryType(eo.MemoryType),
			ObservationText:   eo.Observation,
			Context:           eo.Context,
			Tags:              eo.Tags,
			SourceSessionID:   b.SessionID,
			SourceBatchID:     b.ID,
			SourceMachineID:   p.machineID,
			SessionOriginType: origin,
			Importance:        eo.Importance,
		}
		id, err := p.store.InsertObservation(obs)
		if err != nil {
			p.logger.Warn().Err(err).Str("batch", b.ID).Msg("insert observation failed")
			continue
		}
		obs.ID = id

		if err := p.index.Upsert(ctx, vectorindex.KindObservation, id, obs.ObservationText, nil, map[string]string{
			"memory_type": string(obs.MemoryType),
			"context":     obs.Context,
		}); err != nil {
			p.logger.Warn().Err(err).Str("observation", id).Msg("embed observation failed")
		}

		p.autoResolveObservation(ctx, obs)
	}
	return nil
}

func (p *Pipeline) autoResolveObservation(ctx context.Context, obs domain.Observation) {
	if p.autoResolve == nil {
		return
	}
	candidates, err := p.autoResolve.AutoResolveCandidates(ctx, obs)
	if err != nil {
		p.logger.Warn().Err(err).Str("observation", obs.ID).Msg("auto-resolve lookup failed")
		return
	}
	for _, c := range candidates {
		err := p.store.SetObservationStatus(c.Observation.ID, domain.ObservationSuperseded,
			"superseded by a newer observation", "pipeline", obs.ID, domain.ActionSupersede)
		if err != nil {
			p.logger.Warn().Err(err).Str("observation", c.Observation.ID).Msg("auto-resolve supersede failed")
		}
	}
}

// buildExtractionPrompt renders a batch's prompt and tool activity into
// the transcript the extraction system prompt reasons over.
func buildExtractionPrompt(b domain.PromptBatch, activities []domain.Activity) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "User prompt:\n%s\n\n", b.UserPrompt)
	if b.ResponseSummary != "" {
		fmt.Fprintf(&sb, "Response summary:\n%s\n\n", b.ResponseSummary)
	}
	sb.WriteString("Tool activity:\n")
	if len(activities) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, a := range activities {
		status := "ok"
		if !a.Success {
			status = "error: " + a.ErrorMessage
		}
		fmt.Fprintf(&sb, "- %s %s (%s): %s\n", a.ToolName, a.FilePath, status, a.ToolOutputSummary)
	}
	return sb.String()
}

// computeOriginType classifies how a batch's work was shaped from its
// read/edit tool ratio, capping the importance of noisy planning and
// investigation-heavy observations at insert time via
// OriginType.MaxImportance.
func computeOriginType(b domain.PromptBatch, activities []domain.Activity) domain.OriginType {
	if b.IsPlanBatch() {
		return domain.OriginPlanning
	}

	var reads, edits int
	for _, a := range activities {
		switch a.ToolName {
		case "Read", "Grep", "Glob", "WebFetch", "WebSearch":
			reads++
		case "Edit", "Write", "MultiEdit", "NotebookEdit":
			edits++
		}
	}
	total := reads + edits
	switch {
	case total == 0:
		return domain.OriginMixed
	case edits == 0:
		return domain.OriginInvestigation
	case float64(edits)/float64(total) >= 0.6:
		return domain.OriginImplementation
	default:
		return domain.OriginMixed
	}
}
