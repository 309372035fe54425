package pipeline

import (
	"context"
	"time"

	"github.com/openagentkit/ci/internal/domain"
)

// finalizeStuckBatches closes out active batches whose session has had
// no activity for stuck_batch_minutes, the agent having exited without a
// clean Stop hook.
func (p *Pipeline) finalizeStuckBatches(now time.Time) {
	stale := time.Duration(p.settings.StuckBatchMinutes) * time.Minute
	if stale <= 0 {
		stale = 5 * time.Minute
	}
	batches, err := p.store.StuckBatches(stale)
	if err != nil {
		p.logger.Warn().Err(err).Msg("list stuck batches failed")
		return
	}
	for _, b := range batches {
		if err := p.store.CompleteBatch(b.ID, b.ResponseSummary); err != nil {
			p.logger.Warn().Err(err).Str("batch", b.ID).Msg("finalize stuck batch failed")
			continue
		}
		p.invalidateSession(b.SessionID)
	}
}

// recoverStaleSessions ends sessions with no activity for
// stale_session_hours, falling back to the session's started_at when it
// has no recorded activity at all.
func (p *Pipeline) recoverStaleSessions(now time.Time) {
	stale := time.Duration(p.settings.StaleSessionHours) * time.Hour
	if stale <= 0 {
		stale = time.Hour
	}
	sessions, err := p.store.ListActiveSessions()
	if err != nil {
		p.logger.Warn().Err(err).Msg("list active sessions failed")
		return
	}
	for _, sess := range sessions {
		last, err := p.store.LastActivityTime(sess.ID)
		if err != nil {
			p.logger.Warn().Err(err).Str("session", sess.ID).Msg("last activity time failed")
			continue
		}
		if now.Sub(last) < stale {
			continue
		}
		if err := p.store.EndSession(sess.ID); err != nil {
			p.logger.Warn().Err(err).Str("session", sess.ID).Msg("recover stale session failed")
			continue
		}
		p.invalidateSession(sess.ID)
	}
}

// recoverOrphanActivities associates activities that arrived without a
// prompt_batch_id (e.g. a tool call racing a SessionStart) to the
// nearest-in-time batch for their session, or opens a new recovery
// batch when the session has none.
func (p *Pipeline) recoverOrphanActivities(ctx context.Context) {
	orphans, err := p.store.OrphanActivities(100)
	if err != nil {
		p.logger.Warn().Err(err).Msg("list orphan activities failed")
		return
	}
	for _, a := range orphans {
		if !a.IsOrphan() {
			continue
		}
		batch, ok, err := p.store.NearestBatchInTime(a.SessionID, a.CreatedAt)
		if err != nil {
			p.logger.Warn().Err(err).Str("activity", a.ID).Msg("nearest batch lookup failed")
			continue
		}
		if !ok {
			batch, err = p.store.BeginBatch(a.SessionID, "", domain.SourceSystem)
			if err != nil {
				p.logger.Warn().Err(err).Str("activity", a.ID).Msg("open recovery batch failed")
				continue
			}
			if err := p.store.CompleteBatch(batch.ID, "recovered orphan activity"); err != nil {
				p.logger.Warn().Err(err).Str("batch", batch.ID).Msg("complete recovery batch failed")
			}
		}
		if err := p.store.AssociateActivity(a.ID, batch.ID); err != nil {
			p.logger.Warn().Err(err).Str("activity", a.ID).Str("batch", batch.ID).Msg("associate orphan activity failed")
		}
	}
}
