package pipeline

import (
	"time"

	"github.com/openagentkit/ci/internal/backup"
)

// runAutoBackup writes a project snapshot once auto_backup_interval_hours
// has elapsed since the last one, when auto_backup_enabled is set.
func (p *Pipeline) runAutoBackup(now time.Time) {
	if !p.settings.AutoBackupEnabled || p.backup == nil {
		return
	}
	if !backup.AutoBackupDue(p.lastBackup, p.settings.AutoBackupIntervalHours) {
		return
	}
	path, err := p.backup.Run(p.projectRoot, true, false)
	if err != nil {
		p.logger.Warn().Err(err).Msg("auto-backup failed")
		return
	}
	p.lastBackup = now
	p.logger.Info().Str("path", path).Msg("auto-backup written")
}

// pruneGovernanceAudit deletes governance audit events older than
// audit_retention_days.
func (p *Pipeline) pruneGovernanceAudit(now time.Time) {
	days := p.settings.AuditRetentionDays
	if days <= 0 {
		return
	}
	removed, err := p.store.PruneGovernanceAudit(days)
	if err != nil {
		p.logger.Warn().Err(err).Msg("prune governance audit failed")
		return
	}
	if removed > 0 {
		p.logger.Info().Int64("removed", removed).Msg("pruned governance audit events")
	}
}
