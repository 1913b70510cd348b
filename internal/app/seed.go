package app

import (
	"context"
	"fmt"

	"klinesync/internal/config"
	"klinesync/internal/logger"
	"klinesync/internal/store"
	"klinesync/internal/store/model"
)

// seedJobs upserts the file-declared jobs into the store, keyed by name.
// Jobs created through the API are untouched; jobs dropped from the file stay
// in the store so their history and enablement survive config edits.
func seedJobs(ctx context.Context, st store.Store, exchangeID int64, cfg *config.Config) error {
	existing, err := st.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	byName := make(map[string]model.SyncJob, len(existing))
	for _, j := range existing {
		byName[j.Name] = j
	}

	for _, spec := range cfg.Sync.Jobs {
		sym, err := st.GetOrCreateSymbol(ctx, exchangeID, spec.Symbol)
		if err != nil {
			return fmt.Errorf("seed symbol %s: %w", spec.Symbol, err)
		}
		name := spec.Name(cfg.Exchange.Name)
		job, ok := byName[name]
		if !ok {
			job = model.SyncJob{
				Name:       name,
				ExchangeID: exchangeID,
				SymbolID:   sym.ID,
				Symbol:     sym.Symbol,
				Timeframe:  spec.Timeframe,
			}
		}
		changed := !ok ||
			job.Kind != model.JobKind(spec.Kind) ||
			job.LookbackDays != spec.LookbackDays ||
			job.Cadence != spec.Cadence ||
			job.Enabled == spec.Disabled
		job.Kind = model.JobKind(spec.Kind)
		job.LookbackDays = spec.LookbackDays
		job.Cadence = spec.Cadence
		job.Enabled = !spec.Disabled
		if job.Enabled {
			job.DisabledReason = ""
		}
		if !changed {
			continue
		}
		if err := st.SaveJob(ctx, &job); err != nil {
			return fmt.Errorf("seed job %s: %w", name, err)
		}
		if !ok {
			logger.Infof("seeded job %s kind=%s lookback=%dd cadence=%s",
				name, job.Kind, job.LookbackDays, job.Cadence)
		}
	}
	return nil
}
