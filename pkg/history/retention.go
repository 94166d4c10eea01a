package history

import (
	"context"
	"log/slog"
	"time"
)

// Pruner bounds the operation log by deleting records older than a
// retention window. It sweeps once at startup and then on every interval
// tick until the context is cancelled.
type Pruner struct {
	store  *Store
	keep   time.Duration
	every  time.Duration
	logger *slog.Logger
}

// NewPruner creates a Pruner keeping retentionDays of records and sweeping
// on the given interval. A retentionDays of zero disables pruning; a
// non-positive interval falls back to daily.
func NewPruner(store *Store, retentionDays int, every time.Duration, logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = slog.Default()
	}
	if every <= 0 {
		every = 24 * time.Hour
	}
	return &Pruner{
		store:  store,
		keep:   time.Duration(retentionDays) * 24 * time.Hour,
		every:  every,
		logger: logger,
	}
}

// Run blocks until ctx is cancelled. With pruning disabled it returns
// immediately.
func (p *Pruner) Run(ctx context.Context) {
	if p.store == nil || p.keep <= 0 {
		p.logger.Info("operation log pruning disabled")
		return
	}

	p.logger.Info("operation log pruning started",
		"retentionDays", int(p.keep.Hours()/24), "interval", p.every.String())
	p.sweep()

	ticker := time.NewTicker(p.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("operation log pruning stopped")
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

func (p *Pruner) sweep() {
	cutoff := time.Now().Add(-p.keep)
	deleted, err := p.store.DeleteOlderThan(cutoff)
	switch {
	case err != nil:
		p.logger.Error("operation log sweep failed", "error", err)
	case deleted > 0:
		p.logger.Info("pruned operation log",
			"deleted", deleted, "cutoff", cutoff.Format(time.RFC3339))
	}
}
