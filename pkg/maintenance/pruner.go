package maintenance

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"atrium-hq/atrium/pkg/config"
	"atrium-hq/atrium/pkg/store"
)

// Pruner clears password reset keys that have outlived their TTL. An
// expired key is simply nulled out; the account itself is untouched.
type Pruner struct {
	store  *store.Store
	config *config.MaintenanceConfig
	logger *slog.Logger
}

// NewPruner creates a pruner over the given datastore.
func NewPruner(st *store.Store, cfg *config.MaintenanceConfig) *Pruner {
	return &Pruner{
		store:  st,
		config: cfg,
		logger: slog.Default().With("component", "maintenance.pruner"),
	}
}

// Prune removes reset keys issued before now minus the configured TTL.
// Returns the number of accounts cleared. A zero TTL disables pruning.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	if p.config.ResetKeyTTL <= 0 {
		return 0, nil
	}

	cutoff := time.Now().Add(-p.config.ResetKeyTTL).Unix()

	var cleared int64
	err := p.store.InTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE users
			SET password_reset_key_hash = NULL, password_reset_key_time = NULL
			WHERE password_reset_key_time IS NOT NULL
			  AND password_reset_key_time < ?`, cutoff)
		if err != nil {
			return err
		}
		cleared, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to clear expired reset keys: %w", err)
	}

	if cleared > 0 {
		p.logger.Info("expired reset keys cleared", "count", cleared)
	}
	return cleared, nil
}
