package app

import (
	"context"
	"errors"
	"fmt"
)

// Reset re-arms a triggered alert. This is the operator-side half of the
// manual re-arm policy; under the auto policy the engine does it itself.
func (a *App) Reset(ctx context.Context, alertID int64) error {
	if alertID <= 0 {
		return errors.New("alert id must be positive")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot reset alerts")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if err := store.ResetAlert(ctx, alertID); err != nil {
		return fmt.Errorf("reset alert %d: %w", alertID, err)
	}

	a.Logger.Info().Int64("alert_id", alertID).Msg("alert re-armed")
	return nil
}
