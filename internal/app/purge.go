package app

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Purge deletes read and dismissed notifications past the retention window.
func (a *App) Purge(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot purge")
	}
	if closeStore != nil {
		defer closeStore()
	}

	eng := a.newEngine(store)
	deleted, err := eng.PurgeOldNotifications(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "deleted %d expired notifications\n", deleted)
	return nil
}
