package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints recent notifications.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show notifications")
	}
	if closeStore != nil {
		defer closeStore()
	}

	notes, err := store.ListRecentNotifications(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(notes) == 0 {
		fmt.Fprintln(os.Stdout, "no notifications found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Created (UTC)\tType\tCrop\tLocation\tOld\tNew\tChange%\tStatus\tTitle")

	for _, note := range notes {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			note.CreatedAt.UTC().Format(time.RFC3339),
			note.AlertType,
			note.CropType,
			note.Location,
			note.OldPrice.StringFixed(2),
			note.NewPrice.StringFixed(2),
			note.ChangePct.StringFixed(2),
			note.Status,
			sanitizeInline(note.Title),
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
