package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"crop-price-alerts/internal/storage"
	"crop-price-alerts/internal/validator"
)

// ValidateSubmission runs a one-off validation against the configured store
// and prints the verdict.
func (a *App) ValidateSubmission(ctx context.Context, opts ValidateOptions) error {
	quality, err := storage.ParseQuality(opts.Quality)
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot validate")
	}
	if closeStore != nil {
		defer closeStore()
	}

	v := validator.New(store, a.Logger)
	result := v.Validate(ctx, validator.Submission{
		CropType:     opts.CropType,
		PricePerUnit: opts.Price,
		Quality:      quality,
		Location:     opts.Location,
		Unit:         opts.Unit,
	})

	score := validator.CalculateVerificationScore(result.Confidence, opts.Reputation, len(result.Warnings))

	out := os.Stdout
	fmt.Fprintf(out, "valid:       %t\n", result.IsValid)
	fmt.Fprintf(out, "confidence:  %.2f\n", result.Confidence)
	fmt.Fprintf(out, "score:       %.2f\n", score)
	if result.RegionalAverage != nil {
		fmt.Fprintf(out, "regional avg: %s\n", result.RegionalAverage.StringFixed(2))
	}
	if result.PriceChangePct != nil {
		fmt.Fprintf(out, "recent change: %s%% (%s)\n", result.PriceChangePct.StringFixed(2), result.MarketTrend)
	}
	for _, warning := range result.Warnings {
		fmt.Fprintf(out, "warning: %s\n", warning)
	}
	for _, suggestion := range result.Suggestions {
		fmt.Fprintf(out, "suggestion (%s): %s\n", suggestion.Type, suggestion.Message)
	}
	return nil
}
