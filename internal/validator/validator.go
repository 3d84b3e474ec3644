package validator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crop-price-alerts/internal/storage"
)

const historyLimit = 10

var (
	rejectDeviation   = decimal.NewFromFloat(0.5)
	warnDeviation     = decimal.NewFromFloat(0.2)
	qualityTolerance  = decimal.NewFromFloat(0.3)
	seasonalTolerance = decimal.NewFromFloat(0.4)
	trendCutoffPct    = decimal.NewFromInt(5)
	rangeLowFactor    = decimal.NewFromFloat(0.8)
	rangeHighFactor   = decimal.NewFromFloat(1.2)
)

// seasonalMinRecords is the minimum history required before the seasonal
// comparison is considered meaningful.
const seasonalMinRecords = 3

// MarketTrend classifies recent price direction.
type MarketTrend string

const (
	TrendUp     MarketTrend = "UP"
	TrendDown   MarketTrend = "DOWN"
	TrendStable MarketTrend = "STABLE"
)

// SuggestionType tags a correction suggestion.
type SuggestionType string

const (
	SuggestionPriceRange        SuggestionType = "PRICE_RANGE"
	SuggestionQualityAdjustment SuggestionType = "QUALITY_ADJUSTMENT"
)

// Suggestion proposes a correction for a questionable submission.
type Suggestion struct {
	Type           SuggestionType
	Message        string
	SuggestedValue decimal.Decimal
	RangeLow       decimal.Decimal
	RangeHigh      decimal.Decimal
}

// Submission is one proposed price awaiting validation.
type Submission struct {
	CropType     string
	PricePerUnit float64
	Quality      storage.Quality
	Location     string
	Unit         string
}

// ValidationResult is the verdict for one submission.
type ValidationResult struct {
	IsValid         bool
	Confidence      float64
	Warnings        []string
	Suggestions     []Suggestion
	RegionalAverage *decimal.Decimal
	PriceChangePct  *decimal.Decimal
	MarketTrend     MarketTrend
}

// Validator statistically checks submissions against historical prices.
// It holds no mutable state and is safe for concurrent use.
type Validator struct {
	prices storage.PriceStore
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Validator over the given price store.
func New(prices storage.PriceStore, logger zerolog.Logger) *Validator {
	return &Validator{
		prices: prices,
		logger: logger.With().Str("component", "validator").Logger(),
		now:    time.Now,
	}
}

// Validate checks one submission and never returns an error: infrastructure
// failures downgrade to a low-confidence pass so that submissions are never
// blocked by the validation layer itself.
func (v *Validator) Validate(ctx context.Context, sub Submission) (result ValidationResult) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error().Interface("panic", r).Str("crop", sub.CropType).Msg("validation panicked")
			result = degradedResult(fmt.Sprintf("%v", r), "unknown")
		}
	}()

	result = ValidationResult{IsValid: true, Confidence: 1.0}

	quality := sub.Quality
	records, err := v.prices.FindRecentApprovedPrices(ctx, sub.CropType, sub.Location, &quality, historyLimit)
	if err != nil {
		v.logger.Warn().Err(err).Str("crop", sub.CropType).Str("location", sub.Location).Msg("history query failed; degrading validation")
		return degradedResult(err.Error(), classifyFailure(err))
	}

	if len(records) == 0 {
		result.Confidence = 0.7
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("no approved price history for %s in %s; submission accepted without baseline", sub.CropType, sub.Location))
		return result
	}

	average := meanPrice(records)
	result.RegionalAverage = &average

	if len(records) >= 2 {
		v.applyTrend(records, &result)
	}

	price := decimal.NewFromFloat(sub.PricePerUnit)

	if !average.IsZero() {
		deviation := price.Sub(average).Abs().Div(average)
		switch {
		case deviation.GreaterThan(rejectDeviation):
			result.IsValid = false
			capConfidence(&result, 0.3)
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("price deviates %s%% from the regional average of %s", deviation.Mul(decimal.NewFromInt(100)).StringFixed(1), average.StringFixed(2)))
			result.Suggestions = append(result.Suggestions, Suggestion{
				Type:           SuggestionPriceRange,
				Message:        fmt.Sprintf("prices for %s in %s typically fall between %s and %s", sub.CropType, sub.Location, average.Mul(rangeLowFactor).StringFixed(2), average.Mul(rangeHighFactor).StringFixed(2)),
				SuggestedValue: average,
				RangeLow:       average.Mul(rangeLowFactor),
				RangeHigh:      average.Mul(rangeHighFactor),
			})
		case deviation.GreaterThan(warnDeviation):
			capConfidence(&result, 0.6)
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("price is %s%% away from the regional average of %s", deviation.Mul(decimal.NewFromInt(100)).StringFixed(1), average.StringFixed(2)))
		}
	}

	expected := average.Mul(qualityMultiplier(sub.Quality))
	if !expected.IsZero() {
		gap := price.Sub(expected).Abs().Div(expected)
		if gap.GreaterThan(qualityTolerance) {
			result.IsValid = false
			capConfidence(&result, 0.5)
			result.Suggestions = append(result.Suggestions, Suggestion{
				Type:           SuggestionQualityAdjustment,
				Message:        fmt.Sprintf("a %s grade price near %s would be consistent with the regional average", sub.Quality, expected.StringFixed(2)),
				SuggestedValue: expected,
			})
		}
	}

	v.applySeasonal(ctx, sub, price, &result)

	return result
}

// applyTrend derives the short-term price change by comparing the mean of
// the three most recent records against the mean of the next three.
func (v *Validator) applyTrend(records []storage.PriceRecord, result *ValidationResult) {
	recentEnd := min(3, len(records))
	olderEnd := min(6, len(records))
	if olderEnd <= 3 {
		return
	}

	recent := meanPrice(records[:recentEnd])
	older := meanPrice(records[3:olderEnd])
	if older.IsZero() {
		return
	}

	change := recent.Sub(older).Div(older).Mul(decimal.NewFromInt(100))
	result.PriceChangePct = &change

	switch {
	case change.GreaterThan(trendCutoffPct):
		result.MarketTrend = TrendUp
	case change.LessThan(trendCutoffPct.Neg()):
		result.MarketTrend = TrendDown
	default:
		result.MarketTrend = TrendStable
	}
}

// applySeasonal compares the submission against the same calendar month one
// year earlier. Advisory only: every failure here is swallowed.
func (v *Validator) applySeasonal(ctx context.Context, sub Submission, price decimal.Decimal, result *ValidationResult) {
	now := v.now().UTC()
	seasonal, err := v.prices.FindSeasonalPrices(ctx, sub.CropType, sub.Location, now.Month(), now.Year()-1)
	if err != nil {
		v.logger.Debug().Err(err).Msg("seasonal query failed; skipping seasonal check")
		return
	}
	if len(seasonal) < seasonalMinRecords {
		return
	}

	seasonalMean := meanPrice(seasonal)
	if seasonalMean.IsZero() {
		return
	}

	deviation := price.Sub(seasonalMean).Abs().Div(seasonalMean)
	if deviation.GreaterThan(seasonalTolerance) {
		capConfidence(result, 0.5)
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("price differs %s%% from the %s average of %s last year", deviation.Mul(decimal.NewFromInt(100)).StringFixed(1), now.Month(), seasonalMean.StringFixed(2)))
	}
}

func qualityMultiplier(q storage.Quality) decimal.Decimal {
	switch q {
	case storage.QualityPremium:
		return decimal.NewFromFloat(1.3)
	case storage.QualityEconomy:
		return decimal.NewFromFloat(0.7)
	default:
		return decimal.NewFromInt(1)
	}
}

func meanPrice(records []storage.PriceRecord) decimal.Decimal {
	if len(records) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, record := range records {
		sum = sum.Add(record.PricePerUnit)
	}
	return sum.Div(decimal.NewFromInt(int64(len(records))))
}

// capConfidence lowers confidence to at most limit. Confidence only ever
// decreases once the baseline is set.
func capConfidence(result *ValidationResult, limit float64) {
	if result.Confidence > limit {
		result.Confidence = limit
	}
}

func degradedResult(detail, category string) ValidationResult {
	return ValidationResult{
		IsValid:    true,
		Confidence: 0.3,
		Warnings: []string{
			fmt.Sprintf("validation degraded (%s failure): %s", category, detail),
		},
	}
}

func classifyFailure(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	return "data access"
}
