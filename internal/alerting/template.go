package alerting

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"crop-price-alerts/internal/storage"
)

// TemplateData carries the facts a notification template renders.
type TemplateData struct {
	CropType  string
	Location  string
	Unit      string
	OldPrice  decimal.Decimal
	NewPrice  decimal.Decimal
	ChangePct decimal.Decimal
}

type alertTemplate struct {
	headline  string
	recommend func(changePct decimal.Decimal) string
}

// The last four templates serve alert types that currently share the generic
// threshold check; they carry no detection logic of their own yet.
var alertTemplates = map[storage.AlertType]alertTemplate{
	storage.AlertPriceIncrease: {
		headline: "Price increase",
		recommend: func(changePct decimal.Decimal) string {
			if changePct.Sign() < 0 {
				return fmt.Sprintf("Note: this movement is actually a decrease of %s%%. Review your alert settings if that is unexpected.", changePct.Abs().StringFixed(2))
			}
			return "Prices are trending up. Consider selling while the market is favourable."
		},
	},
	storage.AlertPriceDecrease: {
		headline: "Price decrease",
		recommend: func(changePct decimal.Decimal) string {
			if changePct.Sign() > 0 {
				return fmt.Sprintf("Note: this movement is actually an increase of %s%%. Review your alert settings if that is unexpected.", changePct.Abs().StringFixed(2))
			}
			return "Prices are falling. You may want to hold your produce or explore nearby markets."
		},
	},
	storage.AlertPriceVolatility: {
		headline: "Price volatility",
		recommend: func(decimal.Decimal) string {
			return "The market is moving quickly. Check current prices before trading."
		},
	},
	storage.AlertRegionalDifference: {
		headline: "Regional price movement",
		recommend: func(decimal.Decimal) string {
			return "Compare prices in nearby markets before committing to a sale."
		},
	},
	storage.AlertQualityOpportunity: {
		headline: "Quality premium movement",
		recommend: func(decimal.Decimal) string {
			return "Higher grades may be fetching a better price in this market."
		},
	},
	storage.AlertSeasonalTrend: {
		headline: "Seasonal price movement",
		recommend: func(decimal.Decimal) string {
			return "Seasonal patterns may be at play. Review last year's prices before deciding."
		},
	},
}

// Render produces the human-readable title and body for one alert firing.
func Render(alertType storage.AlertType, d TemplateData) (title, message string) {
	tpl, ok := alertTemplates[alertType]
	if !ok {
		tpl = alertTemplates[storage.AlertPriceVolatility]
	}

	title = fmt.Sprintf("%s: %s in %s", tpl.headline, d.CropType, d.Location)

	unit := d.Unit
	if unit == "" {
		unit = "unit"
	}

	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("Crop: %s\n", d.CropType))
	builder.WriteString(fmt.Sprintf("Location: %s\n", d.Location))
	builder.WriteString(fmt.Sprintf("Previous price: %s per %s\n", d.OldPrice.StringFixed(2), unit))
	builder.WriteString(fmt.Sprintf("Current price: %s per %s\n", d.NewPrice.StringFixed(2), unit))
	builder.WriteString(fmt.Sprintf("Change: %s%%\n", signedPct(d.ChangePct)))
	builder.WriteString(tpl.recommend(d.ChangePct))
	return title, builder.String()
}

func signedPct(pct decimal.Decimal) string {
	if pct.Sign() > 0 {
		return "+" + pct.StringFixed(2)
	}
	return pct.StringFixed(2)
}
