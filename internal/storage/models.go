package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Quality grades a price observation.
type Quality string

const (
	QualityPremium  Quality = "PREMIUM"
	QualityStandard Quality = "STANDARD"
	QualityEconomy  Quality = "ECONOMY"
)

// ParseQuality maps a string onto a known quality grade.
func ParseQuality(s string) (Quality, error) {
	switch Quality(strings.ToUpper(strings.TrimSpace(s))) {
	case QualityPremium:
		return QualityPremium, nil
	case QualityStandard:
		return QualityStandard, nil
	case QualityEconomy:
		return QualityEconomy, nil
	default:
		return "", fmt.Errorf("unknown quality %q", s)
	}
}

// PriceStatus tracks a record through moderation.
type PriceStatus string

const (
	PriceStatusPending  PriceStatus = "PENDING"
	PriceStatusApproved PriceStatus = "APPROVED"
	PriceStatusRejected PriceStatus = "REJECTED"
	PriceStatusExpired  PriceStatus = "EXPIRED"
)

// AlertType selects the detection rule a subscription listens for.
type AlertType string

const (
	AlertPriceIncrease      AlertType = "PRICE_INCREASE"
	AlertPriceDecrease      AlertType = "PRICE_DECREASE"
	AlertPriceVolatility    AlertType = "PRICE_VOLATILITY"
	AlertRegionalDifference AlertType = "REGIONAL_DIFFERENCE"
	AlertQualityOpportunity AlertType = "QUALITY_OPPORTUNITY"
	AlertSeasonalTrend      AlertType = "SEASONAL_TREND"
)

// ParseAlertType maps a string onto a known alert type.
func ParseAlertType(s string) (AlertType, error) {
	switch t := AlertType(strings.ToUpper(strings.TrimSpace(s))); t {
	case AlertPriceIncrease, AlertPriceDecrease, AlertPriceVolatility,
		AlertRegionalDifference, AlertQualityOpportunity, AlertSeasonalTrend:
		return t, nil
	default:
		return "", fmt.Errorf("unknown alert type %q", s)
	}
}

// Frequency throttles how often a subscription may fire.
type Frequency string

const (
	FrequencyImmediate Frequency = "IMMEDIATE"
	FrequencyDaily     Frequency = "DAILY"
	FrequencyWeekly    Frequency = "WEEKLY"
	FrequencyMonthly   Frequency = "MONTHLY"
)

// ParseFrequency maps a string onto a known frequency.
func ParseFrequency(s string) (Frequency, error) {
	switch f := Frequency(strings.ToUpper(strings.TrimSpace(s))); f {
	case FrequencyImmediate, FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return f, nil
	default:
		return "", fmt.Errorf("unknown frequency %q", s)
	}
}

// MinGap returns the minimum interval between two firings. Zero means no throttle.
func (f Frequency) MinGap() time.Duration {
	switch f {
	case FrequencyDaily:
		return 24 * time.Hour
	case FrequencyWeekly:
		return 168 * time.Hour
	case FrequencyMonthly:
		return 720 * time.Hour
	default:
		return 0
	}
}

// NotificationStatus tracks a notification through the reader's inbox.
type NotificationStatus string

const (
	NotificationPending   NotificationStatus = "PENDING"
	NotificationRead      NotificationStatus = "READ"
	NotificationDismissed NotificationStatus = "DISMISSED"
)

// PriceRecord is one moderation-approved commodity price observation.
// Records are append-only; this engine never mutates them.
type PriceRecord struct {
	ID            int64
	CropType      string
	PricePerUnit  decimal.Decimal
	Unit          string
	Quality       Quality
	Location      string
	EffectiveDate time.Time
	Status        PriceStatus
	IsVerified    bool
	CreatedAt     time.Time
}

// AlertSubscription is a user's standing request to be notified of price
// movements. Quality nil means "match any grade".
type AlertSubscription struct {
	ID              string
	OwnerID         string
	CropType        string
	Location        string
	Quality         *Quality
	AlertType       AlertType
	Frequency       Frequency
	ThresholdPct    float64
	IsActive        bool
	LastTriggeredAt *time.Time
	CreatedAt       time.Time
}

// AlertNotification is an emitted alert awaiting the user's attention.
// ChangePct is the signed percent change that fired the subscription.
type AlertNotification struct {
	ID             string
	SubscriptionID string
	OwnerID        string
	Title          string
	Message        string
	AlertType      AlertType
	CropType       string
	Location       string
	OldPrice       decimal.Decimal
	NewPrice       decimal.Decimal
	ChangePct      decimal.Decimal
	Status         NotificationStatus
	CreatedAt      time.Time
}
