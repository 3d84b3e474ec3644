package validator

// DefaultReputation is assumed when a submitter's reputation is unknown.
const DefaultReputation = 0.5

// CalculateVerificationScore combines validation confidence, submitter
// reputation, and warning count into a single score in [0, 1]. A reputation
// outside [0, 1] falls back to DefaultReputation.
func CalculateVerificationScore(confidence, userReputation float64, warningCount int) float64 {
	if userReputation < 0 || userReputation > 1 {
		userReputation = DefaultReputation
	}

	score := 0.5 + confidence*0.3 + userReputation*0.2 - float64(warningCount)*0.05
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
