package quality

import "github.com/yokeflow/yokeflow/pkg/models"

// Deep-review trigger reasons, stored on the review row.
const (
	TriggerLowScore        = "low_quality_score"
	TriggerHighErrorRate   = "high_error_rate"
	TriggerHighErrorCount  = "high_error_count"
	TriggerScoreMismatch   = "score_error_mismatch"
	TriggerManyViolations  = "adherence_violations"
	TriggerLowVerification = "low_verification_rate"
	TriggerRepeatedErrors  = "repeated_errors"
	TriggerFinalSession    = "final_session"
)

const (
	reviewScoreFloor       = 7
	reviewErrorRateCeiling = 0.10
	reviewErrorCount       = 30
	mismatchScoreFloor     = 8
	mismatchErrorCount     = 20
	violationCeiling       = 5
	verificationFloor      = 0.5
)

// TriggerReasons evaluates the deep-review conditions against a session's
// final metrics. Any non-empty result triggers a review. There is no
// periodic every-N-sessions condition; reviews are earned, not scheduled.
func TriggerReasons(summary *models.MetricsSummary, finalSession bool) []string {
	var reasons []string
	if summary != nil {
		if summary.QualityScore < reviewScoreFloor {
			reasons = append(reasons, TriggerLowScore)
		}
		if summary.ErrorRate > reviewErrorRateCeiling {
			reasons = append(reasons, TriggerHighErrorRate)
		}
		if summary.ErrorCount >= reviewErrorCount {
			reasons = append(reasons, TriggerHighErrorCount)
		}
		if summary.QualityScore >= mismatchScoreFloor && summary.ErrorCount >= mismatchErrorCount {
			reasons = append(reasons, TriggerScoreMismatch)
		}
		if summary.TotalViolations >= violationCeiling {
			reasons = append(reasons, TriggerManyViolations)
		}
		if summary.TasksCompleted > 0 && summary.VerificationRate < verificationFloor {
			reasons = append(reasons, TriggerLowVerification)
		}
		if summary.RepeatedErrors > 0 {
			reasons = append(reasons, TriggerRepeatedErrors)
		}
	}
	if finalSession {
		reasons = append(reasons, TriggerFinalSession)
	}
	return reasons
}
