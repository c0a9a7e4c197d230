package types

import "time"

// Signal names used as keys in RouterWeights. The inv_ variants resolve to
// 1 - value so tier scores stay pure linear combinations even when a tier
// rewards the absence of a signal (the discard rule rewards unremarkable,
// familiar, unsuccessful events).
const (
	SignalSuccess       = "success_score"
	SignalRepetition    = "repetition_signal"
	SignalCriticality   = "criticality"
	SignalNovelty       = "pattern_novelty"
	SignalRichness      = "context_richness"
	SignalEmotional     = "emotional_intensity"
	SignalUrgency       = "temporal_urgency"
	SignalInvSuccess    = "inv_success_score"
	SignalInvNovelty    = "inv_pattern_novelty"
	SignalInvRichness   = "inv_context_richness"
	SignalInvRepetition = "inv_repetition_signal"
)

// SignalVector is the normalized signal set extracted from one raw event.
// All components are in [0,1] except RepetitionCount.
type SignalVector struct {
	SuccessScore       float64 `json:"success_score"`
	RepetitionCount    int     `json:"repetition_count"`
	RepetitionSignal   float64 `json:"repetition_signal"`
	Criticality        float64 `json:"criticality"`
	PatternNovelty     float64 `json:"pattern_novelty"`
	ContextRichness    float64 `json:"context_richness"`
	EmotionalIntensity float64 `json:"emotional_intensity"`
	TemporalUrgency    float64 `json:"temporal_urgency"`
}

// Value resolves a signal by weight key. Unknown names resolve to 0 so a
// stale weight entry cannot skew a score.
func (v SignalVector) Value(name string) float64 {
	switch name {
	case SignalSuccess:
		return v.SuccessScore
	case SignalRepetition:
		return v.RepetitionSignal
	case SignalCriticality:
		return v.Criticality
	case SignalNovelty:
		return v.PatternNovelty
	case SignalRichness:
		return v.ContextRichness
	case SignalEmotional:
		return v.EmotionalIntensity
	case SignalUrgency:
		return v.TemporalUrgency
	case SignalInvSuccess:
		return 1 - v.SuccessScore
	case SignalInvNovelty:
		return 1 - v.PatternNovelty
	case SignalInvRichness:
		return 1 - v.ContextRichness
	case SignalInvRepetition:
		return 1 - v.RepetitionSignal
	default:
		return 0
	}
}

// Outcome of a raw experience event.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailure = "failure"
)

// Impact scopes, narrowest to widest.
const (
	ImpactLocal   = "local"
	ImpactService = "service"
	ImpactRegion  = "region"
	ImpactAll     = "all"
)

// RawEvent is an inbound experience record before signal extraction.
// Zero values for optional fields are treated as absent.
type RawEvent struct {
	ID              string         `json:"id"`
	OwnerID         string         `json:"owner_id"`
	EventType       string         `json:"event_type"`
	Category        string         `json:"category,omitempty"`
	Outcome         string         `json:"outcome"`
	Description     string         `json:"description,omitempty"`
	ErrorDetail     string         `json:"error_detail,omitempty"`
	UserContext     string         `json:"user_context,omitempty"`
	SystemContext   string         `json:"system_context,omitempty"`
	ErrorRate       float64        `json:"error_rate"`
	ExecutionTimeMs float64        `json:"execution_time_ms"`
	// UserSatisfaction and PerformanceVsBaseline are pointers so a missing
	// rating can fall back to the neutral default instead of zero.
	UserSatisfaction      *float64       `json:"user_satisfaction,omitempty"`
	PerformanceVsBaseline *float64       `json:"performance_vs_baseline,omitempty"`
	Severity              *float64       `json:"severity,omitempty"`
	ImpactScope           string         `json:"impact_scope,omitempty"`
	RepetitionCount       int            `json:"repetition_count,omitempty"`
	AffectedUsers         int            `json:"affected_users,omitempty"`
	FinancialImpact       bool           `json:"financial_impact,omitempty"`
	DowntimeMinutes       float64        `json:"downtime_minutes,omitempty"`
	DataLoss              bool           `json:"data_loss,omitempty"`
	Urgent                bool           `json:"urgent,omitempty"`
	Deadline              *time.Time     `json:"deadline,omitempty"`
	Stakeholders          int            `json:"stakeholders,omitempty"`
	Timestamp             time.Time      `json:"timestamp"`
	Metadata              map[string]any `json:"metadata,omitempty"`
}

// PatternSignature builds the signature used for similarity and repetition
// lookups: type + outcome + category.
func (e *RawEvent) PatternSignature() string {
	sig := e.EventType + "|" + e.Outcome
	if e.Category != "" {
		sig += "|" + e.Category
	}
	return sig
}
