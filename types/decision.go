package types

import "time"

// TierScore pairs a tier with its computed score, used for ranked runner-up
// diagnostics on a routing decision.
type TierScore struct {
	Tier  Tier    `json:"tier"`
	Score float64 `json:"score"`
}

// OutcomeFeedback is a later-arriving outcome signal tied to a prior
// routing decision.
type OutcomeFeedback struct {
	// Outcome names what happened, e.g. "useful_retrieval",
	// "never_retrieved", "automated", "automation_failed", "recurrence",
	// "prevented_recurrence".
	Outcome    string    `json:"outcome"`
	Note       string    `json:"note,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// RoutingDecision records the outcome of evaluating one event's signals
// against the tier thresholds. Immutable once created, except for
// OutcomeFeedback.
type RoutingDecision struct {
	ID              string           `json:"id"`
	EventID         string           `json:"event_id"`
	OwnerID         string           `json:"owner_id"`
	Signals         SignalVector     `json:"signals"`
	ScoresByTier    map[Tier]float64 `json:"scores_by_tier"`
	ChosenTier      Tier             `json:"chosen_tier"`
	Confidence      float64          `json:"confidence"`
	Reasoning       string           `json:"reasoning"`
	RunnersUp       []TierScore      `json:"runners_up,omitempty"`
	WeightsVersion  int              `json:"weights_version"`
	CreatedAt       time.Time        `json:"created_at"`
	OutcomeFeedback *OutcomeFeedback `json:"outcome_feedback,omitempty"`
}

// TokenEconomicsEntry is one append-only ledger row per phase transition.
type TokenEconomicsEntry struct {
	ID           string    `json:"id"`
	RecordID     string    `json:"record_id"`
	OwnerID      string    `json:"owner_id"`
	FromPhase    Phase     `json:"from_phase"`
	ToPhase      Phase     `json:"to_phase"`
	TokensBefore int       `json:"tokens_before"`
	TokensAfter  int       `json:"tokens_after"`
	Timestamp    time.Time `json:"timestamp"`
}

// TokensSaved returns the token delta for the transition.
func (e *TokenEconomicsEntry) TokensSaved() int {
	return e.TokensBefore - e.TokensAfter
}
