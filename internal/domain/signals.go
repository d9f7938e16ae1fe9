package domain

// FeedbackSignal is the slice of a feedback row the score engine consumes.
type FeedbackSignal struct {
	AgentID         int64
	Author          string
	NormalizedValue float64
}

// ValidationSignal is an answered validation request: the validator's score
// joined back to the agent it attests to.
type ValidationSignal struct {
	AgentID   int64
	Validator string
	Score     uint8
}
