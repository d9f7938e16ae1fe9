package server

import (
	"agentscan/internal/domain"
)

// Response payloads

type AgentResponse struct {
	AgentID         int64   `json:"agent_id"`
	Owner           string  `json:"owner"`
	AgentURI        *string `json:"agent_uri,omitempty"`
	AgentWallet     *string `json:"agent_wallet,omitempty"`
	CreatedBlock    *uint64 `json:"created_block,omitempty"`
	UpdatedBlock    *uint64 `json:"updated_block,omitempty"`
	FeedbackScore   float64 `json:"feedback_score"`
	ValidationScore float64 `json:"validation_score"`
	ReputationScore float64 `json:"reputation_score"`
}

type HealthResponse struct {
	Status          string            `json:"status"`
	Mode            string            `json:"mode"`
	LastSyncedBlock uint64            `json:"last_synced_block"`
	ChainID         int64             `json:"chain_id"`
	Deployments     map[string]string `json:"deployments"`
}

type JobDetailResponse struct {
	Job         domain.Job             `json:"job"`
	Milestones  []domain.JobMilestone  `json:"milestones"`
	Validations []domain.JobValidation `json:"validations"`
	Proofs      []domain.JobProof      `json:"proofs"`
}

func agentResponse(a domain.Agent, s domain.Score) AgentResponse {
	return AgentResponse{
		AgentID:         a.AgentID,
		Owner:           a.Owner,
		AgentURI:        a.AgentURI,
		AgentWallet:     a.AgentWallet,
		CreatedBlock:    a.CreatedBlock,
		UpdatedBlock:    a.UpdatedBlock,
		FeedbackScore:   s.FeedbackScore,
		ValidationScore: s.ValidationScore,
		ReputationScore: s.ReputationScore,
	}
}

func mapAgents(agents []domain.Agent, scores []domain.Score) []AgentResponse {
	byAgent := make(map[int64]domain.Score, len(scores))
	for _, s := range scores {
		byAgent[s.AgentID] = s
	}
	out := make([]AgentResponse, 0, len(agents))
	for _, a := range agents {
		out = append(out, agentResponse(a, byAgent[a.AgentID]))
	}
	return out
}
