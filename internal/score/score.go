// Package score derives per-agent reputation from the stored feedback,
// validation, and reviewer-trust tables. Scores are recomputed from current
// state on every query and never persisted.
package score

import (
	"context"
	"sort"
	"strings"

	"agentscan/internal/domain"
	"agentscan/internal/repo"
)

type Engine struct {
	Repo repo.Repo
}

// Weight returns a reviewer's multiplier: baseline 1 plus the allowlist bit
// and the stake/identity components. A reviewer without a trust record gets
// the baseline, so missing trust data never zeroes a contribution. The trust
// map is keyed by lowercase address; indexed authors carry EIP-55 casing, so
// the lookup folds case.
func Weight(trust map[string]domain.ReviewerTrust, reviewer string) float64 {
	w := 1.0
	t, ok := trust[strings.ToLower(reviewer)]
	if !ok {
		return w
	}
	if t.Allowlisted {
		w++
	}
	return w + t.StakeWeight + t.IdentityWeight
}

// Compute folds the signal collections into per-agent breakdowns. Pure
// arithmetic; storage access happens in the callers.
func Compute(feedback []domain.FeedbackSignal, validations []domain.ValidationSignal, trust map[string]domain.ReviewerTrust) map[int64]domain.Score {
	scores := make(map[int64]domain.Score)
	bump := func(agentID int64) domain.Score {
		s, ok := scores[agentID]
		if !ok {
			s = domain.Score{AgentID: agentID}
		}
		return s
	}
	for _, f := range feedback {
		s := bump(f.AgentID)
		s.FeedbackScore += f.NormalizedValue * Weight(trust, f.Author)
		s.ReputationScore = s.FeedbackScore + s.ValidationScore
		scores[f.AgentID] = s
	}
	for _, v := range validations {
		s := bump(v.AgentID)
		s.ValidationScore += float64(v.Score) * Weight(trust, v.Validator)
		s.ReputationScore = s.FeedbackScore + s.ValidationScore
		scores[v.AgentID] = s
	}
	return scores
}

// All scores every agent with at least one row in the agents table, ordered
// by reputation descending.
func (e Engine) All(ctx context.Context) ([]domain.Score, error) {
	agents, err := e.Repo.ListAgents(ctx, "")
	if err != nil {
		return nil, err
	}
	computed, err := e.compute(ctx)
	if err != nil {
		return nil, err
	}
	res := make([]domain.Score, 0, len(agents))
	for _, a := range agents {
		s, ok := computed[a.AgentID]
		if !ok {
			s = domain.Score{AgentID: a.AgentID}
		}
		res = append(res, s)
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].ReputationScore > res[j].ReputationScore })
	return res, nil
}

// Agent scores a single agent; repo.ErrNotFound if it was never registered.
func (e Engine) Agent(ctx context.Context, agentID int64) (domain.Score, error) {
	if _, err := e.Repo.GetAgent(ctx, agentID); err != nil {
		return domain.Score{}, err
	}
	computed, err := e.compute(ctx)
	if err != nil {
		return domain.Score{}, err
	}
	s, ok := computed[agentID]
	if !ok {
		s = domain.Score{AgentID: agentID}
	}
	return s, nil
}

func (e Engine) compute(ctx context.Context) (map[int64]domain.Score, error) {
	feedback, err := e.Repo.ListFeedbackSignals(ctx)
	if err != nil {
		return nil, err
	}
	validations, err := e.Repo.ListValidationSignals(ctx)
	if err != nil {
		return nil, err
	}
	trust, err := e.Repo.TrustWeights(ctx)
	if err != nil {
		return nil, err
	}
	return Compute(feedback, validations, trust), nil
}
