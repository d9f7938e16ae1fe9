package repo

import (
	"context"
	"strings"

	"agentscan/internal/domain"
)

// ListFeedbackSignals returns every non-revoked feedback contribution.
func (r Repo) ListFeedbackSignals(ctx context.Context) ([]domain.FeedbackSignal, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT agent_id, author, normalized_value FROM feedback WHERE revoked=0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.FeedbackSignal
	for rows.Next() {
		var s domain.FeedbackSignal
		if err := rows.Scan(&s.AgentID, &s.Author, &s.NormalizedValue); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// ListValidationSignals returns validation requests that have a response;
// at most one response is consumed per request (keyed join on request_hash).
func (r Repo) ListValidationSignals(ctx context.Context) ([]domain.ValidationSignal, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT r.agent_id, r.validator, resp.response_score
FROM validation_requests r
JOIN validation_responses resp ON r.request_hash = resp.request_hash`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ValidationSignal
	for rows.Next() {
		var s domain.ValidationSignal
		if err := rows.Scan(&s.AgentID, &s.Validator, &s.Score); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// TrustWeights loads the full reviewer trust table keyed by lowercase
// reviewer address.
func (r Repo) TrustWeights(ctx context.Context) (map[string]domain.ReviewerTrust, error) {
	trust, err := r.ListReviewerTrust(ctx)
	if err != nil {
		return nil, err
	}
	weights := make(map[string]domain.ReviewerTrust, len(trust))
	for _, t := range trust {
		weights[strings.ToLower(t.Reviewer)] = t
	}
	return weights, nil
}
