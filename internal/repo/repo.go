package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"agentscan/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- sync watermark ---

// LastSyncedBlock returns the stored watermark, zero if no sync has completed.
func (r Repo) LastSyncedBlock(ctx context.Context) (uint64, error) {
	var block int64
	err := r.DB.QueryRowContext(ctx, `SELECT last_synced_block FROM sync_state WHERE id=1`).Scan(&block)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(block), nil
}

// SetLastSyncedBlock advances the watermark. MAX keeps it monotonic even if a
// caller hands in a stale range.
func (r Repo) SetLastSyncedBlock(ctx context.Context, block uint64) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO sync_state(id,last_synced_block) VALUES (1,?)
ON CONFLICT(id) DO UPDATE SET last_synced_block=MAX(last_synced_block, excluded.last_synced_block)`, int64(block))
	return err
}

// --- agents ---

func (r Repo) UpsertAgent(ctx context.Context, a domain.Agent) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO agents(agent_id,owner,agent_uri,agent_wallet,created_block,updated_block)
VALUES (?,?,?,?,?,?)
ON CONFLICT(agent_id) DO UPDATE SET
  owner=excluded.owner,
  agent_uri=excluded.agent_uri,
  agent_wallet=excluded.agent_wallet,
  updated_block=excluded.updated_block`,
		a.AgentID, a.Owner, a.AgentURI, a.AgentWallet, nullBlock(a.CreatedBlock), nullBlock(a.UpdatedBlock))
	return err
}

func (r Repo) UpdateAgentURI(ctx context.Context, agentID int64, agentURI string, block uint64) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE agents SET agent_uri=?, updated_block=? WHERE agent_id=?`,
		agentURI, int64(block), agentID)
	return err
}

const agentCols = `agent_id,owner,agent_uri,agent_wallet,created_block,updated_block`

func scanAgent(sc interface{ Scan(...any) error }) (domain.Agent, error) {
	var a domain.Agent
	var uri, wallet sql.NullString
	var created, updated sql.NullInt64
	if err := sc.Scan(&a.AgentID, &a.Owner, &uri, &wallet, &created, &updated); err != nil {
		return a, err
	}
	a.AgentURI = strPtr(uri)
	a.AgentWallet = strPtr(wallet)
	a.CreatedBlock = blockPtr(created)
	a.UpdatedBlock = blockPtr(updated)
	return a, nil
}

func (r Repo) GetAgent(ctx context.Context, agentID int64) (domain.Agent, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+agentCols+` FROM agents WHERE agent_id=?`, agentID)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

// ListAgents returns all agents, optionally filtered by a substring match on
// the id (as text), the agent URI, or the owner address.
func (r Repo) ListAgents(ctx context.Context, search string) ([]domain.Agent, error) {
	query := `SELECT ` + agentCols + ` FROM agents ORDER BY agent_id`
	var args []any
	if search != "" {
		query = `SELECT ` + agentCols + ` FROM agents
WHERE CAST(agent_id AS TEXT) LIKE ? OR agent_uri LIKE ? OR owner LIKE ?
ORDER BY agent_id`
		term := "%" + search + "%"
		args = []any{term, term, term}
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// --- feedback ---

// InsertFeedback records a NewFeedback event. A replayed event only touches
// the revoked flag; everything else stays as first written.
func (r Repo) InsertFeedback(ctx context.Context, f domain.Feedback) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO feedback(
  feedback_hash,agent_id,author,value,value_decimals,normalized_value,
  tag1,tag2,endpoint,feedback_uri,revoked,block_number
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(feedback_hash) DO UPDATE SET revoked=excluded.revoked`,
		f.FeedbackHash, f.AgentID, f.Author, f.Value, f.ValueDecimals, f.NormalizedValue,
		f.Tag1, f.Tag2, f.Endpoint, f.FeedbackURI, boolInt(f.Revoked), int64(f.BlockNumber))
	return err
}

func (r Repo) RevokeFeedback(ctx context.Context, feedbackHash string, block uint64) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE feedback SET revoked=1, block_number=? WHERE feedback_hash=?`,
		int64(block), feedbackHash)
	return err
}

func (r Repo) ListAgentFeedback(ctx context.Context, agentID int64) ([]domain.Feedback, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT feedback_hash,agent_id,author,value,value_decimals,
normalized_value,tag1,tag2,endpoint,feedback_uri,revoked,block_number
FROM feedback WHERE agent_id=? ORDER BY block_number DESC`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Feedback
	for rows.Next() {
		var f domain.Feedback
		var revoked int
		var block int64
		if err := rows.Scan(&f.FeedbackHash, &f.AgentID, &f.Author, &f.Value, &f.ValueDecimals,
			&f.NormalizedValue, &f.Tag1, &f.Tag2, &f.Endpoint, &f.FeedbackURI, &revoked, &block); err != nil {
			return nil, err
		}
		f.Revoked = revoked != 0
		f.BlockNumber = uint64(block)
		res = append(res, f)
	}
	return res, rows.Err()
}

// --- validations ---

func (r Repo) InsertValidationRequest(ctx context.Context, v domain.ValidationRequest) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO validation_requests(request_hash,agent_id,validator,request_uri,block_number)
VALUES (?,?,?,?,?) ON CONFLICT(request_hash) DO NOTHING`,
		v.RequestHash, v.AgentID, v.Validator, v.RequestURI, int64(v.BlockNumber))
	return err
}

func (r Repo) InsertValidationResponse(ctx context.Context, v domain.ValidationResponse) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO validation_responses(response_hash,request_hash,response_score,response_uri,tag,block_number)
VALUES (?,?,?,?,?,?) ON CONFLICT(response_hash) DO NOTHING`,
		v.ResponseHash, v.RequestHash, v.Score, v.ResponseURI, v.Tag, int64(v.BlockNumber))
	return err
}

func (r Repo) ListAgentValidations(ctx context.Context, agentID int64) ([]domain.Validation, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT r.request_hash, r.agent_id, r.validator, r.request_uri,
  r.block_number, resp.response_hash, resp.response_score, resp.response_uri, resp.tag, resp.block_number
FROM validation_requests r
LEFT JOIN validation_responses resp ON r.request_hash = resp.request_hash
WHERE r.agent_id=? ORDER BY r.block_number DESC`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Validation
	for rows.Next() {
		var v domain.Validation
		var reqBlock int64
		var respHash, respURI, tag sql.NullString
		var score, respBlock sql.NullInt64
		if err := rows.Scan(&v.RequestHash, &v.AgentID, &v.Validator, &v.RequestURI,
			&reqBlock, &respHash, &score, &respURI, &tag, &respBlock); err != nil {
			return nil, err
		}
		v.RequestBlock = uint64(reqBlock)
		v.ResponseHash = strPtr(respHash)
		v.ResponseURI = strPtr(respURI)
		v.Tag = strPtr(tag)
		v.ResponseBlock = blockPtr(respBlock)
		if score.Valid {
			s := uint8(score.Int64)
			v.Score = &s
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// --- reviewer trust ---

// UpsertReviewerTrust stores reviewers under their lowercase hex address so
// trust rows match indexed authors and validators regardless of input casing.
func (r Repo) UpsertReviewerTrust(ctx context.Context, t domain.ReviewerTrust) error {
	t.Reviewer = strings.ToLower(t.Reviewer)
	_, err := r.DB.ExecContext(ctx, `INSERT INTO reviewer_trust(reviewer,allowlisted,stake_weight,identity_weight,updated_block)
VALUES (?,?,?,?,?)
ON CONFLICT(reviewer) DO UPDATE SET
  allowlisted=excluded.allowlisted,
  stake_weight=excluded.stake_weight,
  identity_weight=excluded.identity_weight,
  updated_block=excluded.updated_block`,
		t.Reviewer, boolInt(t.Allowlisted), t.StakeWeight, t.IdentityWeight, nullBlock(t.UpdatedBlock))
	return err
}

func (r Repo) ListReviewerTrust(ctx context.Context) ([]domain.ReviewerTrust, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT reviewer,allowlisted,stake_weight,identity_weight,updated_block
FROM reviewer_trust ORDER BY reviewer`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ReviewerTrust
	for rows.Next() {
		var t domain.ReviewerTrust
		var allowlisted int
		var updated sql.NullInt64
		if err := rows.Scan(&t.Reviewer, &allowlisted, &t.StakeWeight, &t.IdentityWeight, &updated); err != nil {
			return nil, err
		}
		t.Allowlisted = allowlisted != 0
		t.UpdatedBlock = blockPtr(updated)
		res = append(res, t)
	}
	return res, rows.Err()
}

// --- stats ---

func (r Repo) Stats(ctx context.Context) (domain.Stats, error) {
	var s domain.Stats
	err := r.DB.QueryRowContext(ctx, `SELECT
  (SELECT COUNT(*) FROM agents),
  (SELECT COUNT(*) FROM feedback),
  (SELECT COUNT(*) FROM validation_requests),
  (SELECT COUNT(*) FROM validation_responses),
  (SELECT COUNT(*) FROM reviewer_trust),
  (SELECT COUNT(*) FROM jobs)`).Scan(
		&s.AgentCount, &s.FeedbackCount, &s.ValidationRequestCount,
		&s.ValidationResponseCount, &s.ReviewerCount, &s.JobCount)
	return s, err
}

// --- scan helpers ---

func strPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func blockPtr(v sql.NullInt64) *uint64 {
	if !v.Valid {
		return nil
	}
	b := uint64(v.Int64)
	return &b
}

func nullBlock(v *uint64) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
