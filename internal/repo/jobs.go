package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"agentscan/internal/domain"
)

// JobPatch carries the job columns a single lifecycle event owns. Nil fields
// are left untouched in storage; there is no "null means don't touch"
// convention at the SQL layer.
type JobPatch struct {
	AgentID        *int64
	Status         *string
	AwardedBlock   *uint64
	FinalizedBlock *uint64
	ReleasedAmount *string
}

// JobValidationPatch covers both halves of a milestone validation: request
// fields land on ValidationRequested, response fields on JobFinalized.
type JobValidationPatch struct {
	Validator     *string
	RequestHash   *string
	RequestURI    *string
	RequestBlock  *uint64
	Score         *uint8
	ResponseHash  *string
	ResponseURI   *string
	Tag           *string
	ResponseBlock *uint64
}

type JobDisputePatch struct {
	ProposedPayoutBps *uint16
	DisputeURI        *string
	DisputeHash       *string
	Accepted          *bool
	OpenedBlock       *uint64
	AcceptedBlock     *uint64
	ReclaimedBlock    *uint64
	RemainderAmount   *string
}

// InsertJob records a JobPosted event. A replay refreshes the posted-owned
// columns; award/finalize state written by later events is not clobbered.
func (r Repo) InsertJob(ctx context.Context, j domain.Job) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO jobs(
  job_id,owner,job_uri,job_hash,payment_token,budget_amount,deadline,
  pass_threshold,dispute_window_seconds,status,posted_block
) VALUES (?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(job_id) DO UPDATE SET
  owner=excluded.owner,
  job_uri=excluded.job_uri,
  job_hash=excluded.job_hash,
  payment_token=excluded.payment_token,
  budget_amount=excluded.budget_amount,
  deadline=excluded.deadline,
  pass_threshold=excluded.pass_threshold,
  dispute_window_seconds=excluded.dispute_window_seconds,
  posted_block=excluded.posted_block`,
		j.JobID, j.Owner, j.JobURI, j.JobHash, j.PaymentToken, j.BudgetAmount, j.Deadline,
		j.PassThreshold, nullBlock(j.DisputeWindowSeconds), j.Status, nullBlock(j.PostedBlock))
	return err
}

// PatchJob upserts only the columns set on the patch.
func (r Repo) PatchJob(ctx context.Context, jobID int64, p JobPatch) error {
	var (
		cols []string
		args []any
	)
	if p.AgentID != nil {
		cols = append(cols, "agent_id")
		args = append(args, *p.AgentID)
	}
	if p.Status != nil {
		cols = append(cols, "status")
		args = append(args, *p.Status)
	}
	if p.AwardedBlock != nil {
		cols = append(cols, "awarded_block")
		args = append(args, int64(*p.AwardedBlock))
	}
	if p.FinalizedBlock != nil {
		cols = append(cols, "finalized_block")
		args = append(args, int64(*p.FinalizedBlock))
	}
	if p.ReleasedAmount != nil {
		cols = append(cols, "released_amount")
		args = append(args, *p.ReleasedAmount)
	}
	return r.upsertByKey(ctx, "jobs", []string{"job_id"}, []any{jobID}, cols, args)
}

func (r Repo) UpsertMilestone(ctx context.Context, m domain.JobMilestone) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO job_milestones(job_id,milestone_index,milestone_uri,milestone_hash,weight_bps)
VALUES (?,?,?,?,?)
ON CONFLICT(job_id,milestone_index) DO UPDATE SET
  milestone_uri=excluded.milestone_uri,
  milestone_hash=excluded.milestone_hash,
  weight_bps=excluded.weight_bps`,
		m.JobID, m.MilestoneIndex, m.MilestoneURI, m.MilestoneHash, m.WeightBps)
	return err
}

// MarkMilestonePaid flips the paid flag when a milestone finalizes.
func (r Repo) MarkMilestonePaid(ctx context.Context, jobID, milestoneIndex int64) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO job_milestones(job_id,milestone_index,paid) VALUES (?,?,1)
ON CONFLICT(job_id,milestone_index) DO UPDATE SET paid=1`, jobID, milestoneIndex)
	return err
}

func (r Repo) UpsertProof(ctx context.Context, p domain.JobProof) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO job_proofs(job_id,milestone_index,proof_uri,proof_hash,block_number)
VALUES (?,?,?,?,?)
ON CONFLICT(job_id,milestone_index) DO UPDATE SET
  proof_uri=excluded.proof_uri,
  proof_hash=excluded.proof_hash,
  block_number=excluded.block_number`,
		p.JobID, p.MilestoneIndex, p.ProofURI, p.ProofHash, int64(p.BlockNumber))
	return err
}

func (r Repo) UpsertJobValidation(ctx context.Context, jobID, milestoneIndex int64, p JobValidationPatch) error {
	var (
		cols []string
		args []any
	)
	appendStr := func(col string, v *string) {
		if v != nil {
			cols = append(cols, col)
			args = append(args, *v)
		}
	}
	appendStr("validator", p.Validator)
	appendStr("request_hash", p.RequestHash)
	appendStr("request_uri", p.RequestURI)
	if p.RequestBlock != nil {
		cols = append(cols, "request_block")
		args = append(args, int64(*p.RequestBlock))
	}
	if p.Score != nil {
		cols = append(cols, "response_score")
		args = append(args, *p.Score)
	}
	appendStr("response_hash", p.ResponseHash)
	appendStr("response_uri", p.ResponseURI)
	appendStr("tag", p.Tag)
	if p.ResponseBlock != nil {
		cols = append(cols, "response_block")
		args = append(args, int64(*p.ResponseBlock))
	}
	return r.upsertByKey(ctx, "job_validations", []string{"job_id", "milestone_index"}, []any{jobID, milestoneIndex}, cols, args)
}

func (r Repo) UpsertJobDispute(ctx context.Context, jobID int64, p JobDisputePatch) error {
	var (
		cols []string
		args []any
	)
	if p.ProposedPayoutBps != nil {
		cols = append(cols, "proposed_payout_bps")
		args = append(args, *p.ProposedPayoutBps)
	}
	if p.DisputeURI != nil {
		cols = append(cols, "dispute_uri")
		args = append(args, *p.DisputeURI)
	}
	if p.DisputeHash != nil {
		cols = append(cols, "dispute_hash")
		args = append(args, *p.DisputeHash)
	}
	if p.Accepted != nil {
		cols = append(cols, "accepted")
		args = append(args, boolInt(*p.Accepted))
	}
	if p.OpenedBlock != nil {
		cols = append(cols, "opened_block")
		args = append(args, int64(*p.OpenedBlock))
	}
	if p.AcceptedBlock != nil {
		cols = append(cols, "accepted_block")
		args = append(args, int64(*p.AcceptedBlock))
	}
	if p.ReclaimedBlock != nil {
		cols = append(cols, "reclaimed_block")
		args = append(args, int64(*p.ReclaimedBlock))
	}
	if p.RemainderAmount != nil {
		cols = append(cols, "remainder_amount")
		args = append(args, *p.RemainderAmount)
	}
	return r.upsertByKey(ctx, "job_disputes", []string{"job_id"}, []any{jobID}, cols, args)
}

// upsertByKey inserts the key plus the patched columns, updating only those
// columns when the row already exists.
func (r Repo) upsertByKey(ctx context.Context, table string, keyCols []string, keyVals []any, cols []string, args []any) error {
	if len(cols) == 0 {
		return nil
	}
	all := append(append([]string{}, keyCols...), cols...)
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(all)), ",")
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s=excluded.%s", c, c)
	}
	query := fmt.Sprintf(`INSERT INTO %s(%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s`,
		table, strings.Join(all, ","), placeholders, strings.Join(keyCols, ","), strings.Join(sets, ","))
	_, err := r.DB.ExecContext(ctx, query, append(append([]any{}, keyVals...), args...)...)
	return err
}

// --- job reads ---

const jobCols = `job_id,owner,agent_id,job_uri,job_hash,payment_token,budget_amount,deadline,
pass_threshold,dispute_window_seconds,status,posted_block,awarded_block,finalized_block,released_amount`

func scanJob(sc interface{ Scan(...any) error }) (domain.Job, error) {
	var j domain.Job
	var agentID, deadline, passThreshold, window, posted, awarded, finalized sql.NullInt64
	var uri, hash, token, budget, released sql.NullString
	if err := sc.Scan(&j.JobID, &j.Owner, &agentID, &uri, &hash, &token, &budget, &deadline,
		&passThreshold, &window, &j.Status, &posted, &awarded, &finalized, &released); err != nil {
		return j, err
	}
	if agentID.Valid {
		v := agentID.Int64
		j.AgentID = &v
	}
	j.JobURI = strPtr(uri)
	j.JobHash = strPtr(hash)
	j.PaymentToken = strPtr(token)
	j.BudgetAmount = strPtr(budget)
	if deadline.Valid {
		v := deadline.Int64
		j.Deadline = &v
	}
	if passThreshold.Valid {
		v := uint16(passThreshold.Int64)
		j.PassThreshold = &v
	}
	j.DisputeWindowSeconds = blockPtr(window)
	j.PostedBlock = blockPtr(posted)
	j.AwardedBlock = blockPtr(awarded)
	j.FinalizedBlock = blockPtr(finalized)
	j.ReleasedAmount = strPtr(released)
	return j, nil
}

func (r Repo) GetJob(ctx context.Context, jobID int64) (domain.Job, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+jobCols+` FROM jobs WHERE job_id=?`, jobID)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	return j, err
}

func (r Repo) ListJobs(ctx context.Context) ([]domain.Job, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+jobCols+` FROM jobs ORDER BY job_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

func (r Repo) ListJobMilestones(ctx context.Context, jobID int64) ([]domain.JobMilestone, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT job_id,milestone_index,milestone_uri,milestone_hash,weight_bps,paid
FROM job_milestones WHERE job_id=? ORDER BY milestone_index`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.JobMilestone
	for rows.Next() {
		var m domain.JobMilestone
		var uri, hash sql.NullString
		var weight sql.NullInt64
		var paid int
		if err := rows.Scan(&m.JobID, &m.MilestoneIndex, &uri, &hash, &weight, &paid); err != nil {
			return nil, err
		}
		m.MilestoneURI = strPtr(uri)
		m.MilestoneHash = strPtr(hash)
		if weight.Valid {
			v := uint16(weight.Int64)
			m.WeightBps = &v
		}
		m.Paid = paid != 0
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) ListJobValidations(ctx context.Context, jobID int64) ([]domain.JobValidation, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT job_id,milestone_index,validator,request_hash,request_uri,
request_block,response_score,response_hash,response_uri,tag,response_block
FROM job_validations WHERE job_id=? ORDER BY milestone_index`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.JobValidation
	for rows.Next() {
		var v domain.JobValidation
		var validator, reqHash, reqURI, respHash, respURI, tag sql.NullString
		var reqBlock, score, respBlock sql.NullInt64
		if err := rows.Scan(&v.JobID, &v.MilestoneIndex, &validator, &reqHash, &reqURI,
			&reqBlock, &score, &respHash, &respURI, &tag, &respBlock); err != nil {
			return nil, err
		}
		v.Validator = strPtr(validator)
		v.RequestHash = strPtr(reqHash)
		v.RequestURI = strPtr(reqURI)
		v.RequestBlock = blockPtr(reqBlock)
		if score.Valid {
			s := uint8(score.Int64)
			v.Score = &s
		}
		v.ResponseHash = strPtr(respHash)
		v.ResponseURI = strPtr(respURI)
		v.Tag = strPtr(tag)
		v.ResponseBlock = blockPtr(respBlock)
		res = append(res, v)
	}
	return res, rows.Err()
}

func (r Repo) ListJobProofs(ctx context.Context, jobID int64) ([]domain.JobProof, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT job_id,milestone_index,proof_uri,proof_hash,block_number
FROM job_proofs WHERE job_id=? ORDER BY milestone_index`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.JobProof
	for rows.Next() {
		var p domain.JobProof
		var block int64
		if err := rows.Scan(&p.JobID, &p.MilestoneIndex, &p.ProofURI, &p.ProofHash, &block); err != nil {
			return nil, err
		}
		p.BlockNumber = uint64(block)
		res = append(res, p)
	}
	return res, rows.Err()
}
