package sync_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"agentscan/internal/chain"
	"agentscan/internal/db"
	"agentscan/internal/migrate"
	"agentscan/internal/repo"
	"agentscan/internal/sync"
)

var (
	identityAddr   = common.HexToAddress("0x0000000000000000000000000000000000000a01")
	reputationAddr = common.HexToAddress("0x0000000000000000000000000000000000000a02")
	validationAddr = common.HexToAddress("0x0000000000000000000000000000000000000a03")
	jobBoardAddr   = common.HexToAddress("0x0000000000000000000000000000000000000a04")

	ownerAddr  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	walletAddr = common.HexToAddress("0x2222222222222222222222222222222222222222")
	authorAddr = common.HexToAddress("0x3333333333333333333333333333333333333333")
	valAddr    = common.HexToAddress("0x4444444444444444444444444444444444444444")
	tokenAddr  = common.HexToAddress("0x5555555555555555555555555555555555555555")
)

type fakeSource struct {
	head      uint64
	logs      []types.Log
	filterErr error
}

func (f *fakeSource) HeadBlock(ctx context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeSource) FilterLogs(ctx context.Context, addr common.Address, fromBlock, toBlock uint64) ([]types.Log, error) {
	if f.filterErr != nil {
		return nil, f.filterErr
	}
	var out []types.Log
	for _, lg := range f.logs {
		if lg.Address == addr && lg.BlockNumber >= fromBlock && lg.BlockNumber <= toBlock {
			out = append(out, lg)
		}
	}
	return out, nil
}

func (f *fakeSource) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return chain.IdentityABI.Methods["agentWallet"].Outputs.Pack(walletAddr)
}

func deployments() chain.Deployments {
	jb := jobBoardAddr
	return chain.Deployments{
		ChainID:    31337,
		Identity:   identityAddr,
		Reputation: reputationAddr,
		Validation: validationAddr,
		JobBoard:   &jb,
	}
}

func newTestEngine(t *testing.T, src *fakeSource) (*sync.Engine, repo.Repo, context.Context) {
	t.Helper()
	dir := t.TempDir()
	if _, err := db.EnsureWorkspace(dir); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	return sync.New(src, r, deployments(), nil), r, context.Background()
}

func mustPack(t *testing.T, contract, event string, args ...any) []byte {
	t.Helper()
	var ev interface {
		Pack(...any) ([]byte, error)
	}
	switch contract {
	case "identity":
		ev = chain.IdentityABI.Events[event].Inputs.NonIndexed()
	case "reputation":
		ev = chain.ReputationABI.Events[event].Inputs.NonIndexed()
	case "validation":
		ev = chain.ValidationABI.Events[event].Inputs.NonIndexed()
	default:
		ev = chain.JobBoardABI.Events[event].Inputs.NonIndexed()
	}
	data, err := ev.Pack(args...)
	if err != nil {
		t.Fatalf("pack %s.%s: %v", contract, event, err)
	}
	return data
}

func bigTopic(v int64) common.Hash           { return common.BigToHash(big.NewInt(v)) }
func addrTopic(a common.Address) common.Hash { return common.BytesToHash(a.Bytes()) }

func sampleLogs(t *testing.T) []types.Log {
	t.Helper()
	var jobHash [32]byte
	jobHash[31] = 1
	return []types.Log{
		{
			Address:     identityAddr,
			Topics:      []common.Hash{chain.IdentityABI.Events["Registered"].ID, bigTopic(1), addrTopic(ownerAddr)},
			Data:        mustPack(t, "identity", "Registered", "ipfs://agent-1"),
			BlockNumber: 10,
		},
		{
			Address: reputationAddr,
			Topics: []common.Hash{
				chain.ReputationABI.Events["NewFeedback"].ID,
				bigTopic(1), addrTopic(authorAddr), common.HexToHash("0xfb01"),
			},
			Data:        mustPack(t, "reputation", "NewFeedback", big.NewInt(85), uint8(0), "quality", "", "/chat", "ipfs://fb"),
			BlockNumber: 11,
		},
		{
			Address: validationAddr,
			Topics: []common.Hash{
				chain.ValidationABI.Events["RequestAppended"].ID,
				common.HexToHash("0xaa01"), bigTopic(1), addrTopic(valAddr),
			},
			Data:        mustPack(t, "validation", "RequestAppended", "ipfs://req"),
			BlockNumber: 12,
		},
		{
			Address: validationAddr,
			Topics: []common.Hash{
				chain.ValidationABI.Events["ResponseAppended"].ID,
				common.HexToHash("0xaa01"), common.HexToHash("0xbb01"),
			},
			Data:        mustPack(t, "validation", "ResponseAppended", big.NewInt(90), "ipfs://resp", "audit"),
			BlockNumber: 13,
		},
		{
			Address: jobBoardAddr,
			Topics: []common.Hash{
				chain.JobBoardABI.Events["JobPosted"].ID,
				bigTopic(1), addrTopic(ownerAddr), addrTopic(tokenAddr),
			},
			Data: mustPack(t, "job_board", "JobPosted",
				big.NewInt(1000), big.NewInt(1700000000), uint16(70), uint64(86400), "ipfs://job", jobHash, big.NewInt(1)),
			BlockNumber: 14,
		},
		{
			Address: jobBoardAddr,
			Topics: []common.Hash{
				chain.JobBoardABI.Events["JobAwarded"].ID,
				bigTopic(1), bigTopic(1),
			},
			BlockNumber: 15,
		},
	}
}

func TestApplyRangeEndToEnd(t *testing.T) {
	src := &fakeSource{head: 20, logs: sampleLogs(t)}
	e, r, ctx := newTestEngine(t, src)

	if err := e.ApplyRange(ctx, 0, 20); err != nil {
		t.Fatalf("apply range: %v", err)
	}

	agent, err := r.GetAgent(ctx, 1)
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if agent.Owner != ownerAddr.Hex() {
		t.Fatalf("unexpected owner: %+v", agent)
	}
	if agent.AgentWallet == nil || *agent.AgentWallet != walletAddr.Hex() {
		t.Fatalf("wallet not resolved: %+v", agent)
	}

	feedback, err := r.ListAgentFeedback(ctx, 1)
	if err != nil || len(feedback) != 1 {
		t.Fatalf("feedback: %d %v", len(feedback), err)
	}
	if feedback[0].NormalizedValue != 85 {
		t.Fatalf("normalized value: %+v", feedback[0])
	}

	validations, err := r.ListAgentValidations(ctx, 1)
	if err != nil || len(validations) != 1 {
		t.Fatalf("validations: %d %v", len(validations), err)
	}
	if validations[0].Score == nil || *validations[0].Score != 90 {
		t.Fatalf("response not joined: %+v", validations[0])
	}

	job, err := r.GetJob(ctx, 1)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != "awarded" || job.AgentID == nil || *job.AgentID != 1 {
		t.Fatalf("award not applied: %+v", job)
	}
	if job.BudgetAmount == nil || *job.BudgetAmount != "1000" {
		t.Fatalf("posted payload lost: %+v", job)
	}

	watermark, _ := r.LastSyncedBlock(ctx)
	if watermark != 20 {
		t.Fatalf("watermark = %d, want 20", watermark)
	}

	// a replay of the same range must not duplicate or clobber anything
	if err := e.ApplyRange(ctx, 0, 20); err != nil {
		t.Fatalf("replay: %v", err)
	}
	feedback, _ = r.ListAgentFeedback(ctx, 1)
	if len(feedback) != 1 {
		t.Fatalf("feedback duplicated on replay: %d", len(feedback))
	}
	job, _ = r.GetJob(ctx, 1)
	if job.Status != "awarded" {
		t.Fatalf("status lost on replay: %+v", job)
	}
}

func TestDisputeLifecycleThroughSync(t *testing.T) {
	var disputeHash [32]byte
	disputeHash[31] = 2
	logs := []types.Log{
		{
			Address: jobBoardAddr,
			Topics: []common.Hash{
				chain.JobBoardABI.Events["JobPosted"].ID,
				bigTopic(2), addrTopic(ownerAddr), addrTopic(tokenAddr),
			},
			Data: mustPack(t, "job_board", "JobPosted",
				big.NewInt(1000), big.NewInt(1700000000), uint16(70), uint64(86400), "ipfs://job-2", disputeHash, big.NewInt(1)),
			BlockNumber: 20,
		},
		{
			Address: jobBoardAddr,
			Topics:  []common.Hash{chain.JobBoardABI.Events["DisputeOpened"].ID, bigTopic(2)},
			Data: mustPack(t, "job_board", "DisputeOpened",
				uint16(4000), "ipfs://dispute-2", disputeHash),
			BlockNumber: 21,
		},
		{
			Address:     jobBoardAddr,
			Topics:      []common.Hash{chain.JobBoardABI.Events["DisputeAccepted"].ID, bigTopic(2)},
			Data:        mustPack(t, "job_board", "DisputeAccepted", big.NewInt(700), big.NewInt(300)),
			BlockNumber: 22,
		},
		{
			Address: jobBoardAddr,
			Topics:  []common.Hash{chain.JobBoardABI.Events["JobPosted"].ID, bigTopic(3), addrTopic(ownerAddr), addrTopic(tokenAddr)},
			Data: mustPack(t, "job_board", "JobPosted",
				big.NewInt(500), big.NewInt(1700000000), uint16(70), uint64(86400), "ipfs://job-3", disputeHash, big.NewInt(1)),
			BlockNumber: 23,
		},
		{
			Address: jobBoardAddr,
			Topics:  []common.Hash{chain.JobBoardABI.Events["DisputeOpened"].ID, bigTopic(3)},
			Data: mustPack(t, "job_board", "DisputeOpened",
				uint16(0), "ipfs://dispute-3", disputeHash),
			BlockNumber: 24,
		},
		{
			Address:     jobBoardAddr,
			Topics:      []common.Hash{chain.JobBoardABI.Events["RemainderReclaimed"].ID, bigTopic(3)},
			Data:        mustPack(t, "job_board", "RemainderReclaimed", big.NewInt(500)),
			BlockNumber: 25,
		},
	}
	src := &fakeSource{head: 30, logs: logs}
	e, r, ctx := newTestEngine(t, src)

	// Apply post + open first; the dispute must flip the job to disputed.
	if err := e.ApplyRange(ctx, 20, 21); err != nil {
		t.Fatalf("apply open: %v", err)
	}
	job, err := r.GetJob(ctx, 2)
	if err != nil || job.Status != "disputed" {
		t.Fatalf("dispute not applied: %+v %v", job, err)
	}

	if err := e.ApplyRange(ctx, 22, 30); err != nil {
		t.Fatalf("apply rest: %v", err)
	}

	// Accepted dispute finalizes the job with the negotiated payout.
	job, err = r.GetJob(ctx, 2)
	if err != nil {
		t.Fatalf("get job 2: %v", err)
	}
	if job.Status != "finalized" {
		t.Fatalf("accepted dispute should finalize: %+v", job)
	}
	if job.ReleasedAmount == nil || *job.ReleasedAmount != "700" {
		t.Fatalf("released amount = %v, want 700", job.ReleasedAmount)
	}
	var bps uint16
	var accepted int
	var remainder string
	row := r.DB.QueryRowContext(ctx, `SELECT proposed_payout_bps, accepted, remainder_amount FROM job_disputes WHERE job_id=2`)
	if err := row.Scan(&bps, &accepted, &remainder); err != nil {
		t.Fatalf("dispute row: %v", err)
	}
	if bps != 4000 || accepted != 1 || remainder != "300" {
		t.Fatalf("dispute row: bps=%d accepted=%d remainder=%s", bps, accepted, remainder)
	}

	// Reclaimed remainder zeroes the release.
	job, err = r.GetJob(ctx, 3)
	if err != nil {
		t.Fatalf("get job 3: %v", err)
	}
	if job.Status != "reclaimed" {
		t.Fatalf("reclaim not applied: %+v", job)
	}
	if job.ReleasedAmount == nil || *job.ReleasedAmount != "0" {
		t.Fatalf("released amount = %v, want 0", job.ReleasedAmount)
	}
}

func TestFetchFailureLeavesWatermark(t *testing.T) {
	src := &fakeSource{head: 20, filterErr: errors.New("rpc down")}
	e, r, ctx := newTestEngine(t, src)
	if err := e.ApplyRange(ctx, 0, 20); err == nil {
		t.Fatalf("expected fetch error")
	}
	watermark, _ := r.LastSyncedBlock(ctx)
	if watermark != 0 {
		t.Fatalf("watermark moved after failed range: %d", watermark)
	}
}

func TestResumeBlock(t *testing.T) {
	src := &fakeSource{}
	e, r, ctx := newTestEngine(t, src)
	if err := r.SetLastSyncedBlock(ctx, 100); err != nil {
		t.Fatal(err)
	}
	from, err := e.ResumeBlock(ctx, 50)
	if err != nil || from != 100 {
		t.Fatalf("resume behind watermark: %d %v", from, err)
	}
	from, err = e.ResumeBlock(ctx, 200)
	if err != nil || from != 200 {
		t.Fatalf("resume ahead of watermark: %d %v", from, err)
	}
}

func TestCatchUp(t *testing.T) {
	src := &fakeSource{head: 30, logs: sampleLogs(t)}
	e, r, ctx := newTestEngine(t, src)
	sched := &sync.Scheduler{Engine: e, FromBlock: 0}
	if err := sched.CatchUp(ctx); err != nil {
		t.Fatalf("catch up: %v", err)
	}
	watermark, _ := r.LastSyncedBlock(ctx)
	if watermark != 30 {
		t.Fatalf("watermark = %d, want 30", watermark)
	}
	if _, err := r.GetAgent(ctx, 1); err != nil {
		t.Fatalf("agent not indexed: %v", err)
	}
}

func TestCatchUpHeadBehindCursor(t *testing.T) {
	src := &fakeSource{head: 30}
	e, r, ctx := newTestEngine(t, src)
	sched := &sync.Scheduler{Engine: e, FromBlock: 50}
	if err := sched.CatchUp(ctx); err != nil {
		t.Fatalf("catch up: %v", err)
	}
	watermark, _ := r.LastSyncedBlock(ctx)
	if watermark != 0 {
		t.Fatalf("nothing should be applied: %d", watermark)
	}
}

func TestFollowStopsOnCancel(t *testing.T) {
	src := &fakeSource{head: 10, logs: sampleLogs(t)}
	e, r, _ := newTestEngine(t, src)
	ctx, cancel := context.WithCancel(context.Background())
	sched := &sync.Scheduler{Engine: e, FromBlock: 0, Interval: 10 * time.Millisecond}
	done := make(chan error, 1)
	go func() { done <- sched.Follow(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		watermark, _ := r.LastSyncedBlock(context.Background())
		if watermark == 10 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("follow never applied the range")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("follow: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("follow did not stop on cancel")
	}
}
