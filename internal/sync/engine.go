// Package sync pulls contract logs over bounded block ranges and applies
// them to the store. One engine, one writer: mutations are idempotent so a
// retried range is safe, and the watermark only moves after every contract
// group in the range has been applied.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"agentscan/internal/chain"
	"agentscan/internal/domain"
	"agentscan/internal/repo"
)

type Engine struct {
	Source      chain.Source
	Repo        repo.Repo
	Deployments chain.Deployments
	Log         *slog.Logger
}

func New(source chain.Source, r repo.Repo, deployments chain.Deployments, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{Source: source, Repo: r, Deployments: deployments, Log: log}
}

func (e *Engine) decoder() chain.Decoder {
	return chain.Decoder{Source: e.Source, Identity: e.Deployments.Identity}
}

// ResumeBlock picks the block to sync from: the configured start, or the
// stored watermark if it is further along.
func (e *Engine) ResumeBlock(ctx context.Context, configured uint64) (uint64, error) {
	watermark, err := e.Repo.LastSyncedBlock(ctx)
	if err != nil {
		return 0, err
	}
	if watermark > configured {
		return watermark, nil
	}
	return configured, nil
}

// ApplyRange fetches, decodes, and applies all logs in [fromBlock, toBlock]
// for every configured contract, then advances the watermark to toBlock. Any
// fetch or decode failure aborts the whole range with the watermark
// untouched; the next cycle retries the same range.
func (e *Engine) ApplyRange(ctx context.Context, fromBlock, toBlock uint64) error {
	if err := e.applyRange(ctx, fromBlock, toBlock); err != nil {
		cycleFailures.Inc()
		return err
	}
	cyclesTotal.Inc()
	return nil
}

func (e *Engine) applyRange(ctx context.Context, fromBlock, toBlock uint64) error {
	dec := e.decoder()

	if err := e.applyContract(ctx, "identity", e.Deployments.Identity, fromBlock, toBlock,
		func(ctx context.Context, lg types.Log) (chain.Event, bool, error) {
			return dec.DecodeIdentity(ctx, lg)
		}); err != nil {
		return err
	}
	if err := e.applyContract(ctx, "reputation", e.Deployments.Reputation, fromBlock, toBlock,
		func(_ context.Context, lg types.Log) (chain.Event, bool, error) {
			return dec.DecodeReputation(lg)
		}); err != nil {
		return err
	}
	if err := e.applyContract(ctx, "validation", e.Deployments.Validation, fromBlock, toBlock,
		func(_ context.Context, lg types.Log) (chain.Event, bool, error) {
			return dec.DecodeValidation(lg)
		}); err != nil {
		return err
	}
	if e.Deployments.JobBoard != nil {
		if err := e.applyContract(ctx, "job_board", *e.Deployments.JobBoard, fromBlock, toBlock,
			func(_ context.Context, lg types.Log) (chain.Event, bool, error) {
				return dec.DecodeJobBoard(lg)
			}); err != nil {
			return err
		}
	}

	if err := e.Repo.SetLastSyncedBlock(ctx, toBlock); err != nil {
		return fmt.Errorf("set watermark %d: %w", toBlock, err)
	}
	e.Log.Debug("range applied", "from", fromBlock, "to", toBlock)
	return nil
}

func (e *Engine) applyContract(ctx context.Context, name string, addr common.Address, fromBlock, toBlock uint64,
	decode func(context.Context, types.Log) (chain.Event, bool, error)) error {
	logs, err := e.Source.FilterLogs(ctx, addr, fromBlock, toBlock)
	if err != nil {
		return fmt.Errorf("%s: fetch logs [%d,%d]: %w", name, fromBlock, toBlock, err)
	}
	for _, lg := range logs {
		ev, ok, err := decode(ctx, lg)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if !ok {
			continue
		}
		if err := e.apply(ctx, ev); err != nil {
			return fmt.Errorf("%s: apply block %d: %w", name, lg.BlockNumber, err)
		}
		eventsApplied.WithLabelValues(name).Inc()
	}
	return nil
}

// apply maps one decoded event to its store mutation. The switch is
// exhaustive over the closed event set.
func (e *Engine) apply(ctx context.Context, ev chain.Event) error {
	switch ev := ev.(type) {
	case chain.Registered:
		return e.Repo.UpsertAgent(ctx, domain.Agent{
			AgentID:      ev.AgentID,
			Owner:        ev.Owner.Hex(),
			AgentURI:     ptr(ev.AgentURI),
			AgentWallet:  ptr(ev.Wallet.Hex()),
			CreatedBlock: ptr(ev.Block),
			UpdatedBlock: ptr(ev.Block),
		})
	case chain.AgentURIUpdated:
		return e.Repo.UpdateAgentURI(ctx, ev.AgentID, ev.AgentURI, ev.Block)
	case chain.NewFeedback:
		return e.Repo.InsertFeedback(ctx, domain.Feedback{
			FeedbackHash:    ev.FeedbackHash.Hex(),
			AgentID:         ev.AgentID,
			Author:          ev.Author.Hex(),
			Value:           ev.Value,
			ValueDecimals:   ev.ValueDecimals,
			NormalizedValue: float64(ev.Value) / math.Pow(10, float64(ev.ValueDecimals)),
			Tag1:            ev.Tag1,
			Tag2:            ev.Tag2,
			Endpoint:        ev.Endpoint,
			FeedbackURI:     ev.FeedbackURI,
			BlockNumber:     ev.Block,
		})
	case chain.FeedbackRevoked:
		return e.Repo.RevokeFeedback(ctx, ev.FeedbackHash.Hex(), ev.Block)
	case chain.RequestAppended:
		return e.Repo.InsertValidationRequest(ctx, domain.ValidationRequest{
			RequestHash: ev.RequestHash.Hex(),
			AgentID:     ev.AgentID,
			Validator:   ev.Validator.Hex(),
			RequestURI:  ev.RequestURI,
			BlockNumber: ev.Block,
		})
	case chain.ResponseAppended:
		return e.Repo.InsertValidationResponse(ctx, domain.ValidationResponse{
			ResponseHash: ev.ResponseHash.Hex(),
			RequestHash:  ev.RequestHash.Hex(),
			Score:        ev.Score,
			ResponseURI:  ev.ResponseURI,
			Tag:          ev.Tag,
			BlockNumber:  ev.Block,
		})
	case chain.JobPosted:
		return e.Repo.InsertJob(ctx, domain.Job{
			JobID:                ev.JobID,
			Owner:                ev.Owner.Hex(),
			JobURI:               ptr(ev.JobURI),
			JobHash:              ptr(ev.JobHash.Hex()),
			PaymentToken:         ptr(ev.PaymentToken.Hex()),
			BudgetAmount:         ptr(ev.BudgetAmount),
			Deadline:             ptr(ev.Deadline),
			PassThreshold:        ptr(ev.PassThreshold),
			DisputeWindowSeconds: ptr(ev.DisputeWindowSeconds),
			Status:               domain.JobStatusOpen,
			PostedBlock:          ptr(ev.Block),
		})
	case chain.MilestoneAdded:
		return e.Repo.UpsertMilestone(ctx, domain.JobMilestone{
			JobID:          ev.JobID,
			MilestoneIndex: ev.MilestoneIndex,
			MilestoneURI:   ptr(ev.MilestoneURI),
			MilestoneHash:  ptr(ev.MilestoneHash.Hex()),
			WeightBps:      ptr(ev.WeightBps),
		})
	case chain.JobAwarded:
		return e.Repo.PatchJob(ctx, ev.JobID, repo.JobPatch{
			AgentID:      ptr(ev.AgentID),
			Status:       ptr(domain.JobStatusAwarded),
			AwardedBlock: ptr(ev.Block),
		})
	case chain.ProofSubmitted:
		return e.Repo.UpsertProof(ctx, domain.JobProof{
			JobID:          ev.JobID,
			MilestoneIndex: ev.MilestoneIndex,
			ProofURI:       ev.ProofURI,
			ProofHash:      ev.ProofHash.Hex(),
			BlockNumber:    ev.Block,
		})
	case chain.ValidationRequested:
		return e.Repo.UpsertJobValidation(ctx, ev.JobID, ev.MilestoneIndex, repo.JobValidationPatch{
			Validator:    ptr(ev.Validator.Hex()),
			RequestHash:  ptr(ev.RequestHash.Hex()),
			RequestURI:   ptr(ev.RequestURI),
			RequestBlock: ptr(ev.Block),
		})
	case chain.JobFinalized:
		if err := e.Repo.PatchJob(ctx, ev.JobID, repo.JobPatch{
			Status:         ptr(domain.JobStatusFinalized),
			FinalizedBlock: ptr(ev.Block),
			ReleasedAmount: ptr(ev.ReleasedAmount),
		}); err != nil {
			return err
		}
		if err := e.Repo.UpsertJobValidation(ctx, ev.JobID, ev.MilestoneIndex, repo.JobValidationPatch{
			ResponseBlock: ptr(ev.Block),
		}); err != nil {
			return err
		}
		return e.Repo.MarkMilestonePaid(ctx, ev.JobID, ev.MilestoneIndex)
	case chain.DisputeOpened:
		if err := e.Repo.UpsertJobDispute(ctx, ev.JobID, repo.JobDisputePatch{
			ProposedPayoutBps: ptr(ev.ProposedPayoutBps),
			DisputeURI:        ptr(ev.DisputeURI),
			DisputeHash:       ptr(ev.DisputeHash.Hex()),
			OpenedBlock:       ptr(ev.Block),
		}); err != nil {
			return err
		}
		return e.Repo.PatchJob(ctx, ev.JobID, repo.JobPatch{Status: ptr(domain.JobStatusDisputed)})
	case chain.DisputeAccepted:
		if err := e.Repo.UpsertJobDispute(ctx, ev.JobID, repo.JobDisputePatch{
			Accepted:        ptr(true),
			AcceptedBlock:   ptr(ev.Block),
			RemainderAmount: ptr(ev.RemainderAmount),
		}); err != nil {
			return err
		}
		return e.Repo.PatchJob(ctx, ev.JobID, repo.JobPatch{
			Status:         ptr(domain.JobStatusFinalized),
			ReleasedAmount: ptr(ev.PayoutAmount),
		})
	case chain.RemainderReclaimed:
		if err := e.Repo.UpsertJobDispute(ctx, ev.JobID, repo.JobDisputePatch{
			ReclaimedBlock:  ptr(ev.Block),
			RemainderAmount: ptr(ev.RemainderAmount),
		}); err != nil {
			return err
		}
		return e.Repo.PatchJob(ctx, ev.JobID, repo.JobPatch{
			Status:         ptr(domain.JobStatusReclaimed),
			ReleasedAmount: ptr("0"),
		})
	default:
		return fmt.Errorf("unhandled event %T", ev)
	}
}

func ptr[T any](v T) *T {
	return &v
}
