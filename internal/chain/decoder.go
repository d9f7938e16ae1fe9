package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Decoder turns raw contract logs into typed events. Logs whose first topic
// does not match a tracked event signature decode to (nil, false, nil):
// other event types on the same contracts are expected, not an error.
type Decoder struct {
	Source   Source
	Identity common.Address
}

func (d Decoder) DecodeIdentity(ctx context.Context, lg types.Log) (Event, bool, error) {
	if len(lg.Topics) == 0 {
		return nil, false, nil
	}
	switch lg.Topics[0] {
	case IdentityABI.Events["Registered"].ID:
		if len(lg.Topics) < 3 {
			return nil, false, fmt.Errorf("Registered log %s: want 3 topics, got %d", lg.TxHash, len(lg.Topics))
		}
		vals, err := IdentityABI.Unpack("Registered", lg.Data)
		if err != nil {
			return nil, false, fmt.Errorf("unpack Registered: %w", err)
		}
		agentID := topicBig(lg, 1)
		wallet, err := d.resolveWallet(ctx, agentID)
		if err != nil {
			return nil, false, err
		}
		return Registered{
			AgentID:  agentID.Int64(),
			Owner:    topicAddr(lg, 2),
			AgentURI: vals[0].(string),
			Wallet:   wallet,
			Block:    lg.BlockNumber,
		}, true, nil
	case IdentityABI.Events["AgentURIUpdated"].ID:
		if len(lg.Topics) < 2 {
			return nil, false, fmt.Errorf("AgentURIUpdated log %s: want 2 topics, got %d", lg.TxHash, len(lg.Topics))
		}
		vals, err := IdentityABI.Unpack("AgentURIUpdated", lg.Data)
		if err != nil {
			return nil, false, fmt.Errorf("unpack AgentURIUpdated: %w", err)
		}
		return AgentURIUpdated{
			AgentID:  topicBig(lg, 1).Int64(),
			AgentURI: vals[0].(string),
			Block:    lg.BlockNumber,
		}, true, nil
	}
	return nil, false, nil
}

// resolveWallet reads the agent's on-chain wallet at registration time via
// the identity registry's agentWallet view.
func (d Decoder) resolveWallet(ctx context.Context, agentID *big.Int) (common.Address, error) {
	data, err := IdentityABI.Pack("agentWallet", agentID)
	if err != nil {
		return common.Address{}, fmt.Errorf("pack agentWallet: %w", err)
	}
	out, err := d.Source.CallContract(ctx, d.Identity, data)
	if err != nil {
		return common.Address{}, fmt.Errorf("call agentWallet(%s): %w", agentID, err)
	}
	vals, err := IdentityABI.Unpack("agentWallet", out)
	if err != nil {
		return common.Address{}, fmt.Errorf("unpack agentWallet: %w", err)
	}
	return vals[0].(common.Address), nil
}

func (d Decoder) DecodeReputation(lg types.Log) (Event, bool, error) {
	if len(lg.Topics) == 0 {
		return nil, false, nil
	}
	switch lg.Topics[0] {
	case ReputationABI.Events["NewFeedback"].ID:
		if len(lg.Topics) < 4 {
			return nil, false, fmt.Errorf("NewFeedback log %s: want 4 topics, got %d", lg.TxHash, len(lg.Topics))
		}
		vals, err := ReputationABI.Unpack("NewFeedback", lg.Data)
		if err != nil {
			return nil, false, fmt.Errorf("unpack NewFeedback: %w", err)
		}
		return NewFeedback{
			AgentID:       topicBig(lg, 1).Int64(),
			Author:        topicAddr(lg, 2),
			Value:         vals[0].(*big.Int).Int64(),
			ValueDecimals: vals[1].(uint8),
			FeedbackHash:  lg.Topics[3],
			Tag1:          vals[2].(string),
			Tag2:          vals[3].(string),
			Endpoint:      vals[4].(string),
			FeedbackURI:   vals[5].(string),
			Block:         lg.BlockNumber,
		}, true, nil
	case ReputationABI.Events["FeedbackRevoked"].ID:
		if len(lg.Topics) < 3 {
			return nil, false, fmt.Errorf("FeedbackRevoked log %s: want 3 topics, got %d", lg.TxHash, len(lg.Topics))
		}
		return FeedbackRevoked{
			FeedbackHash: lg.Topics[1],
			Author:       topicAddr(lg, 2),
			Block:        lg.BlockNumber,
		}, true, nil
	}
	return nil, false, nil
}

func (d Decoder) DecodeValidation(lg types.Log) (Event, bool, error) {
	if len(lg.Topics) == 0 {
		return nil, false, nil
	}
	switch lg.Topics[0] {
	case ValidationABI.Events["RequestAppended"].ID:
		if len(lg.Topics) < 4 {
			return nil, false, fmt.Errorf("RequestAppended log %s: want 4 topics, got %d", lg.TxHash, len(lg.Topics))
		}
		vals, err := ValidationABI.Unpack("RequestAppended", lg.Data)
		if err != nil {
			return nil, false, fmt.Errorf("unpack RequestAppended: %w", err)
		}
		return RequestAppended{
			RequestHash: lg.Topics[1],
			AgentID:     topicBig(lg, 2).Int64(),
			Validator:   topicAddr(lg, 3),
			RequestURI:  vals[0].(string),
			Block:       lg.BlockNumber,
		}, true, nil
	case ValidationABI.Events["ResponseAppended"].ID:
		if len(lg.Topics) < 3 {
			return nil, false, fmt.Errorf("ResponseAppended log %s: want 3 topics, got %d", lg.TxHash, len(lg.Topics))
		}
		vals, err := ValidationABI.Unpack("ResponseAppended", lg.Data)
		if err != nil {
			return nil, false, fmt.Errorf("unpack ResponseAppended: %w", err)
		}
		return ResponseAppended{
			RequestHash:  lg.Topics[1],
			ResponseHash: lg.Topics[2],
			Score:        uint8(vals[0].(*big.Int).Uint64()),
			ResponseURI:  vals[1].(string),
			Tag:          vals[2].(string),
			Block:        lg.BlockNumber,
		}, true, nil
	}
	return nil, false, nil
}

func (d Decoder) DecodeJobBoard(lg types.Log) (Event, bool, error) {
	if len(lg.Topics) == 0 {
		return nil, false, nil
	}
	switch lg.Topics[0] {
	case JobBoardABI.Events["JobPosted"].ID:
		if len(lg.Topics) < 4 {
			return nil, false, fmt.Errorf("JobPosted log %s: want 4 topics, got %d", lg.TxHash, len(lg.Topics))
		}
		vals, err := JobBoardABI.Unpack("JobPosted", lg.Data)
		if err != nil {
			return nil, false, fmt.Errorf("unpack JobPosted: %w", err)
		}
		return JobPosted{
			JobID:                topicBig(lg, 1).Int64(),
			Owner:                topicAddr(lg, 2),
			PaymentToken:         topicAddr(lg, 3),
			BudgetAmount:         vals[0].(*big.Int).String(),
			Deadline:             vals[1].(*big.Int).Int64(),
			PassThreshold:        vals[2].(uint16),
			DisputeWindowSeconds: vals[3].(uint64),
			JobURI:               vals[4].(string),
			JobHash:              common.Hash(vals[5].([32]byte)),
			MilestoneCount:       vals[6].(*big.Int).Int64(),
			Block:                lg.BlockNumber,
		}, true, nil
	case JobBoardABI.Events["MilestoneAdded"].ID:
		if len(lg.Topics) < 3 {
			return nil, false, fmt.Errorf("MilestoneAdded log %s: want 3 topics, got %d", lg.TxHash, len(lg.Topics))
		}
		vals, err := JobBoardABI.Unpack("MilestoneAdded", lg.Data)
		if err != nil {
			return nil, false, fmt.Errorf("unpack MilestoneAdded: %w", err)
		}
		return MilestoneAdded{
			JobID:          topicBig(lg, 1).Int64(),
			MilestoneIndex: topicBig(lg, 2).Int64(),
			MilestoneURI:   vals[0].(string),
			MilestoneHash:  common.Hash(vals[1].([32]byte)),
			WeightBps:      vals[2].(uint16),
			Block:          lg.BlockNumber,
		}, true, nil
	case JobBoardABI.Events["JobAwarded"].ID:
		if len(lg.Topics) < 3 {
			return nil, false, fmt.Errorf("JobAwarded log %s: want 3 topics, got %d", lg.TxHash, len(lg.Topics))
		}
		return JobAwarded{
			JobID:   topicBig(lg, 1).Int64(),
			AgentID: topicBig(lg, 2).Int64(),
			Block:   lg.BlockNumber,
		}, true, nil
	case JobBoardABI.Events["ProofSubmitted"].ID:
		if len(lg.Topics) < 3 {
			return nil, false, fmt.Errorf("ProofSubmitted log %s: want 3 topics, got %d", lg.TxHash, len(lg.Topics))
		}
		vals, err := JobBoardABI.Unpack("ProofSubmitted", lg.Data)
		if err != nil {
			return nil, false, fmt.Errorf("unpack ProofSubmitted: %w", err)
		}
		return ProofSubmitted{
			JobID:          topicBig(lg, 1).Int64(),
			MilestoneIndex: topicBig(lg, 2).Int64(),
			ProofURI:       vals[0].(string),
			ProofHash:      common.Hash(vals[1].([32]byte)),
			Block:          lg.BlockNumber,
		}, true, nil
	case JobBoardABI.Events["ValidationRequested"].ID:
		if len(lg.Topics) < 4 {
			return nil, false, fmt.Errorf("ValidationRequested log %s: want 4 topics, got %d", lg.TxHash, len(lg.Topics))
		}
		vals, err := JobBoardABI.Unpack("ValidationRequested", lg.Data)
		if err != nil {
			return nil, false, fmt.Errorf("unpack ValidationRequested: %w", err)
		}
		return ValidationRequested{
			JobID:          topicBig(lg, 1).Int64(),
			MilestoneIndex: topicBig(lg, 2).Int64(),
			Validator:      topicAddr(lg, 3),
			RequestHash:    common.Hash(vals[0].([32]byte)),
			RequestURI:     vals[1].(string),
			Block:          lg.BlockNumber,
		}, true, nil
	case JobBoardABI.Events["JobFinalized"].ID:
		if len(lg.Topics) < 3 {
			return nil, false, fmt.Errorf("JobFinalized log %s: want 3 topics, got %d", lg.TxHash, len(lg.Topics))
		}
		vals, err := JobBoardABI.Unpack("JobFinalized", lg.Data)
		if err != nil {
			return nil, false, fmt.Errorf("unpack JobFinalized: %w", err)
		}
		return JobFinalized{
			JobID:          topicBig(lg, 1).Int64(),
			MilestoneIndex: topicBig(lg, 2).Int64(),
			PayoutAmount:   vals[0].(*big.Int).String(),
			ReleasedAmount: vals[1].(*big.Int).String(),
			RequestHash:    common.Hash(vals[2].([32]byte)),
			Block:          lg.BlockNumber,
		}, true, nil
	case JobBoardABI.Events["DisputeOpened"].ID:
		if len(lg.Topics) < 2 {
			return nil, false, fmt.Errorf("DisputeOpened log %s: want 2 topics, got %d", lg.TxHash, len(lg.Topics))
		}
		vals, err := JobBoardABI.Unpack("DisputeOpened", lg.Data)
		if err != nil {
			return nil, false, fmt.Errorf("unpack DisputeOpened: %w", err)
		}
		return DisputeOpened{
			JobID:             topicBig(lg, 1).Int64(),
			ProposedPayoutBps: vals[0].(uint16),
			DisputeURI:        vals[1].(string),
			DisputeHash:       common.Hash(vals[2].([32]byte)),
			Block:             lg.BlockNumber,
		}, true, nil
	case JobBoardABI.Events["DisputeAccepted"].ID:
		if len(lg.Topics) < 2 {
			return nil, false, fmt.Errorf("DisputeAccepted log %s: want 2 topics, got %d", lg.TxHash, len(lg.Topics))
		}
		vals, err := JobBoardABI.Unpack("DisputeAccepted", lg.Data)
		if err != nil {
			return nil, false, fmt.Errorf("unpack DisputeAccepted: %w", err)
		}
		return DisputeAccepted{
			JobID:           topicBig(lg, 1).Int64(),
			PayoutAmount:    vals[0].(*big.Int).String(),
			RemainderAmount: vals[1].(*big.Int).String(),
			Block:           lg.BlockNumber,
		}, true, nil
	case JobBoardABI.Events["RemainderReclaimed"].ID:
		if len(lg.Topics) < 2 {
			return nil, false, fmt.Errorf("RemainderReclaimed log %s: want 2 topics, got %d", lg.TxHash, len(lg.Topics))
		}
		vals, err := JobBoardABI.Unpack("RemainderReclaimed", lg.Data)
		if err != nil {
			return nil, false, fmt.Errorf("unpack RemainderReclaimed: %w", err)
		}
		return RemainderReclaimed{
			JobID:           topicBig(lg, 1).Int64(),
			RemainderAmount: vals[0].(*big.Int).String(),
			Block:           lg.BlockNumber,
		}, true, nil
	}
	return nil, false, nil
}

func topicBig(lg types.Log, i int) *big.Int {
	return new(big.Int).SetBytes(lg.Topics[i].Bytes())
}

func topicAddr(lg types.Log, i int) common.Address {
	return common.BytesToAddress(lg.Topics[i].Bytes())
}
