package chain

import "github.com/ethereum/go-ethereum/common"

// Event is the closed set of domain events the sync engine applies. Each log
// decodes into exactly one of the variants below (or none, for topics the
// indexer does not track), so the apply switch can be exhaustive.
type Event interface {
	isEvent()
}

// Identity registry.

type Registered struct {
	AgentID  int64
	Owner    common.Address
	AgentURI string
	// Wallet is resolved at decode time through the agentWallet view call.
	Wallet common.Address
	Block  uint64
}

type AgentURIUpdated struct {
	AgentID  int64
	AgentURI string
	Block    uint64
}

// Reputation registry.

type NewFeedback struct {
	AgentID       int64
	Author        common.Address
	Value         int64
	ValueDecimals uint8
	FeedbackHash  common.Hash
	Tag1          string
	Tag2          string
	Endpoint      string
	FeedbackURI   string
	Block         uint64
}

type FeedbackRevoked struct {
	FeedbackHash common.Hash
	Author       common.Address
	Block        uint64
}

// Validation registry.

type RequestAppended struct {
	RequestHash common.Hash
	AgentID     int64
	Validator   common.Address
	RequestURI  string
	Block       uint64
}

type ResponseAppended struct {
	RequestHash  common.Hash
	ResponseHash common.Hash
	Score        uint8
	ResponseURI  string
	Tag          string
	Block        uint64
}

// Job board escrow.

type JobPosted struct {
	JobID                int64
	Owner                common.Address
	PaymentToken         common.Address
	BudgetAmount         string
	Deadline             int64
	PassThreshold        uint16
	DisputeWindowSeconds uint64
	JobURI               string
	JobHash              common.Hash
	MilestoneCount       int64
	Block                uint64
}

type MilestoneAdded struct {
	JobID          int64
	MilestoneIndex int64
	MilestoneURI   string
	MilestoneHash  common.Hash
	WeightBps      uint16
	Block          uint64
}

type JobAwarded struct {
	JobID   int64
	AgentID int64
	Block   uint64
}

type ProofSubmitted struct {
	JobID          int64
	MilestoneIndex int64
	ProofURI       string
	ProofHash      common.Hash
	Block          uint64
}

type ValidationRequested struct {
	JobID          int64
	MilestoneIndex int64
	Validator      common.Address
	RequestHash    common.Hash
	RequestURI     string
	Block          uint64
}

type JobFinalized struct {
	JobID          int64
	MilestoneIndex int64
	PayoutAmount   string
	ReleasedAmount string
	RequestHash    common.Hash
	Block          uint64
}

type DisputeOpened struct {
	JobID             int64
	ProposedPayoutBps uint16
	DisputeURI        string
	DisputeHash       common.Hash
	Block             uint64
}

type DisputeAccepted struct {
	JobID           int64
	PayoutAmount    string
	RemainderAmount string
	Block           uint64
}

type RemainderReclaimed struct {
	JobID           int64
	RemainderAmount string
	Block           uint64
}

func (Registered) isEvent()          {}
func (AgentURIUpdated) isEvent()     {}
func (NewFeedback) isEvent()         {}
func (FeedbackRevoked) isEvent()     {}
func (RequestAppended) isEvent()     {}
func (ResponseAppended) isEvent()    {}
func (JobPosted) isEvent()           {}
func (MilestoneAdded) isEvent()      {}
func (JobAwarded) isEvent()          {}
func (ProofSubmitted) isEvent()      {}
func (ValidationRequested) isEvent() {}
func (JobFinalized) isEvent()        {}
func (DisputeOpened) isEvent()       {}
func (DisputeAccepted) isEvent()     {}
func (RemainderReclaimed) isEvent()  {}
