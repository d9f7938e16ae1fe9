package domain

type Agent struct {
	AgentID      int64   `json:"agent_id"`
	Owner        string  `json:"owner"`
	AgentURI     *string `json:"agent_uri,omitempty"`
	AgentWallet  *string `json:"agent_wallet,omitempty"`
	CreatedBlock *uint64 `json:"created_block,omitempty"`
	UpdatedBlock *uint64 `json:"updated_block,omitempty"`
}

type Feedback struct {
	FeedbackHash    string  `json:"feedback_hash"`
	AgentID         int64   `json:"agent_id"`
	Author          string  `json:"author"`
	Value           int64   `json:"value"`
	ValueDecimals   uint8   `json:"value_decimals"`
	NormalizedValue float64 `json:"normalized_value"`
	Tag1            string  `json:"tag1"`
	Tag2            string  `json:"tag2"`
	Endpoint        string  `json:"endpoint"`
	FeedbackURI     string  `json:"feedback_uri"`
	Revoked         bool    `json:"revoked"`
	BlockNumber     uint64  `json:"block_number"`
}

type ValidationRequest struct {
	RequestHash string `json:"request_hash"`
	AgentID     int64  `json:"agent_id"`
	Validator   string `json:"validator"`
	RequestURI  string `json:"request_uri"`
	BlockNumber uint64 `json:"block_number"`
}

type ValidationResponse struct {
	ResponseHash string `json:"response_hash"`
	RequestHash  string `json:"request_hash"`
	Score        uint8  `json:"response_score"`
	ResponseURI  string `json:"response_uri"`
	Tag          string `json:"tag"`
	BlockNumber  uint64 `json:"block_number"`
}

// Validation is a request joined with its response, if one has landed.
type Validation struct {
	RequestHash   string  `json:"request_hash"`
	AgentID       int64   `json:"agent_id"`
	Validator     string  `json:"validator"`
	RequestURI    string  `json:"request_uri"`
	RequestBlock  uint64  `json:"request_block"`
	ResponseHash  *string `json:"response_hash,omitempty"`
	Score         *uint8  `json:"response_score,omitempty"`
	ResponseURI   *string `json:"response_uri,omitempty"`
	Tag           *string `json:"tag,omitempty"`
	ResponseBlock *uint64 `json:"response_block,omitempty"`
}

type ReviewerTrust struct {
	Reviewer       string  `json:"reviewer"`
	Allowlisted    bool    `json:"allowlisted"`
	StakeWeight    float64 `json:"stake_weight"`
	IdentityWeight float64 `json:"identity_weight"`
	UpdatedBlock   *uint64 `json:"updated_block,omitempty"`
}

// Job status values follow the escrow lifecycle.
const (
	JobStatusOpen      = "open"
	JobStatusAwarded   = "awarded"
	JobStatusFinalized = "finalized"
	JobStatusDisputed  = "disputed"
	JobStatusReclaimed = "reclaimed"
)

type Job struct {
	JobID                int64   `json:"job_id"`
	Owner                string  `json:"owner"`
	AgentID              *int64  `json:"agent_id,omitempty"`
	JobURI               *string `json:"job_uri,omitempty"`
	JobHash              *string `json:"job_hash,omitempty"`
	PaymentToken         *string `json:"payment_token,omitempty"`
	BudgetAmount         *string `json:"budget_amount,omitempty"`
	Deadline             *int64  `json:"deadline,omitempty"`
	PassThreshold        *uint16 `json:"pass_threshold,omitempty"`
	DisputeWindowSeconds *uint64 `json:"dispute_window_seconds,omitempty"`
	Status               string  `json:"status" enum:"open,awarded,finalized,disputed,reclaimed"`
	PostedBlock          *uint64 `json:"posted_block,omitempty"`
	AwardedBlock         *uint64 `json:"awarded_block,omitempty"`
	FinalizedBlock       *uint64 `json:"finalized_block,omitempty"`
	ReleasedAmount       *string `json:"released_amount,omitempty"`
}

type JobMilestone struct {
	JobID          int64   `json:"job_id"`
	MilestoneIndex int64   `json:"milestone_index"`
	MilestoneURI   *string `json:"milestone_uri,omitempty"`
	MilestoneHash  *string `json:"milestone_hash,omitempty"`
	WeightBps      *uint16 `json:"weight_bps,omitempty"`
	Paid           bool    `json:"paid"`
}

type JobProof struct {
	JobID          int64  `json:"job_id"`
	MilestoneIndex int64  `json:"milestone_index"`
	ProofURI       string `json:"proof_uri"`
	ProofHash      string `json:"proof_hash"`
	BlockNumber    uint64 `json:"block_number"`
}

type JobValidation struct {
	JobID          int64   `json:"job_id"`
	MilestoneIndex int64   `json:"milestone_index"`
	Validator      *string `json:"validator,omitempty"`
	RequestHash    *string `json:"request_hash,omitempty"`
	RequestURI     *string `json:"request_uri,omitempty"`
	RequestBlock   *uint64 `json:"request_block,omitempty"`
	Score          *uint8  `json:"response_score,omitempty"`
	ResponseHash   *string `json:"response_hash,omitempty"`
	ResponseURI    *string `json:"response_uri,omitempty"`
	Tag            *string `json:"tag,omitempty"`
	ResponseBlock  *uint64 `json:"response_block,omitempty"`
}

type JobDispute struct {
	JobID             int64   `json:"job_id"`
	ProposedPayoutBps *uint16 `json:"proposed_payout_bps,omitempty"`
	DisputeURI        *string `json:"dispute_uri,omitempty"`
	DisputeHash       *string `json:"dispute_hash,omitempty"`
	Accepted          bool    `json:"accepted"`
	OpenedBlock       *uint64 `json:"opened_block,omitempty"`
	AcceptedBlock     *uint64 `json:"accepted_block,omitempty"`
	ReclaimedBlock    *uint64 `json:"reclaimed_block,omitempty"`
	RemainderAmount   *string `json:"remainder_amount,omitempty"`
}

// Score is the per-agent breakdown; recomputed on every query, never stored.
type Score struct {
	AgentID         int64   `json:"agent_id"`
	FeedbackScore   float64 `json:"feedback_score"`
	ValidationScore float64 `json:"validation_score"`
	ReputationScore float64 `json:"reputation_score"`
}

type Stats struct {
	AgentCount              int64 `json:"agent_count"`
	FeedbackCount           int64 `json:"feedback_count"`
	ValidationRequestCount  int64 `json:"validation_request_count"`
	ValidationResponseCount int64 `json:"validation_response_count"`
	ReviewerCount           int64 `json:"reviewer_count"`
	JobCount                int64 `json:"job_count"`
}
