package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Event schemas for the four registry contracts. Only the events the indexer
// consumes are declared; anything else emitted on the same contracts is
// skipped at decode time.

const identityABIJSON = `[
  {"type":"event","name":"Registered","inputs":[
    {"name":"agentId","type":"uint256","indexed":true},
    {"name":"owner","type":"address","indexed":true},
    {"name":"agentURI","type":"string","indexed":false}]},
  {"type":"event","name":"AgentURIUpdated","inputs":[
    {"name":"agentId","type":"uint256","indexed":true},
    {"name":"agentURI","type":"string","indexed":false}]},
  {"type":"function","name":"agentWallet","stateMutability":"view",
    "inputs":[{"name":"agentId","type":"uint256"}],
    "outputs":[{"name":"","type":"address"}]}
]`

const reputationABIJSON = `[
  {"type":"event","name":"NewFeedback","inputs":[
    {"name":"agentId","type":"uint256","indexed":true},
    {"name":"author","type":"address","indexed":true},
    {"name":"value","type":"int256","indexed":false},
    {"name":"valueDecimals","type":"uint8","indexed":false},
    {"name":"feedbackHash","type":"bytes32","indexed":true},
    {"name":"tag1","type":"string","indexed":false},
    {"name":"tag2","type":"string","indexed":false},
    {"name":"endpoint","type":"string","indexed":false},
    {"name":"feedbackURI","type":"string","indexed":false}]},
  {"type":"event","name":"FeedbackRevoked","inputs":[
    {"name":"feedbackHash","type":"bytes32","indexed":true},
    {"name":"author","type":"address","indexed":true}]}
]`

const validationABIJSON = `[
  {"type":"event","name":"RequestAppended","inputs":[
    {"name":"requestHash","type":"bytes32","indexed":true},
    {"name":"agentId","type":"uint256","indexed":true},
    {"name":"validator","type":"address","indexed":true},
    {"name":"requestURI","type":"string","indexed":false}]},
  {"type":"event","name":"ResponseAppended","inputs":[
    {"name":"requestHash","type":"bytes32","indexed":true},
    {"name":"responseHash","type":"bytes32","indexed":true},
    {"name":"response0to100","type":"uint256","indexed":false},
    {"name":"responseURI","type":"string","indexed":false},
    {"name":"tag","type":"string","indexed":false}]}
]`

const jobBoardABIJSON = `[
  {"type":"event","name":"JobPosted","inputs":[
    {"name":"jobId","type":"uint256","indexed":true},
    {"name":"owner","type":"address","indexed":true},
    {"name":"paymentToken","type":"address","indexed":true},
    {"name":"budgetAmount","type":"uint256","indexed":false},
    {"name":"deadline","type":"uint256","indexed":false},
    {"name":"passThreshold","type":"uint16","indexed":false},
    {"name":"disputeWindowSeconds","type":"uint64","indexed":false},
    {"name":"jobURI","type":"string","indexed":false},
    {"name":"jobHash","type":"bytes32","indexed":false},
    {"name":"milestoneCount","type":"uint256","indexed":false}]},
  {"type":"event","name":"MilestoneAdded","inputs":[
    {"name":"jobId","type":"uint256","indexed":true},
    {"name":"milestoneIndex","type":"uint256","indexed":true},
    {"name":"milestoneURI","type":"string","indexed":false},
    {"name":"milestoneHash","type":"bytes32","indexed":false},
    {"name":"weightBps","type":"uint16","indexed":false}]},
  {"type":"event","name":"JobAwarded","inputs":[
    {"name":"jobId","type":"uint256","indexed":true},
    {"name":"agentId","type":"uint256","indexed":true}]},
  {"type":"event","name":"ProofSubmitted","inputs":[
    {"name":"jobId","type":"uint256","indexed":true},
    {"name":"milestoneIndex","type":"uint256","indexed":true},
    {"name":"proofURI","type":"string","indexed":false},
    {"name":"proofHash","type":"bytes32","indexed":false}]},
  {"type":"event","name":"ValidationRequested","inputs":[
    {"name":"jobId","type":"uint256","indexed":true},
    {"name":"milestoneIndex","type":"uint256","indexed":true},
    {"name":"validator","type":"address","indexed":true},
    {"name":"requestHash","type":"bytes32","indexed":false},
    {"name":"requestURI","type":"string","indexed":false}]},
  {"type":"event","name":"JobFinalized","inputs":[
    {"name":"jobId","type":"uint256","indexed":true},
    {"name":"milestoneIndex","type":"uint256","indexed":true},
    {"name":"payoutAmount","type":"uint256","indexed":false},
    {"name":"releasedAmount","type":"uint256","indexed":false},
    {"name":"requestHash","type":"bytes32","indexed":false}]},
  {"type":"event","name":"DisputeOpened","inputs":[
    {"name":"jobId","type":"uint256","indexed":true},
    {"name":"proposedPayoutBps","type":"uint16","indexed":false},
    {"name":"disputeURI","type":"string","indexed":false},
    {"name":"disputeHash","type":"bytes32","indexed":false}]},
  {"type":"event","name":"DisputeAccepted","inputs":[
    {"name":"jobId","type":"uint256","indexed":true},
    {"name":"payoutAmount","type":"uint256","indexed":false},
    {"name":"remainderAmount","type":"uint256","indexed":false}]},
  {"type":"event","name":"RemainderReclaimed","inputs":[
    {"name":"jobId","type":"uint256","indexed":true},
    {"name":"remainderAmount","type":"uint256","indexed":false}]}
]`

var (
	// IdentityABI and friends are exported for tests that need to pack logs.
	IdentityABI   = mustABI(identityABIJSON)
	ReputationABI = mustABI(reputationABIJSON)
	ValidationABI = mustABI(validationABIJSON)
	JobBoardABI   = mustABI(jobBoardABIJSON)
)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
