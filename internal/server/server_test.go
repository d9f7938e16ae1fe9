package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"agentscan/internal/chain"
	"agentscan/internal/db"
	"agentscan/internal/domain"
	"agentscan/internal/migrate"
	"agentscan/internal/repo"
	"agentscan/internal/score"
)

type testServer struct {
	URL    string
	Repo   repo.Repo
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	jb := common.HexToAddress("0x0000000000000000000000000000000000000a04")
	handler, err := New(Config{
		Repo:   r,
		Scores: score.Engine{Repo: r},
		Mode:   "follow",
		Deployments: chain.Deployments{
			ChainID:    31337,
			Identity:   common.HexToAddress("0x0000000000000000000000000000000000000a01"),
			Reputation: common.HexToAddress("0x0000000000000000000000000000000000000a02"),
			Validation: common.HexToAddress("0x0000000000000000000000000000000000000a03"),
			JobBoard:   &jb,
		},
		BasePath: "/v0",
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Repo:   r,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func get(t *testing.T, client *http.Client, url string) (*http.Response, []byte) {
	t.Helper()
	res, err := client.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func seedAgents(t *testing.T, srv *testServer) {
	t.Helper()
	ctx := context.Background()
	uri1 := "ipfs://alpha"
	uri2 := "ipfs://beta"
	if err := srv.Repo.UpsertAgent(ctx, domain.Agent{AgentID: 1, Owner: "0xaaa", AgentURI: &uri1}); err != nil {
		t.Fatal(err)
	}
	if err := srv.Repo.UpsertAgent(ctx, domain.Agent{AgentID: 2, Owner: "0xbbb", AgentURI: &uri2}); err != nil {
		t.Fatal(err)
	}
	if err := srv.Repo.InsertFeedback(ctx, domain.Feedback{
		FeedbackHash: "0xf1", AgentID: 2, Author: "0xc", NormalizedValue: 80, BlockNumber: 5,
	}); err != nil {
		t.Fatal(err)
	}
}

func TestHealth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	if err := srv.Repo.SetLastSyncedBlock(context.Background(), 77); err != nil {
		t.Fatal(err)
	}
	res, data := get(t, srv.Client(), srv.URL+"/v0/health")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
	var body HealthResponse
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Status != "ok" || body.Mode != "follow" || body.LastSyncedBlock != 77 {
		t.Fatalf("unexpected health: %+v", body)
	}
	if len(body.Deployments) != 4 {
		t.Fatalf("expected 4 deployments, got %+v", body.Deployments)
	}
}

func TestListAgentsSortedByScore(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	seedAgents(t, srv)
	res, data := get(t, srv.Client(), srv.URL+"/v0/agents")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var agents []AgentResponse
	if err := json.Unmarshal(data, &agents); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(agents))
	}
	if agents[0].AgentID != 2 || agents[0].ReputationScore != 80 {
		t.Fatalf("expected agent 2 first: %+v", agents)
	}
	if agents[1].ReputationScore != 0 {
		t.Fatalf("expected zero score for agent 1: %+v", agents[1])
	}
}

func TestListAgentsSearch(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	seedAgents(t, srv)
	res, data := get(t, srv.Client(), srv.URL+"/v0/agents?search=beta")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var agents []AgentResponse
	_ = json.Unmarshal(data, &agents)
	if len(agents) != 1 || agents[0].AgentID != 2 {
		t.Fatalf("unexpected search result: %+v", agents)
	}
}

func TestGetAgentAndErrors(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	seedAgents(t, srv)

	res, data := get(t, srv.Client(), srv.URL+"/v0/agents/2")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var agent AgentResponse
	_ = json.Unmarshal(data, &agent)
	if agent.AgentID != 2 || agent.FeedbackScore != 80 {
		t.Fatalf("unexpected agent: %+v", agent)
	}

	res, data = get(t, srv.Client(), srv.URL+"/v0/agents/999")
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("expected not_found code: %s", string(data))
	}

	res, _ = get(t, srv.Client(), srv.URL+"/v0/agents/not-a-number")
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", res.StatusCode)
	}
}

func TestAgentFeedbackAndValidations(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	seedAgents(t, srv)
	ctx := context.Background()
	_ = srv.Repo.InsertValidationRequest(ctx, domain.ValidationRequest{RequestHash: "0xr1", AgentID: 2, Validator: "0xv", BlockNumber: 6})
	_ = srv.Repo.InsertValidationResponse(ctx, domain.ValidationResponse{ResponseHash: "0xs1", RequestHash: "0xr1", Score: 90, BlockNumber: 7})

	res, data := get(t, srv.Client(), srv.URL+"/v0/agents/2/feedback")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("feedback status %d: %s", res.StatusCode, string(data))
	}
	var feedback []domain.Feedback
	_ = json.Unmarshal(data, &feedback)
	if len(feedback) != 1 || feedback[0].NormalizedValue != 80 {
		t.Fatalf("unexpected feedback: %+v", feedback)
	}

	res, data = get(t, srv.Client(), srv.URL+"/v0/agents/2/validations")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("validations status %d: %s", res.StatusCode, string(data))
	}
	var validations []domain.Validation
	_ = json.Unmarshal(data, &validations)
	if len(validations) != 1 || validations[0].Score == nil || *validations[0].Score != 90 {
		t.Fatalf("unexpected validations: %+v", validations)
	}

	res, _ = get(t, srv.Client(), srv.URL+"/v0/agents/999/feedback")
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown agent feedback, got %d", res.StatusCode)
	}
}

func TestScoreEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	seedAgents(t, srv)

	res, data := get(t, srv.Client(), srv.URL+"/v0/score")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("score status %d: %s", res.StatusCode, string(data))
	}
	var scores []domain.Score
	_ = json.Unmarshal(data, &scores)
	if len(scores) != 2 {
		t.Fatalf("expected 2 scores, got %d", len(scores))
	}

	res, data = get(t, srv.Client(), srv.URL+"/v0/score?agent_id=2")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("single score status %d: %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &scores)
	if len(scores) != 1 || scores[0].ReputationScore != 80 {
		t.Fatalf("unexpected single score: %+v", scores)
	}

	res, _ = get(t, srv.Client(), srv.URL+"/v0/score?agent_id=999")
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown agent score, got %d", res.StatusCode)
	}
}

func TestJobEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	uri := "ipfs://job"
	budget := "1000"
	if err := srv.Repo.InsertJob(ctx, domain.Job{JobID: 1, Owner: "0xowner", JobURI: &uri, BudgetAmount: &budget, Status: domain.JobStatusOpen}); err != nil {
		t.Fatal(err)
	}
	if err := srv.Repo.UpsertMilestone(ctx, domain.JobMilestone{JobID: 1, MilestoneIndex: 0, MilestoneURI: &uri}); err != nil {
		t.Fatal(err)
	}

	res, data := get(t, srv.Client(), srv.URL+"/v0/jobs")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("jobs status %d: %s", res.StatusCode, string(data))
	}
	var jobs []domain.Job
	_ = json.Unmarshal(data, &jobs)
	if len(jobs) != 1 || jobs[0].JobID != 1 {
		t.Fatalf("unexpected jobs: %+v", jobs)
	}

	res, data = get(t, srv.Client(), srv.URL+"/v0/jobs/1")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("job detail status %d: %s", res.StatusCode, string(data))
	}
	var detail JobDetailResponse
	if err := json.Unmarshal(data, &detail); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if detail.Job.JobID != 1 || len(detail.Milestones) != 1 {
		t.Fatalf("unexpected detail: %+v", detail)
	}

	res, _ = get(t, srv.Client(), srv.URL+"/v0/jobs/404")
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	seedAgents(t, srv)
	res, data := get(t, srv.Client(), srv.URL+"/v0/stats")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stats status %d: %s", res.StatusCode, string(data))
	}
	var stats domain.Stats
	_ = json.Unmarshal(data, &stats)
	if stats.AgentCount != 2 || stats.FeedbackCount != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestMetricsMounted(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := get(t, srv.Client(), srv.URL+"/metrics")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", res.StatusCode)
	}
	if len(data) == 0 {
		t.Fatalf("expected metrics output")
	}
}
