package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"sort"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agentscan/internal/chain"
	"agentscan/internal/domain"
	"agentscan/internal/repo"
	"agentscan/internal/score"
)

// Config for the HTTP API handler.
type Config struct {
	Repo        repo.Repo
	Scores      score.Engine
	Mode        string
	Deployments chain.Deployments
	BasePath    string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"agent not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Agentscan API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	hcfg := huma.DefaultConfig("Agentscan API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group, cfg)
	registerAgents(group, cfg)
	registerScores(group, cfg)
	registerJobs(group, cfg)
	registerStats(group, cfg)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health and sync status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		last, err := cfg.Repo.LastSyncedBlock(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		deployments := map[string]string{
			"identity":   cfg.Deployments.Identity.Hex(),
			"reputation": cfg.Deployments.Reputation.Hex(),
			"validation": cfg.Deployments.Validation.Hex(),
		}
		if cfg.Deployments.JobBoard != nil {
			deployments["job_board"] = cfg.Deployments.JobBoard.Hex()
		}
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: HealthResponse{
			Status:          "ok",
			Mode:            cfg.Mode,
			LastSyncedBlock: last,
			ChainID:         cfg.Deployments.ChainID,
			Deployments:     deployments,
		}}, nil
	})
}

func registerAgents(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "List agents with scores",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Search string `query:"search"`
	}) (*struct {
		Body []AgentResponse `json:"body"`
	}, error) {
		agents, err := cfg.Repo.ListAgents(ctx, input.Search)
		if err != nil {
			return nil, handleError(err)
		}
		scores, err := cfg.Scores.All(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		items := mapAgents(agents, scores)
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].ReputationScore > items[j].ReputationScore
		})
		return &struct {
			Body []AgentResponse `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-agent",
		Method:      http.MethodGet,
		Path:        "/agents/{agent_id}",
		Summary:     "Get agent",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AgentID int64 `path:"agent_id"`
	}) (*struct {
		Body AgentResponse `json:"body"`
	}, error) {
		a, err := cfg.Repo.GetAgent(ctx, input.AgentID)
		if err != nil {
			return nil, handleError(err)
		}
		s, err := cfg.Scores.Agent(ctx, input.AgentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgentResponse `json:"body"`
		}{Body: agentResponse(a, s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-agent-feedback",
		Method:      http.MethodGet,
		Path:        "/agents/{agent_id}/feedback",
		Summary:     "List agent feedback",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AgentID int64 `path:"agent_id"`
	}) (*struct {
		Body []domain.Feedback `json:"body"`
	}, error) {
		if _, err := cfg.Repo.GetAgent(ctx, input.AgentID); err != nil {
			return nil, handleError(err)
		}
		items, err := cfg.Repo.ListAgentFeedback(ctx, input.AgentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Feedback `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-agent-validations",
		Method:      http.MethodGet,
		Path:        "/agents/{agent_id}/validations",
		Summary:     "List agent validations",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AgentID int64 `path:"agent_id"`
	}) (*struct {
		Body []domain.Validation `json:"body"`
	}, error) {
		if _, err := cfg.Repo.GetAgent(ctx, input.AgentID); err != nil {
			return nil, handleError(err)
		}
		items, err := cfg.Repo.ListAgentValidations(ctx, input.AgentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Validation `json:"body"`
		}{Body: items}, nil
	})
}

func registerScores(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "scores",
		Method:      http.MethodGet,
		Path:        "/score",
		Summary:     "Reputation scores",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AgentID int64 `query:"agent_id"`
	}) (*struct {
		Body []domain.Score `json:"body"`
	}, error) {
		if input.AgentID != 0 {
			s, err := cfg.Scores.Agent(ctx, input.AgentID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body []domain.Score `json:"body"`
			}{Body: []domain.Score{s}}, nil
		}
		items, err := cfg.Scores.All(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Score `json:"body"`
		}{Body: items}, nil
	})
}

func registerJobs(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/jobs",
		Summary:     "List jobs",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Job `json:"body"`
	}, error) {
		items, err := cfg.Repo.ListJobs(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Job `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}",
		Summary:     "Get job with milestones, validations and proofs",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID int64 `path:"job_id"`
	}) (*struct {
		Body JobDetailResponse `json:"body"`
	}, error) {
		j, err := cfg.Repo.GetJob(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		milestones, err := cfg.Repo.ListJobMilestones(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		validations, err := cfg.Repo.ListJobValidations(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		proofs, err := cfg.Repo.ListJobProofs(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobDetailResponse `json:"body"`
		}{Body: JobDetailResponse{
			Job:         j,
			Milestones:  milestones,
			Validations: validations,
			Proofs:      proofs,
		}}, nil
	})
}

func registerStats(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "stats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Store counts",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.Stats `json:"body"`
	}, error) {
		stats, err := cfg.Repo.Stats(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Stats `json:"body"`
		}{Body: stats}, nil
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}
