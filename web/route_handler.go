package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/mdollan-source/payg/client"
	"github.com/mdollan-source/payg/internal/state"
	"github.com/mdollan-source/payg/types"
	"go.uber.org/zap"
)

type enqueueRequest struct {
	TenantID       string          `json:"tenantId"`
	JobType        types.JobType   `json:"jobType"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	RunAt          *time.Time      `json:"runAt,omitempty"`
	DelaySeconds   int             `json:"delaySeconds,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
}

type pipelineStage struct {
	JobType     types.JobType  `json:"jobType"`
	Next        *types.JobType `json:"next"`
	Registered  bool           `json:"registered"`
	Idempotent  bool           `json:"idempotent"`
	Description string         `json:"description,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.queue.GetQueueStats(r.Context()); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "job store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.GetQueueStats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDeadJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.queue.GetDeadJobs(r.Context(), r.URL.Query().Get("tenantId"), getLimit(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNilJobs(jobs))
}

func (s *Server) handleTenantJobs(w http.ResponseWriter, r *http.Request) {
	opts := client.JobListOptions{Limit: getLimit(r)}
	if v := r.URL.Query().Get("status"); v != "" {
		st, ok := state.Parse(v)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", v))
			return
		}
		opts.Status = st
	}
	if v := r.URL.Query().Get("jobType"); v != "" {
		opts.JobType = types.JobType(v)
		if !opts.JobType.IsValid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown job type %q", v))
			return
		}
	}

	jobs, err := s.queue.GetJobsForTenant(r.Context(), chi.URLParam(r, "tenantID"), opts)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNilJobs(jobs))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	var req enqueueRequest
	if err := sonic.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var opts []client.CreateOption
	if req.RunAt != nil {
		opts = append(opts, client.RunAt(*req.RunAt))
	}
	if req.DelaySeconds > 0 {
		opts = append(opts, client.Delay(time.Duration(req.DelaySeconds)*time.Second))
	}
	if req.IdempotencyKey != "" {
		opts = append(opts, client.IdempotencyKey(req.IdempotencyKey))
	}

	var payload any
	if len(req.Payload) > 0 && string(req.Payload) != "null" {
		payload = req.Payload
	}
	job, err := s.queue.CreateJob(r.Context(), req.TenantID, req.JobType, payload, opts...)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("job enqueued by admin", zap.String("job_id", job.ID), zap.String("job_type", job.JobType.String()))
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.RetryDeadJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleRequeue(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.RequeueStuckJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.DeleteJob(r.Context(), chi.URLParam(r, "jobID")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRebuild puts the tenant back into building and restarts the pipeline from spec generation.
func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	tenant, err := s.sites.FindTenant(r.Context(), tenantID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.sites.UpdateTenantStatus(r.Context(), tenantID, types.TenantBuilding); err != nil {
		s.fail(w, r, err)
		return
	}

	job, err := s.queue.CreateJob(r.Context(), tenantID, types.JobAIGenerateSpec, map[string]any{
		"planPages": tenant.PlanPages,
		"rebuild":   true,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("rebuild started", zap.String("tenant_id", tenantID), zap.String("job_id", job.ID))
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handlePipeline(w http.ResponseWriter, _ *http.Request) {
	stages := make([]pipelineStage, 0, len(types.AllJobTypes))
	for _, jt := range types.AllJobTypes {
		stage := pipelineStage{JobType: jt}
		if next, ok := types.NextStage(jt); ok {
			stage.Next = &next
		}
		if s.handlers != nil {
			if opts, ok := s.handlers.Options(jt); ok {
				stage.Registered = true
				stage.Idempotent = opts.Idempotent
				stage.Description = opts.Description
			}
		}
		stages = append(stages, stage)
	}
	chains := map[types.JobType][]types.JobType{}
	for _, root := range types.PipelineRoots() {
		chains[root] = types.PipelineChain(root)
	}
	writeJSON(w, http.StatusOK, map[string]any{"stages": stages, "chains": chains})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("admin request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func nonNilJobs(jobs []types.Job) []types.Job {
	if jobs == nil {
		return []types.Job{}
	}
	return jobs
}
