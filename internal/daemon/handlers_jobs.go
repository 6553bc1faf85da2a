package daemon

import (
	"context"
	"net/http"
	"strings"

	"docbatch/internal/api"
	"docbatch/internal/jobstore"
	"docbatch/internal/logging"
	"docbatch/internal/monitor"
	"docbatch/internal/services"
)

func (s *apiServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var statuses []jobstore.Status
	for _, value := range r.URL.Query()["status"] {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		status, ok := jobstore.ParseStatus(trimmed)
		if !ok {
			s.writeServiceError(w, services.Wrap(services.ErrValidation, "api", "list jobs", "unknown status "+trimmed, nil))
			return
		}
		statuses = append(statuses, status)
	}
	jobs, err := s.daemon.store.List(r.Context(), statuses...)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: api.FromJobs(jobs)})
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		s.writeServiceError(w, err)
		return
	}
	job, err := s.daemon.workflow.Submit(r.Context(), api.ToSubmitRequest(req))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.JobResponse{Job: api.FromJob(job)})
}

func (s *apiServer) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.daemon.store.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobResponse{Job: api.FromJob(job)})
}

func (s *apiServer) handlePause(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.daemon.workflow.Pause)
}

func (s *apiServer) handleResume(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.daemon.workflow.Resume)
}

func (s *apiServer) handleStop(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.daemon.workflow.Stop)
}

// control runs a job operation and answers with the resulting state.
func (s *apiServer) control(w http.ResponseWriter, r *http.Request, op func(context.Context, string) error) {
	id := r.PathValue("id")
	if err := op(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeState(w, r, id, http.StatusAccepted)
}

func (s *apiServer) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeState(w, r, r.PathValue("id"), http.StatusOK)
}

func (s *apiServer) writeState(w http.ResponseWriter, r *http.Request, id string, status int) {
	state, err := s.daemon.workflow.State(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, status, api.FromJobState(state))
}

func (s *apiServer) handleRestore(w http.ResponseWriter, r *http.Request) {
	job, err := s.daemon.workflow.Restore(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.JobResponse{Job: api.FromJob(job)})
}

func (s *apiServer) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cp, err := s.daemon.workflow.Checkpoint(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromCheckpoint(id, cp))
}

func (s *apiServer) handleAggregate(w http.ResponseWriter, r *http.Request) {
	summary, err := s.daemon.monitor.RunOnce(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, fromSummary(summary))
}

// handleAggregateJob optionally re-triggers the job, then polls. A retrigger
// re-dispatches outstanding items when some were never acknowledged, and
// otherwise retries a failed finalization.
func (s *apiServer) handleAggregateJob(w http.ResponseWriter, r *http.Request) {
	var req api.AggregateRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	id := r.PathValue("id")
	job, err := s.daemon.store.GetByID(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if job.Mode != jobstore.ModeDispatched {
		s.writeServiceError(w, services.Wrap(services.ErrValidation, "api", "aggregate",
			"job "+id+" runs in-process and is finalized by its controller", nil))
		return
	}
	redispatched := 0
	if req.Retrigger {
		if job.AcknowledgedCount < job.DispatchedCount || job.DispatchedCount < job.Total {
			_, redispatched, err = s.daemon.workflow.Redispatch(r.Context(), id)
		} else {
			err = s.daemon.monitor.Retrigger(r.Context(), id)
		}
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.logger.Info("aggregation re-triggered via api",
			logging.String(logging.FieldJobID, id),
			logging.Int("redispatched", redispatched),
		)
	}
	summary, err := s.daemon.monitor.RunOnce(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	resp := fromSummary(summary)
	resp.Redispatched = redispatched
	s.writeJSON(w, http.StatusOK, resp)
}

func fromSummary(summary monitor.Summary) api.AggregateResponse {
	return api.AggregateResponse{
		Ready:      summary.Ready,
		Finalized:  summary.Finalized,
		Skipped:    summary.Skipped,
		Failed:     summary.Failed,
		Duplicates: summary.Duplicates,
	}
}
