package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/soochol/deskflow/internal/deskflow"
	"github.com/soochol/deskflow/internal/repository"
)

func (s *Server) listExecutions(w http.ResponseWriter, r *http.Request) {
	q := repository.ExecutionQuery{
		TenantID:   tenantID(r),
		WorkflowID: r.URL.Query().Get("workflow_id"),
		Status:     deskflow.ExecutionStatus(r.URL.Query().Get("status")),
	}
	var err error
	if q.Limit, err = intParam(r, "limit", 50); err != nil {
		writeError(w, err)
		return
	}
	if q.Offset, err = intParam(r, "offset", 0); err != nil {
		writeError(w, err)
		return
	}
	execs, total, err := s.executions.List(r.Context(), q)
	if err != nil {
		writeError(w, deskflow.WrapStore("list executions", err))
		return
	}
	summaries := make([]deskflow.ExecutionSummary, len(execs))
	for i, e := range execs {
		summaries[i] = e.Summary()
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": summaries, "total": total})
}

func (s *Server) getExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.tenantExecution(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) cancelExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.tenantExecution(r)
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := s.engine.Cancel(r.Context(), exec.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, out.Summary())
}

// tenantExecution loads the {id} execution and hides other tenants' runs.
func (s *Server) tenantExecution(r *http.Request) (*deskflow.WorkflowExecution, error) {
	id := chi.URLParam(r, "id")
	exec, err := s.executions.Get(r.Context(), id)
	if err != nil {
		return nil, deskflow.WrapStore("get execution", err)
	}
	if exec.TenantID != tenantID(r) {
		return nil, fmt.Errorf("execution %q: %w", id, deskflow.ErrNotFound)
	}
	return exec, nil
}
