package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/soochol/deskflow/internal/deskflow"
)

// maxImportBytes bounds a YAML workflow upload.
const maxImportBytes = 1 << 20

func (s *Server) createWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf deskflow.WorkflowDefinition
	if !decode(w, r, &wf) {
		return
	}
	wf.TenantID = tenantID(r)
	out, err := s.rules.CreateWorkflow(r.Context(), &wf)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) importWorkflow(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "read body: " + err.Error()})
		return
	}
	out, err := s.rules.ImportWorkflowYAML(r.Context(), tenantID(r), data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) listWorkflows(w http.ResponseWriter, r *http.Request) {
	wfs, err := s.rules.ListWorkflows(r.Context(), tenantID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wfs)
}

func (s *Server) getWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.rules.GetWorkflow(r.Context(), tenantID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) replaceWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf deskflow.WorkflowDefinition
	if !decode(w, r, &wf) {
		return
	}
	wf.TenantID = tenantID(r)
	wf.ID = chi.URLParam(r, "id")
	out, err := s.rules.ReplaceWorkflow(r.Context(), &wf)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) deleteWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := s.rules.DeleteWorkflow(r.Context(), tenantID(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
