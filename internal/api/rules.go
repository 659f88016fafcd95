package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/soochol/deskflow/internal/deskflow"
)

func (s *Server) createEscalation(w http.ResponseWriter, r *http.Request) {
	var cfg deskflow.EscalationConfiguration
	if !decode(w, r, &cfg) {
		return
	}
	cfg.TenantID = tenantID(r)
	out, err := s.rules.CreateEscalation(r.Context(), &cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) listEscalations(w http.ResponseWriter, r *http.Request) {
	cfgs, err := s.rules.ListEscalations(r.Context(), tenantID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfgs)
}

func (s *Server) getEscalation(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.rules.GetEscalation(r.Context(), tenantID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) updateEscalation(w http.ResponseWriter, r *http.Request) {
	var cfg deskflow.EscalationConfiguration
	if !decode(w, r, &cfg) {
		return
	}
	cfg.TenantID = tenantID(r)
	cfg.ID = chi.URLParam(r, "id")
	out, err := s.rules.UpdateEscalation(r.Context(), &cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) deleteEscalation(w http.ResponseWriter, r *http.Request) {
	if err := s.rules.DeleteEscalation(r.Context(), tenantID(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) createTriageRule(w http.ResponseWriter, r *http.Request) {
	var rule deskflow.TriageRule
	if !decode(w, r, &rule) {
		return
	}
	rule.TenantID = tenantID(r)
	out, err := s.rules.CreateTriageRule(r.Context(), &rule)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) listTriageRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.rules.ListTriageRules(r.Context(), tenantID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) getTriageRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.rules.GetTriageRule(r.Context(), tenantID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) updateTriageRule(w http.ResponseWriter, r *http.Request) {
	var rule deskflow.TriageRule
	if !decode(w, r, &rule) {
		return
	}
	rule.TenantID = tenantID(r)
	rule.ID = chi.URLParam(r, "id")
	out, err := s.rules.UpdateTriageRule(r.Context(), &rule)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) deleteTriageRule(w http.ResponseWriter, r *http.Request) {
	if err := s.rules.DeleteTriageRule(r.Context(), tenantID(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
