package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/soochol/deskflow/internal/deskflow"
)

func (s *Server) createConnection(w http.ResponseWriter, r *http.Request) {
	var conn deskflow.Connection
	if !decode(w, r, &conn) {
		return
	}
	conn.TenantID = tenantID(r)
	safe, err := s.connections.Create(r.Context(), &conn)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, safe)
}

func (s *Server) listConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := s.connections.List(r.Context(), tenantID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conns)
}

func (s *Server) getConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.connections.Get(r.Context(), tenantID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func (s *Server) updateConnection(w http.ResponseWriter, r *http.Request) {
	var conn deskflow.Connection
	if !decode(w, r, &conn) {
		return
	}
	conn.TenantID = tenantID(r)
	conn.ID = chi.URLParam(r, "id")
	safe, err := s.connections.Update(r.Context(), &conn)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, safe)
}

func (s *Server) deleteConnection(w http.ResponseWriter, r *http.Request) {
	if err := s.connections.Delete(r.Context(), tenantID(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
