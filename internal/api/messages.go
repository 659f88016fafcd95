package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/soochol/deskflow/internal/analytics"
	"github.com/soochol/deskflow/internal/deskflow"
	"github.com/soochol/deskflow/internal/triage"
)

const defaultQueueLimit = 50

func (s *Server) evaluateMessage(w http.ResponseWriter, r *http.Request) {
	var ev deskflow.MessageEvent
	if !decode(w, r, &ev) {
		return
	}
	ev.TenantID = tenantID(r)
	out, err := s.automation.EvaluateMessage(r.Context(), ev)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) emitEvent(w http.ResponseWriter, r *http.Request) {
	var tc deskflow.TriggerContext
	if !decode(w, r, &tc) {
		return
	}
	tc.TenantID = tenantID(r)
	runs, err := s.automation.Emit(r.Context(), tc)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflow_executions": runs})
}

type triageRequest struct {
	MessageContent *string        `json:"message_content,omitempty"`
	SentimentScore *float64       `json:"sentiment_score,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

func (s *Server) evaluateConversation(w http.ResponseWriter, r *http.Request) {
	var req triageRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	out, err := s.triage.EvaluateConversation(r.Context(), tenantID(r), chi.URLParam(r, "id"), triage.Input{
		MessageContent: req.MessageContent,
		SentimentScore: req.SentimentScore,
		Metadata:       req.Metadata,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getPriorityQueue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := deskflow.QueueFilter{
		TenantID:   tenantID(r),
		Priority:   deskflow.PriorityBand(q.Get("priority")),
		AssignedTo: q.Get("assigned_to"),
	}
	if filter.Priority != "" && !filter.Priority.Valid() {
		writeError(w, deskflow.Validation([]deskflow.Problem{{Path: "priority", Message: "unknown priority band"}}))
		return
	}
	var err error
	if filter.Limit, err = intParam(r, "limit", defaultQueueLimit); err != nil {
		writeError(w, err)
		return
	}
	if filter.Offset, err = intParam(r, "offset", 0); err != nil {
		writeError(w, err)
		return
	}
	entries, total, err := s.triage.GetPriorityQueue(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "total": total})
}

func (s *Server) getAnalytics(w http.ResponseWriter, r *http.Request) {
	q := analytics.Query{
		TenantID:   tenantID(r),
		WorkflowID: r.URL.Query().Get("workflow_id"),
		Bucket:     analytics.Bucket(r.URL.Query().Get("bucket")),
	}
	var problems []deskflow.Problem
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &q.From}, {"to", &q.To}} {
		v := r.URL.Query().Get(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			problems = append(problems, deskflow.Problem{Path: p.name, Message: "must be an RFC 3339 timestamp"})
			continue
		}
		*p.dst = t
	}
	if err := deskflow.Validation(problems); err != nil {
		writeError(w, err)
		return
	}
	report, err := s.analytics.Compute(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
