package api

import (
	"net/http"

	"github.com/francescomaiomascio/yai/pkg/capabilities"
	"github.com/francescomaiomascio/yai/pkg/ids"
	"github.com/francescomaiomascio/yai/pkg/kernel"
)

const (
	codeReservedType = "YAI/API/RESERVED_EVENT_TYPE"
	codeReservedRun  = "YAI/API/RESERVED_RUN"
)

type emitRequest struct {
	EventID   string             `json:"event_id"`
	RunID     string             `json:"run_id"`
	EventType kernel.EventType   `json:"event_type"`
	Timestamp string             `json:"timestamp"`
	Payload   map[string]any     `json:"payload"`
	Causality []kernel.CausalRef `json:"causality"`
}

type eventPage struct {
	Offset     int                  `json:"offset"`
	NextOffset int                  `json:"next_offset"`
	Head       string               `json:"head"`
	Events     []kernel.EventRecord `json:"events"`
}

func records(events []*kernel.Event) []kernel.EventRecord {
	out := make([]kernel.EventRecord, len(events))
	for i, e := range events {
		out[i] = e.Record()
	}
	return out
}

// handleEmit submits an event on behalf of the token subject. The origin is
// never taken from the body.
func (s *Server) handleEmit(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	var req emitRequest
	if !s.decode(w, r, "emit_event", &req) {
		return
	}
	if err := claims.RequireCapability(r.Context(), req.RunID, capabilities.EventEmit); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	// The governance run only carries the memory journal.
	if req.RunID == s.memories.RunID() {
		writeProblem(w, r, http.StatusUnprocessableEntity, codeReservedRun,
			"the governance run only accepts events from the memory endpoints")
		return
	}
	// MEMORY events belong to the lifecycle manager and promotion service.
	if cat, err := kernel.CategoryOf(req.EventType); err == nil && cat == kernel.CategoryMemory {
		writeProblem(w, r, http.StatusUnprocessableEntity, codeReservedType,
			"MEMORY events are emitted through the memory endpoints")
		return
	}

	if req.EventID == "" {
		req.EventID = ids.NewEventID()
	}
	ts := s.now()
	if req.Timestamp != "" {
		parsed, err := kernel.ParseTimestamp(req.Timestamp)
		if err != nil {
			writeBadRequest(w, r, "timestamp: "+err.Error())
			return
		}
		ts = parsed
	}

	e, err := kernel.NewEvent(kernel.EventSpec{
		EventID:   req.EventID,
		RunID:     req.RunID,
		Type:      req.EventType,
		Timestamp: ts,
		Origin:    claims.Origin(),
		Payload:   req.Payload,
		Causality: req.Causality,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if err := s.emitter.Emit(r.Context(), e); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/runs/"+e.RunID()+"/events")
	writeJSON(w, http.StatusCreated, e.Record())
}

// handleLog pages through the whole log. It needs a token valid for every run.
func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	if err := runAccess(claims, capabilities.AnyRun); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	offset, err := parseLimit(r.URL.Query().Get("offset"), 0)
	if err != nil || offset < 0 {
		writeBadRequest(w, r, "offset must be a non-negative integer")
		return
	}
	store := s.emitter.Store()
	events := store.Since(offset)
	writeJSON(w, http.StatusOK, eventPage{
		Offset:     offset,
		NextOffset: offset + len(events),
		Head:       store.Head(),
		Events:     records(events),
	})
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	runID := r.PathValue("run_id")
	if err := runAccess(claims, runID); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	events := s.emitter.Store().ByRun(runID)
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id": runID,
		"head":   kernel.ChainHead(events),
		"events": records(events),
	})
}
