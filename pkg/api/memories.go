package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/francescomaiomascio/yai/pkg/capabilities"
	"github.com/francescomaiomascio/yai/pkg/kernel"
	"github.com/francescomaiomascio/yai/pkg/memory"
)

const defaultViewItems = 20

type accessSpec struct {
	Agents     []string `json:"agents"`
	Fields     []string `json:"fields"`
	Expression string   `json:"expression"`
}

type commitRequest struct {
	RunID         string            `json:"run_id"`
	SourceEvents  []string          `json:"source_event_ids"`
	MemoryType    memory.MemoryType `json:"memory_type"`
	Confidence    float64           `json:"confidence"`
	Payload       map[string]any    `json:"payload"`
	SchemaVersion string            `json:"schema_version"`
	TTL           string            `json:"ttl"`
	Access        *accessSpec       `json:"access"`
}

type transitionRequest struct {
	Reason     string `json:"reason"`
	ReplacedBy string `json:"replaced_by"`
}

type memoryResponse struct {
	MemoryID      string            `json:"memory_id"`
	MemoryType    memory.MemoryType `json:"memory_type"`
	Confidence    float64           `json:"confidence"`
	SchemaVersion string            `json:"schema_version"`
	CreatedAt     string            `json:"created_at"`
	Provenance    memory.Provenance `json:"provenance"`
	State         memory.State      `json:"state"`
}

// accessPolicy builds the record policy. An expression wins over an agent
// list; with neither, every agent may read the listed fields.
func accessPolicy(spec *accessSpec) (memory.AccessPolicy, error) {
	switch {
	case spec == nil:
		return memory.OpenPolicy{}, nil
	case spec.Expression != "":
		return memory.NewCELPolicy(spec.Expression, spec.Fields)
	case spec.Agents != nil:
		return memory.NewAllowList(spec.Agents, spec.Fields), nil
	case len(spec.Fields) > 0:
		return memory.Redacted{Fields: spec.Fields}, nil
	default:
		return memory.OpenPolicy{}, nil
	}
}

// governed checks that the caller may write memory in the governance run.
func (s *Server) governed(w http.ResponseWriter, r *http.Request, c capabilities.Type) bool {
	claims, ok := requireRuntime(w, r)
	if !ok {
		return false
	}
	if err := claims.RequireCapability(r.Context(), s.memories.RunID(), c); err != nil {
		s.writeDomainError(w, r, err)
		return false
	}
	return true
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	if !s.governed(w, r, capabilities.MemoryWrite) {
		return
	}
	var req commitRequest
	if !s.decode(w, r, "commit_memory", &req) {
		return
	}

	sources := make([]*kernel.Event, 0, len(req.SourceEvents))
	for _, id := range req.SourceEvents {
		e, ok := s.emitter.Store().Find(req.RunID, id)
		if !ok {
			writeProblem(w, r, http.StatusUnprocessableEntity, memory.CodeNonPromotable,
				fmt.Sprintf("source event %s is not recorded in run %s", id, req.RunID))
			return
		}
		sources = append(sources, e)
	}

	policy, err := accessPolicy(req.Access)
	if err != nil {
		writeProblem(w, r, http.StatusUnprocessableEntity, memory.CodeInvalidRecord, err.Error())
		return
	}
	var lifecycle memory.LifecyclePolicy
	if req.TTL != "" {
		ttl, err := time.ParseDuration(req.TTL)
		if err != nil || ttl <= 0 {
			writeBadRequest(w, r, "ttl must be a positive duration")
			return
		}
		lifecycle.TTL = ttl
	}

	rec, err := s.memories.Commit(r.Context(), memory.CommitRequest{
		SourceEvents:  sources,
		Type:          req.MemoryType,
		Confidence:    req.Confidence,
		Payload:       req.Payload,
		Access:        policy,
		Lifecycle:     lifecycle,
		SchemaVersion: req.SchemaVersion,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	state, err := s.memories.Lifecycle().GetState(rec.ID())
	if err != nil {
		writeInternal(w, r, s.logger, err)
		return
	}
	w.Header().Set("Location", "/v1/memories/"+rec.ID()+"/state")
	writeJSON(w, http.StatusCreated, memoryResponse{
		MemoryID:      rec.ID(),
		MemoryType:    rec.Type(),
		Confidence:    rec.Confidence(),
		SchemaVersion: rec.SchemaVersion(),
		CreatedAt:     kernel.FormatTimestamp(rec.CreatedAt()),
		Provenance:    rec.Provenance(),
		State:         state,
	})
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	if !s.governed(w, r, capabilities.MemoryWrite) {
		return
	}
	var to memory.Status
	switch r.PathValue("transition") {
	case "expire":
		to = memory.StatusExpired
	case "deprecate":
		to = memory.StatusDeprecated
	case "supersede":
		to = memory.StatusSuperseded
	case "invalidate":
		to = memory.StatusInvalidated
	default:
		writeProblem(w, r, http.StatusNotFound, "", "unknown transition "+r.PathValue("transition"))
		return
	}
	var req transitionRequest
	if !s.decode(w, r, "transition", &req) {
		return
	}
	id := r.PathValue("memory_id")
	if err := s.memories.Lifecycle().Transition(r.Context(), id, to, req.ReplacedBy, req.Reason); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	state, err := s.memories.Lifecycle().GetState(id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	if err := claims.RequireCapability(r.Context(), s.memories.RunID(), capabilities.MemoryRead); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	state, err := s.memories.Lifecycle().GetState(r.PathValue("memory_id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleView builds the memory view of the calling agent. The token claims
// act as the capability enforcer for the run.
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	q := r.URL.Query()
	maxItems, err := parseLimit(q.Get("max"), defaultViewItems)
	if err != nil {
		writeBadRequest(w, r, "max: "+err.Error())
		return
	}
	var memoryIDs []string
	for _, part := range strings.Split(q.Get("ids"), ",") {
		if part = strings.TrimSpace(part); part != "" {
			memoryIDs = append(memoryIDs, part)
		}
	}
	runID := r.PathValue("run_id")
	views, err := s.views.BuildViewWith(r.Context(), claims, runID, agentName(claims.Origin()), memoryIDs, maxItems)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id": runID,
		"views":  views,
	})
}
