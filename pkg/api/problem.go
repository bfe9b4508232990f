// Package api exposes the ledger and memory subsystem over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/francescomaiomascio/yai/pkg/capabilities"
	"github.com/francescomaiomascio/yai/pkg/kernel"
	"github.com/francescomaiomascio/yai/pkg/limiter"
	"github.com/francescomaiomascio/yai/pkg/memory"
)

const problemBase = "https://yai.dev/problems/"

// ProblemDetail is an RFC 7807 problem document. Code carries the stable
// error code of the typed error behind it, when there is one.
type ProblemDetail struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Instance  string `json:"instance,omitempty"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, code, detail string) {
	p := &ProblemDetail{
		Type:      fmt.Sprintf("%s%d", problemBase, status),
		Title:     http.StatusText(status),
		Status:    status,
		Detail:    detail,
		Code:      code,
		RequestID: w.Header().Get(requestIDHeader),
	}
	if r != nil {
		p.Instance = r.URL.Path
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(p)
}

func writeBadRequest(w http.ResponseWriter, r *http.Request, detail string) {
	writeProblem(w, r, http.StatusBadRequest, "", detail)
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="yai"`)
	writeProblem(w, r, http.StatusUnauthorized, "", detail)
}

func writeForbidden(w http.ResponseWriter, r *http.Request, detail string) {
	writeProblem(w, r, http.StatusForbidden, "", detail)
}

func writeTooManyRequests(w http.ResponseWriter, r *http.Request, retryAfter int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
	writeProblem(w, r, http.StatusTooManyRequests, "", "rate limit exceeded")
}

// writeInternal logs err and answers with a generic 500.
func writeInternal(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	logger.ErrorContext(r.Context(), "internal error", "path", r.URL.Path, "error", err)
	writeProblem(w, r, http.StatusInternalServerError, "", "an unexpected error occurred")
}

// statusFor maps domain errors to HTTP statuses. Zero means unmapped.
func statusFor(err error) int {
	switch {
	case errors.Is(err, capabilities.ErrAccessDenied),
		errors.Is(err, kernel.ErrAuthorityViolation),
		errors.Is(err, memory.ErrAccessViolation):
		return http.StatusForbidden
	case errors.Is(err, kernel.ErrInvariantViolation):
		return http.StatusBadRequest
	case errors.Is(err, kernel.ErrStructuralViolation),
		errors.Is(err, kernel.ErrUnknownEventType),
		errors.Is(err, memory.ErrPromotion),
		errors.Is(err, memory.ErrInvalidRecord):
		return http.StatusUnprocessableEntity
	case errors.Is(err, kernel.ErrTemporalViolation),
		errors.Is(err, kernel.ErrCausalityViolation),
		errors.Is(err, memory.ErrDuplicate),
		errors.Is(err, memory.ErrIllegalTransition),
		errors.Is(err, memory.ErrExpired),
		errors.Is(err, memory.ErrInactive):
		return http.StatusConflict
	case errors.Is(err, memory.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, limiter.ErrLimited):
		return http.StatusTooManyRequests
	}
	return 0
}

func errorCode(err error) string {
	var (
		ve *kernel.ViolationError
		ad *capabilities.AccessDeniedError
		np *memory.NonPromotableError
		pe *memory.PromotionError
		du *memory.DuplicateError
		nf *memory.NotFoundError
		te *memory.TransitionError
		ex *memory.ExpiredError
		in *memory.InactiveError
		av *memory.AccessViolationError
	)
	switch {
	case errors.As(err, &ve):
		return ve.Code
	case errors.As(err, &ad):
		return ad.Code
	case errors.As(err, &np):
		return np.Code
	case errors.As(err, &pe):
		return pe.Code
	case errors.As(err, &du):
		return du.Code
	case errors.As(err, &nf):
		return nf.Code
	case errors.As(err, &te):
		return te.Code
	case errors.As(err, &ex):
		return ex.Code
	case errors.As(err, &in):
		return in.Code
	case errors.As(err, &av):
		return av.Code
	case errors.Is(err, memory.ErrInvalidRecord):
		return memory.CodeInvalidRecord
	}
	return ""
}

// writeDomainError answers with the mapped status, or 500 for anything else.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == 0 {
		writeInternal(w, r, s.logger, err)
		return
	}
	writeProblem(w, r, status, errorCode(err), err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
