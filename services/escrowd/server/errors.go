package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"escrowledger/native/arbitration"
	"escrowledger/native/escrow"
	"escrowledger/observability"
	"escrowledger/observability/logging"
	"escrowledger/services/escrowd/auth"
)

var codeStatus = map[string]int{
	"InvalidAmount":            http.StatusBadRequest,
	"InvalidAddress":           http.StatusBadRequest,
	"SelfHiring":               http.StatusBadRequest,
	"InvalidRating":            http.StatusBadRequest,
	"InvalidDeadline":          http.StatusBadRequest,
	"InvalidReference":         http.StatusBadRequest,
	"NotAuthorized":            http.StatusForbidden,
	"JobNotFound":              http.StatusNotFound,
	"DisputeNotFound":          http.StatusNotFound,
	"InvalidStatus":            http.StatusConflict,
	"AlreadyApplied":           http.StatusConflict,
	"MilestoneAlreadyReleased": http.StatusConflict,
	"DeadlineNotPassed":        http.StatusConflict,
	"AlreadyInitialized":       http.StatusConflict,
	"LastAdministrator":        http.StatusConflict,
	"TooManyApplicants":        http.StatusConflict,
	"TooManyEvidence":          http.StatusConflict,
	"InsufficientFunds":        http.StatusUnprocessableEntity,
	"EnforcedPause":            http.StatusLocked,
	"NotInitialized":           http.StatusServiceUnavailable,
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error     errorBody `json:"error"`
	RequestID string    `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, code string, err error) {
	message := http.StatusText(status)
	if err != nil {
		message = err.Error()
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			logging.MaskField("requestid", chimw.GetReqID(r.Context())),
			logging.MaskField("code", code),
			slog.Any("error", err),
		)
		if code == "Internal" {
			message = "internal error"
		}
	}
	writeJSON(w, status, errorEnvelope{
		Error:     errorBody{Code: code, Message: message},
		RequestID: chimw.GetReqID(r.Context()),
	})
}

// writeEngineError maps an engine or collaborator error onto the envelope.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, arbitration.ErrCaseNotFound):
		s.writeError(w, r, http.StatusNotFound, "CaseNotFound", err)
		return
	case errors.Is(err, arbitration.ErrCaseClosed):
		s.writeError(w, r, http.StatusConflict, "CaseClosed", err)
		return
	}
	code := escrow.ErrorCode(err)
	status, ok := codeStatus[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	span := trace.SpanFromContext(r.Context())
	span.RecordError(err)
	span.SetAttributes(attribute.String("escrow.code", code))
	s.writeError(w, r, status, code, err)
}

func (s *Server) badRequest(w http.ResponseWriter, r *http.Request, err error) {
	s.writeError(w, r, http.StatusBadRequest, "BadRequest", err)
}

func (s *Server) authError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Debug("rejected bearer token",
		logging.MaskField("requestid", chimw.GetReqID(r.Context())),
		slog.String("authorization", logging.MaskBearer(r.Header.Get("Authorization"))),
		slog.Any("error", err),
	)
	code := "Unauthenticated"
	if errors.Is(err, auth.ErrMissingToken) {
		code = "MissingToken"
	}
	s.writeError(w, r, http.StatusUnauthorized, code, err)
}

func (s *Server) throttled(w http.ResponseWriter, r *http.Request) {
	observability.Gateway().RecordThrottle("rate_limit")
	w.Header().Set("Retry-After", "1")
	s.writeError(w, r, http.StatusTooManyRequests, "RateLimited", nil)
}
