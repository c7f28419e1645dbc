package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"zkbounty/native/bounty"
)

const codeBadRequest = "BadRequest"

// statusFor maps a ledger error kind to its HTTP status.
func statusFor(code string) int {
	switch code {
	case "BountyNotFound":
		return http.StatusNotFound
	case "NotRegisteredIssuer", "NotSubmitter", "SubmitterCannotRegister":
		return http.StatusForbidden
	case "AlreadyApproved", "IssuerAlreadyRegistered", "HunterAlreadyRegistered":
		return http.StatusConflict
	case "IndexOutOfBounds", "InvalidPrincipal", "EmptyDigest":
		return http.StatusBadRequest
	case "RewardMismatch", "NoReportSubmitted", "InsufficientFunds":
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		writeJSONError(w, http.StatusServiceUnavailable, "Unavailable", err)
		return
	}
	code := bounty.Code(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		s.logger.LogAttrs(r.Context(), slog.LevelError, "ledger operation failed",
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		// Storage details stay in the log.
		writeJSONError(w, status, code, errors.New(http.StatusText(status)))
		return
	}
	writeJSONError(w, status, code, err)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusBadRequest, codeBadRequest, err)
}

func writeJSONError(w http.ResponseWriter, status int, code string, err error) {
	message := http.StatusText(status)
	if err != nil {
		if trimmed := strings.TrimSpace(err.Error()); trimmed != "" {
			message = trimmed
		}
	}
	writeJSON(w, status, ErrorResult{Error: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
