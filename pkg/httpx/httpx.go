package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"streampact/pkg/domain"
	"streampact/pkg/protocol"
	"streampact/pkg/token"
)

func NewRequestID() string { return "req_" + uuid.NewString() }

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ReadJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func WriteError(w http.ResponseWriter, status int, code, message string, details any) {
	resp := map[string]any{
		"request_id": NewRequestID(),
		"error": map[string]any{
			"code": code, "message": message, "details": details,
		},
	}
	WriteJSON(w, status, resp)
}

// WriteProtocolError maps the protocol error taxonomy onto HTTP statuses.
// Every protocol error is fail-fast; the caller resubmits a corrected call.
func WriteProtocolError(w http.ResponseWriter, err error) {
	status, code := 500, "INTERNAL"
	switch {
	case errors.Is(err, protocol.ErrUnknownSlot):
		status, code = 404, "UNKNOWN_SLOT"
	case errors.Is(err, domain.ErrUnauthorizedCaller):
		status, code = 403, "UNAUTHORIZED_CALLER"
	case errors.Is(err, domain.ErrInvalidTermLength):
		status, code = 400, "INVALID_TERM_LENGTH"
	case errors.Is(err, domain.ErrIncompatibleToken):
		status, code = 400, "INCOMPATIBLE_TOKEN"
	case errors.Is(err, domain.ErrCureTimeNotMet):
		status, code = 409, "CURE_TIME_NOT_MET"
	case errors.Is(err, domain.ErrRageTerminationNotAllowed):
		status, code = 403, "RAGE_TERMINATION_NOT_ALLOWED"
	case errors.Is(err, domain.ErrNoBreachNoticeIssued):
		status, code = 409, "NO_BREACH_NOTICE_ISSUED"
	case errors.Is(err, domain.ErrStreamCancellationFailed):
		status, code = 502, "STREAM_CANCELLATION_FAILED"
	case errors.Is(err, domain.ErrDoubleInitialization):
		status, code = 409, "DOUBLE_INITIALIZATION"
	case errors.Is(err, domain.ErrSlotAlreadyOccupied):
		status, code = 409, "SLOT_ALREADY_OCCUPIED"
	case errors.Is(err, domain.ErrAgreementTerminated):
		status, code = 409, "AGREEMENT_TERMINATED"
	case errors.Is(err, token.ErrUnknownToken):
		status, code = 400, "UNKNOWN_TOKEN"
	case errors.Is(err, token.ErrInsufficientBalance):
		status, code = 409, "INSUFFICIENT_BALANCE"
	case errors.Is(err, token.ErrInsufficientAllowance):
		status, code = 409, "INSUFFICIENT_ALLOWANCE"
	case errors.Is(err, token.ErrNegativeAmount):
		status, code = 400, "BAD_AMOUNT"
	}
	WriteError(w, status, code, err.Error(), nil)
}
