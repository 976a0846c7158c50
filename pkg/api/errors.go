package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"ledger-engine/pkg/history"
	"ledger-engine/pkg/ledger"
	"ledger-engine/pkg/money"

	"go.uber.org/zap"
)

// Error codes in response bodies.
const (
	codeInvalidAmount     = "invalid_amount"
	codeInvalidFilter     = "invalid_filter"
	codeInvalidRequest    = "invalid_request"
	codeAccountNotFound   = "account_not_found"
	codeAccountExists     = "account_exists"
	codeInsufficientFunds = "insufficient_funds"
	codeStoreUnavailable  = "store_unavailable"
	codeInternal          = "internal_error"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string        `json:"error"`
	Code    string        `json:"code"`
	OwnerID string        `json:"ownerId,omitempty"`
	Amount  *money.Amount `json:"amount,omitempty"`
}

// requestError is a malformed request detected before reaching the ledger.
type requestError struct {
	code string
	msg  string
}

func (e *requestError) Error() string { return e.msg }

// writeFailure maps err to a status code and writes the error body.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := failure(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", w.Header().Get(RequestIDHeader)),
			zap.Error(err))
	}
	writeJSON(w, status, resp)
}

func failure(err error) (int, ErrorResponse) {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return http.StatusBadRequest, ErrorResponse{Error: reqErr.msg, Code: reqErr.code}
	}

	resp := ErrorResponse{Error: err.Error()}
	var le *ledger.Error
	if errors.As(err, &le) {
		resp.Error = le.Kind.Error()
		resp.OwnerID = le.OwnerID
		if le.Amount != 0 {
			amount := le.Amount
			resp.Amount = &amount
		}
	}

	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		resp.Code = codeInvalidAmount
		return http.StatusBadRequest, resp
	case errors.Is(err, history.ErrInvalidFilter),
		errors.Is(err, history.ErrInvalidLimit), errors.Is(err, history.ErrInvalidPage):
		resp.Code = codeInvalidFilter
		return http.StatusBadRequest, resp
	case errors.Is(err, ledger.ErrAccountNotFound):
		resp.Code = codeAccountNotFound
		return http.StatusNotFound, resp
	case errors.Is(err, ledger.ErrAccountExists):
		resp.Code = codeAccountExists
		return http.StatusConflict, resp
	case errors.Is(err, ledger.ErrInsufficientFunds):
		resp.Code = codeInsufficientFunds
		return http.StatusConflict, resp
	case errors.Is(err, ledger.ErrStoreUnavailable):
		resp.Code = codeStoreUnavailable
		return http.StatusServiceUnavailable, resp
	default:
		resp.Code = codeInternal
		resp.Error = "internal error"
		return http.StatusInternalServerError, resp
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}
