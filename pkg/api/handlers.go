package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"ledger-engine/pkg/history"
	"ledger-engine/pkg/ledger"
	"ledger-engine/pkg/model"
	"ledger-engine/pkg/money"
)

// maxBodyBytes bounds mutation request bodies.
const maxBodyBytes = 1 << 16

type mutationRequest struct {
	Amount      *money.Amount `json:"amount"`
	Description string        `json:"description"`
}

type transactionsResponse struct {
	Transactions []model.Transaction `json:"transactions"`
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.config.RequestTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), s.config.RequestTimeout)
}

func (s *Server) handleOpenAccount(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	account, err := s.ledger.OpenAccount(ctx, OwnerFrom(ctx))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	balance, err := s.ledger.Balance(ctx, OwnerFrom(ctx))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleMutation(w, r, s.ledger.Deposit)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleMutation(w, r, s.ledger.Withdraw)
}

type mutation func(ctx context.Context, ownerID string, amount money.Amount, description string) (ledger.Result, error)

func (s *Server) handleMutation(w http.ResponseWriter, r *http.Request, do mutation) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	req, err := decodeMutation(r.Body)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	result, err := do(ctx, OwnerFrom(ctx), *req.Amount, req.Description)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func decodeMutation(body io.Reader) (mutationRequest, error) {
	var req mutationRequest
	dec := json.NewDecoder(io.LimitReader(body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.Is(err, money.ErrInvalid), errors.Is(err, money.ErrPrecision), errors.Is(err, money.ErrOverflow):
			return req, &requestError{code: codeInvalidAmount, msg: err.Error()}
		case errors.Is(err, io.EOF), errors.As(err, &syntaxErr), errors.As(err, &typeErr):
			return req, &requestError{code: codeInvalidRequest, msg: "malformed request body"}
		default:
			return req, &requestError{code: codeInvalidRequest, msg: err.Error()}
		}
	}
	if req.Amount == nil {
		return req, &requestError{code: codeInvalidAmount, msg: "amount is required"}
	}
	return req, nil
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	q := r.URL.Query()
	filter, err := history.ParseFilter(q.Get("kind"), q.Get("startDate"), q.Get("endDate"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	owner := OwnerFrom(ctx)

	if q.Has("page") || q.Has("pageSize") {
		page, err := queryInt(q.Get("page"), 1)
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		size, err := queryInt(q.Get("pageSize"), 10)
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		result, err := s.history.Page(ctx, owner, filter, page, size)
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	txs, err := s.history.All(ctx, owner, filter)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionsResponse{Transactions: txs})
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	limit, err := queryInt(r.URL.Query().Get("limit"), s.config.RecentLimit)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	txs, err := s.history.Recent(ctx, OwnerFrom(ctx), limit)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionsResponse{Transactions: txs})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	q := r.URL.Query()
	filter, err := history.ParseFilter(q.Get("kind"), q.Get("startDate"), q.Get("endDate"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	summary, err := s.history.Summary(ctx, OwnerFrom(ctx), filter)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func queryInt(value string, defaultValue int) (int, error) {
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, &requestError{code: codeInvalidRequest, msg: fmt.Sprintf("%q is not an integer", value)}
	}
	return n, nil
}
