package handler

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Dan9191/mutual-fund/internal/apperr"
	"github.com/Dan9191/mutual-fund/internal/metrics"
	"github.com/Dan9191/mutual-fund/internal/models"
	"github.com/Dan9191/mutual-fund/internal/service"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Handler exposes the fund service over HTTP
type Handler struct {
	svc *service.Service
	log *logrus.Logger
}

// NewHandler initializes a new handler
func NewHandler(svc *service.Service, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// Routes registers the fund endpoints on r. Every route expects an
// authenticated caller.
func (h *Handler) Routes(r *mux.Router) {
	r.Use(instrument)

	r.HandleFunc("/deposits", h.Deposit).Methods("POST")
	r.HandleFunc("/withdrawals", h.Withdraw).Methods("POST")
	r.HandleFunc("/balances/{member}", h.GetBalance).Methods("GET")

	r.HandleFunc("/fund", h.GetFund).Methods("GET")
	r.HandleFunc("/fund/deposit-lock", h.SetDepositLockTime).Methods("PUT")
	r.HandleFunc("/fund/committee-size", h.SetCommitteeSize).Methods("PUT")
	r.HandleFunc("/fund/interest-rate/sync", h.SyncInterestRate).Methods("POST")
	r.HandleFunc("/distributions", h.DistributeInterest).Methods("POST")

	r.HandleFunc("/applications", h.CreateApplication).Methods("POST")
	r.HandleFunc("/applications/{id:[0-9]+}", h.GetApplication).Methods("GET")
	r.HandleFunc("/applications/{id:[0-9]+}/approve", h.ApproveApplication).Methods("POST")
	r.HandleFunc("/applications/{id:[0-9]+}/decline", h.DeclineApplication).Methods("POST")
	r.HandleFunc("/applications/{id:[0-9]+}/request-proof", h.RequestMoreProof).Methods("POST")
	r.HandleFunc("/applications/{id:[0-9]+}/provide-proof", h.ProvideMoreProof).Methods("POST")
	r.HandleFunc("/applications/{id:[0-9]+}/loan", h.GrantLoan).Methods("POST")

	r.HandleFunc("/loans/{id:[0-9]+}", h.GetLoan).Methods("GET")
	r.HandleFunc("/loans/{id:[0-9]+}/quote", h.QuoteRepayment).Methods("GET")
	r.HandleFunc("/loans/{id:[0-9]+}/repayments", h.RepayLoan).Methods("POST")

	r.HandleFunc("/ballots", h.CreateBallot).Methods("POST")
	r.HandleFunc("/ballots/{id:[0-9]+}", h.GetBallot).Methods("GET")
	r.HandleFunc("/ballots/{id:[0-9]+}/voters", h.ListVoters).Methods("GET")
	r.HandleFunc("/ballots/{id:[0-9]+}/committee", h.RequestCommittee).Methods("POST")
	r.HandleFunc("/ballots/{id:[0-9]+}/votes", h.Vote).Methods("POST")
	r.HandleFunc("/ballots/{id:[0-9]+}/finalize", h.FinalizeBallot).Methods("POST")
	r.HandleFunc("/randomness/credit", h.GetRandomnessCredit).Methods("GET")
	r.HandleFunc("/randomness/credit", h.TopUpRandomness).Methods("POST")
	r.HandleFunc("/randomness/{request}", h.DeliverRandomness).Methods("POST")

	r.HandleFunc("/members", h.AddMember).Methods("POST")
	r.HandleFunc("/members/{member}", h.GetMembership).Methods("GET")
	r.HandleFunc("/members/{member}", h.RemoveMember).Methods("DELETE")
	r.HandleFunc("/members/{member}/roles/{role}", h.GrantRole).Methods("PUT")
	r.HandleFunc("/members/{member}/roles/{role}", h.RevokeRole).Methods("DELETE")
}

type amountRequest struct {
	Amount int64 `json:"amount"`
}

// Deposit handles member deposits
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !h.decode(w, r, &req) {
		return
	}
	bal, err := h.svc.Deposit(r.Context(), req.Amount)
	h.respond(w, http.StatusOK, bal, err)
}

// Withdraw handles member withdrawals
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !h.decode(w, r, &req) {
		return
	}
	bal, err := h.svc.Withdraw(r.Context(), req.Amount)
	h.respond(w, http.StatusOK, bal, err)
}

// GetBalance returns a member balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := h.svc.GetBalance(r.Context(), mux.Vars(r)["member"])
	h.respond(w, http.StatusOK, bal, err)
}

// GetFund returns the fund aggregates
func (h *Handler) GetFund(w http.ResponseWriter, r *http.Request) {
	fund, err := h.svc.GetFund(r.Context())
	h.respond(w, http.StatusOK, fund, err)
}

// SetDepositLockTime raises the deposit lock period
func (h *Handler) SetDepositLockTime(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Lock string `json:"lock"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	lock, err := time.ParseDuration(req.Lock)
	if err != nil {
		badRequest(w, fmt.Sprintf("invalid duration %q", req.Lock))
		return
	}
	h.respond(w, http.StatusNoContent, nil, h.svc.SetDepositLockTime(r.Context(), lock))
}

// SetCommitteeSize changes the committee size
func (h *Handler) SetCommitteeSize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Size int `json:"size"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	h.respond(w, http.StatusNoContent, nil, h.svc.SetCommitteeSize(r.Context(), req.Size))
}

// SyncInterestRate refreshes the daily rate from the central bank
func (h *Handler) SyncInterestRate(w http.ResponseWriter, r *http.Request) {
	rate, err := h.svc.SyncInterestRate(r.Context())
	h.respond(w, http.StatusOK, map[string]int64{"daily_rate": rate}, err)
}

// DistributeInterest runs one distribution batch
func (h *Handler) DistributeInterest(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.DistributeInterest(r.Context())
	h.respond(w, http.StatusOK, res, err)
}

// CreateApplication submits a loan application
func (h *Handler) CreateApplication(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount int64 `json:"amount"`
		Term   int   `json:"term"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	app, err := h.svc.CreateApplication(r.Context(), req.Amount, req.Term)
	h.respond(w, http.StatusCreated, app, err)
}

// GetApplication returns an application
func (h *Handler) GetApplication(w http.ResponseWriter, r *http.Request) {
	app, err := h.svc.GetApplication(r.Context(), pathID(r))
	h.respond(w, http.StatusOK, app, err)
}

// ApproveApplication approves an application
func (h *Handler) ApproveApplication(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ApprovedAmount int64 `json:"approved_amount"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	app, err := h.svc.ApproveApplication(r.Context(), pathID(r), req.ApprovedAmount)
	h.respond(w, http.StatusOK, app, err)
}

// DeclineApplication declines an application
func (h *Handler) DeclineApplication(w http.ResponseWriter, r *http.Request) {
	app, err := h.svc.DeclineApplication(r.Context(), pathID(r))
	h.respond(w, http.StatusOK, app, err)
}

// RequestMoreProof asks the borrower for more documents
func (h *Handler) RequestMoreProof(w http.ResponseWriter, r *http.Request) {
	app, err := h.svc.RequestMoreProof(r.Context(), pathID(r))
	h.respond(w, http.StatusOK, app, err)
}

// ProvideMoreProof returns an application to review
func (h *Handler) ProvideMoreProof(w http.ResponseWriter, r *http.Request) {
	app, err := h.svc.ProvideMoreProof(r.Context(), pathID(r))
	h.respond(w, http.StatusOK, app, err)
}

// GrantLoan disburses the loan of an approved application
func (h *Handler) GrantLoan(w http.ResponseWriter, r *http.Request) {
	loan, err := h.svc.GrantLoan(r.Context(), pathID(r))
	h.respond(w, http.StatusCreated, loan, err)
}

// GetLoan returns a loan
func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	loan, err := h.svc.GetLoan(r.Context(), pathID(r))
	h.respond(w, http.StatusOK, loan, err)
}

// QuoteRepayment returns the minimum payment of the next installment
func (h *Handler) QuoteRepayment(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.QuoteRepayment(r.Context(), pathID(r))
	h.respond(w, http.StatusOK, rep, err)
}

// RepayLoan applies a repayment
func (h *Handler) RepayLoan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Payment int64 `json:"payment"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	rep, err := h.svc.RepayLoan(r.Context(), pathID(r), req.Payment)
	h.respond(w, http.StatusOK, rep, err)
}

// CreateBallot opens a ballot
func (h *Handler) CreateBallot(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ApplicationID int64  `json:"application_id"`
		Borrower      string `json:"borrower"`
		VotingWindow  string `json:"voting_window"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	window, err := time.ParseDuration(req.VotingWindow)
	if err != nil {
		badRequest(w, fmt.Sprintf("invalid duration %q", req.VotingWindow))
		return
	}
	ballot, err := h.svc.CreateBallot(r.Context(), req.ApplicationID, req.Borrower, window)
	h.respond(w, http.StatusCreated, ballot, err)
}

// GetBallot returns a ballot
func (h *Handler) GetBallot(w http.ResponseWriter, r *http.Request) {
	ballot, err := h.svc.GetBallot(r.Context(), pathID(r))
	h.respond(w, http.StatusOK, ballot, err)
}

// ListVoters returns the committee of a ballot
func (h *Handler) ListVoters(w http.ResponseWriter, r *http.Request) {
	voters, err := h.svc.ListVoters(r.Context(), pathID(r))
	h.respond(w, http.StatusOK, voters, err)
}

// RequestCommittee starts committee selection
func (h *Handler) RequestCommittee(w http.ResponseWriter, r *http.Request) {
	req, err := h.svc.RequestCommitteeSelection(r.Context(), pathID(r))
	h.respond(w, http.StatusAccepted, req, err)
}

// Vote records a committee vote
func (h *Handler) Vote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Confirm bool `json:"confirm"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	ballot, err := h.svc.Vote(r.Context(), pathID(r), req.Confirm)
	h.respond(w, http.StatusOK, ballot, err)
}

// FinalizeBallot closes a ballot
func (h *Handler) FinalizeBallot(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.svc.FinalizeBallot(r.Context(), pathID(r))
	h.respond(w, http.StatusOK, map[string]models.BallotOutcome{"outcome": outcome}, err)
}

// DeliverRandomness accepts a value from an external oracle
func (h *Handler) DeliverRandomness(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value string `json:"value"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	raw, err := hex.DecodeString(req.Value)
	if err != nil || len(raw) != 32 {
		badRequest(w, "value must be 32 hex-encoded bytes")
		return
	}
	var value [32]byte
	copy(value[:], raw)
	h.respond(w, http.StatusNoContent, nil, h.svc.DeliverRandomness(r.Context(), mux.Vars(r)["request"], value))
}

// GetRandomnessCredit returns the prepaid randomness credit
func (h *Handler) GetRandomnessCredit(w http.ResponseWriter, r *http.Request) {
	credit, err := h.svc.RandomnessCredit()
	h.respond(w, http.StatusOK, map[string]int64{"credit": credit}, err)
}

// TopUpRandomness adds prepaid randomness credit
func (h *Handler) TopUpRandomness(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount int64 `json:"amount"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	credit, err := h.svc.TopUpRandomness(r.Context(), req.Amount)
	h.respond(w, http.StatusOK, map[string]int64{"credit": credit}, err)
}

// GetMembership reports whether a member is enrolled
func (h *Handler) GetMembership(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["member"]
	ok, err := h.svc.IsMember(r.Context(), id)
	h.respond(w, http.StatusOK, map[string]interface{}{"member": id, "enrolled": ok}, err)
}

// AddMember enrolls a member
func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	member, err := h.svc.AddMember(r.Context(), req.ID)
	h.respond(w, http.StatusCreated, member, err)
}

// RemoveMember removes a member
func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusNoContent, nil, h.svc.RemoveMember(r.Context(), mux.Vars(r)["member"]))
}

// GrantRole grants a role
func (h *Handler) GrantRole(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	h.respond(w, http.StatusNoContent, nil, h.svc.GrantRole(r.Context(), vars["member"], models.Role(vars["role"])))
}

// RevokeRole revokes a role
func (h *Handler) RevokeRole(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	h.respond(w, http.StatusNoContent, nil, h.svc.RevokeRole(r.Context(), vars["member"], models.Role(vars["role"])))
}

func pathID(r *http.Request) int64 {
	// The route pattern guarantees digits; overflow yields zero, which is never an id
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func (h *Handler) respond(w http.ResponseWriter, status int, body interface{}, err error) {
	if err != nil {
		h.fail(w, err)
		return
	}
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, body)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if appErr, ok := apperr.As(err); ok {
		writeJSON(w, appErr.HTTPStatus(), errorBody(appErr.Code, appErr.Message))
		return
	}
	h.log.Errorf("Request failed: %v", err)
	writeJSON(w, http.StatusInternalServerError, errorBody("Internal", "internal error"))
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody("BadRequest", msg))
}

func errorBody(code, message string) map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]string{"code": code, "message": message},
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument counts requests per route template and status
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.RecordHTTPRequest(route, strconv.Itoa(rec.status))
	})
}
