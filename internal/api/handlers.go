/**
 * @description
 * HTTP handlers for the wallet-service API. Handlers decode the request, call the
 * application services with the caller's principal and render JSON. Every error goes
 * through writeServiceError so that kinds map to status codes in one place.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: URL parameters.
 * - github.com/google/uuid, github.com/shopspring/decimal: identifiers and amounts.
 * - github.com/sirupsen/logrus: structured logging.
 * - internal/app, internal/domain: services and models.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/transfa/wallet-service/internal/app"
	"github.com/transfa/wallet-service/internal/domain"
)

const maxRequestBodyBytes = 1 << 20

// Handlers holds the application services the handlers use.
type Handlers struct {
	wallets     *app.WalletService
	withdrawals *app.WithdrawalService
	profiles    *app.BankProfileService
	log         logrus.FieldLogger
}

func NewHandlers(wallets *app.WalletService, withdrawals *app.WithdrawalService, profiles *app.BankProfileService, logger logrus.FieldLogger) *Handlers {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handlers{
		wallets:     wallets,
		withdrawals: withdrawals,
		profiles:    profiles,
		log:         logger.WithField("component", "api"),
	}
}

type balanceResponse struct {
	HolderID string          `json:"holder_id"`
	Balance  decimal.Decimal `json:"balance"`
}

type ledgerRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	ReferenceID *string         `json:"reference_id,omitempty"`
}

type ledgerResponse struct {
	Wallet      *domain.Wallet            `json:"wallet"`
	Transaction *domain.WalletTransaction `json:"transaction"`
}

// GetWalletHandler returns the caller's wallet, or holder_id's for an administrator.
func (h *Handlers) GetWalletHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	wallet, err := h.wallets.ViewWallet(r.Context(), p, holderFromQuery(r, p))
	if err != nil {
		h.writeServiceError(w, r, "get_wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

func (h *Handlers) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	holderID := holderFromQuery(r, p)
	balance, err := h.wallets.ViewBalance(r.Context(), p, holderID)
	if err != nil {
		h.writeServiceError(w, r, "get_balance", err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{HolderID: holderID, Balance: balance})
}

func (h *Handlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	page, err := parsePage(r)
	if err != nil {
		h.writeServiceError(w, r, "list_transactions", err)
		return
	}
	result, err := h.wallets.ListTransactions(r.Context(), p, holderFromQuery(r, p), page)
	if err != nil {
		h.writeServiceError(w, r, "list_transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) GetAccountSummaryHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	summary, err := h.withdrawals.AccountSummary(r.Context(), p, holderFromQuery(r, p))
	if err != nil {
		h.writeServiceError(w, r, "get_summary", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handlers) CreateWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var in domain.CreateWithdrawalInput
	if !h.decode(w, r, &in) {
		return
	}
	req, err := h.withdrawals.Create(r.Context(), p, in)
	if err != nil {
		h.writeServiceError(w, r, "create_withdrawal", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h *Handlers) ListMyWithdrawalsHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	status, page, err := parseWithdrawalListQuery(r)
	if err != nil {
		h.writeServiceError(w, r, "list_withdrawals", err)
		return
	}
	result, err := h.withdrawals.ListMine(r.Context(), p, status, page)
	if err != nil {
		h.writeServiceError(w, r, "list_withdrawals", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) GetWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}
	req, err := h.withdrawals.Get(r.Context(), p, id)
	if err != nil {
		h.writeServiceError(w, r, "get_withdrawal", err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handlers) CompleteWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}
	req, err := h.withdrawals.Complete(r.Context(), p, id)
	if err != nil {
		h.writeServiceError(w, r, "complete_withdrawal", err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handlers) ListAllWithdrawalsHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	status, page, err := parseWithdrawalListQuery(r)
	if err != nil {
		h.writeServiceError(w, r, "admin_list_withdrawals", err)
		return
	}
	result, err := h.withdrawals.ListAll(r.Context(), p, status, page)
	if err != nil {
		h.writeServiceError(w, r, "admin_list_withdrawals", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) ReviewWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}
	var in domain.ReviewWithdrawalInput
	if !h.decode(w, r, &in) {
		return
	}
	req, err := h.withdrawals.Review(r.Context(), p, id, in)
	if err != nil {
		h.writeServiceError(w, r, "review_withdrawal", err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handlers) ImmediateWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var in domain.ImmediateWithdrawalInput
	if !h.decode(w, r, &in) {
		return
	}
	req, err := h.withdrawals.Immediate(r.Context(), p, in)
	if err != nil {
		h.writeServiceError(w, r, "immediate_withdrawal", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h *Handlers) ListBankProfilesHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	profiles, err := h.profiles.List(r.Context(), p)
	if err != nil {
		h.writeServiceError(w, r, "list_bank_profiles", err)
		return
	}
	if profiles == nil {
		profiles = []domain.BankProfile{}
	}
	writeJSON(w, http.StatusOK, profiles)
}

func (h *Handlers) CreateBankProfileHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var in domain.BankProfileInput
	if !h.decode(w, r, &in) {
		return
	}
	profile, err := h.profiles.Create(r.Context(), p, in)
	if err != nil {
		h.writeServiceError(w, r, "create_bank_profile", err)
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}

func (h *Handlers) GetPrimaryBankProfileHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	profile, err := h.profiles.Primary(r.Context(), p)
	if err != nil {
		h.writeServiceError(w, r, "get_primary_bank_profile", err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *Handlers) GetBankProfileHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}
	profile, err := h.profiles.Get(r.Context(), p, id)
	if err != nil {
		h.writeServiceError(w, r, "get_bank_profile", err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *Handlers) UpdateBankProfileHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}
	var in domain.BankProfileInput
	if !h.decode(w, r, &in) {
		return
	}
	profile, err := h.profiles.Update(r.Context(), p, id, in)
	if err != nil {
		h.writeServiceError(w, r, "update_bank_profile", err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *Handlers) DeleteBankProfileHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.profiles.Delete(r.Context(), p, id); err != nil {
		h.writeServiceError(w, r, "delete_bank_profile", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) SetPrimaryBankProfileHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}
	profile, err := h.profiles.SetPrimary(r.Context(), p, id)
	if err != nil {
		h.writeServiceError(w, r, "set_primary_bank_profile", err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// InternalCreditHandler credits a holder on behalf of another service.
func (h *Handlers) InternalCreditHandler(w http.ResponseWriter, r *http.Request) {
	h.internalLedger(w, r, domain.DirectionCredit)
}

// InternalDebitHandler debits a holder for operational corrections.
func (h *Handlers) InternalDebitHandler(w http.ResponseWriter, r *http.Request) {
	h.internalLedger(w, r, domain.DirectionDebit)
}

func (h *Handlers) internalLedger(w http.ResponseWriter, r *http.Request, direction domain.Direction) {
	holderID := strings.TrimSpace(chi.URLParam(r, "holderID"))
	var in ledgerRequest
	if !h.decode(w, r, &in) {
		return
	}

	apply := h.wallets.Credit
	if direction == domain.DirectionDebit {
		apply = h.wallets.Debit
	}
	wallet, txn, err := apply(r.Context(), holderID, in.Amount, in.Description, in.ReferenceID)
	if err != nil {
		h.writeServiceError(w, r, "internal_"+string(direction), err)
		return
	}
	h.log.WithFields(logrus.Fields{
		"holder_id":      holderID,
		"direction":      direction,
		"transaction_id": txn.ID,
	}).Info("internal ledger entry applied")
	writeJSON(w, http.StatusCreated, ledgerResponse{Wallet: wallet, Transaction: txn})
}

// principal fetches the caller set by the auth middleware.
func (h *Handlers) principal(w http.ResponseWriter, r *http.Request) (domain.Principal, bool) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "Could not get caller from context")
		return domain.Principal{}, false
	}
	return p, true
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, string(domain.KindInvalidArgument), "Invalid request body")
		return false
	}
	return true
}

func (h *Handlers) pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, string(domain.KindInvalidArgument), "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// holderFromQuery returns the holder_id query parameter, defaulting to the caller.
func holderFromQuery(r *http.Request, p domain.Principal) string {
	if holderID := strings.TrimSpace(r.URL.Query().Get("holder_id")); holderID != "" {
		return holderID
	}
	return p.ID
}

func parsePage(r *http.Request) (domain.Page, error) {
	q := r.URL.Query()
	page, err := parseOptionalPositiveInt(q.Get("page"), 1)
	if err != nil {
		return domain.Page{}, domain.WrapError(domain.KindInvalidArgument, "invalid page", err)
	}
	if page > domain.MaxPage {
		return domain.Page{}, domain.NewError(domain.KindInvalidArgument, fmt.Sprintf("invalid page: must be <= %d", domain.MaxPage))
	}
	limit, err := parseOptionalPositiveInt(q.Get("limit"), domain.DefaultPageLimit)
	if err != nil {
		return domain.Page{}, domain.WrapError(domain.KindInvalidArgument, "invalid limit", err)
	}
	return domain.Page{Page: page, Limit: limit}.Normalize(), nil
}

func parseWithdrawalListQuery(r *http.Request) (*domain.WithdrawalStatus, domain.Page, error) {
	page, err := parsePage(r)
	if err != nil {
		return nil, domain.Page{}, err
	}
	raw := strings.TrimSpace(r.URL.Query().Get("status"))
	if raw == "" {
		return nil, page, nil
	}
	status, err := domain.ParseWithdrawalStatus(raw)
	if err != nil {
		return nil, domain.Page{}, err
	}
	return &status, page, nil
}

func parseOptionalPositiveInt(raw string, defaultValue int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if value < 1 {
		return 0, errors.New("must be > 0")
	}
	return value, nil
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}
