package hrest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/domain"
	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/gateway"
	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/usecase"
	"github.com/Barsmiko1/papaymoni-middleware-sub000/pkg/response"
	xerrors "github.com/Barsmiko1/papaymoni-middleware-sub000/pkg/xerrors"
)

type SettlementRestHandler struct {
	walletUC     *usecase.WalletUsecase
	depositUC    *usecase.DepositUsecase
	withdrawalUC *usecase.WithdrawalUsecase
	transferUC   *usecase.TransferUsecase
	accountUC    *usecase.AccountUsecase
}

func NewSettlementRestHandler(
	walletUC *usecase.WalletUsecase,
	depositUC *usecase.DepositUsecase,
	withdrawalUC *usecase.WithdrawalUsecase,
	transferUC *usecase.TransferUsecase,
	accountUC *usecase.AccountUsecase,
) *SettlementRestHandler {
	return &SettlementRestHandler{
		walletUC:     walletUC,
		depositUC:    depositUC,
		withdrawalUC: withdrawalUC,
		transferUC:   transferUC,
		accountUC:    accountUC,
	}
}

func (h *SettlementRestHandler) RegisterRoutes(r chi.Router) {
	r.Route("/settlement", func(r chi.Router) {
		r.Post("/webhooks/deposit", h.DepositWebhook)
		r.Post("/webhooks/payout", h.PayoutWebhook)

		r.Post("/withdrawals", h.RequestWithdrawal)
		r.Post("/transfers", h.Transfer)
		r.Post("/exchange", h.Exchange)
		r.Post("/accounts", h.ProvisionAccount)

		r.Get("/wallets/{userID}/{currency}", h.GetBalance)
		r.Post("/wallets/{userID}/{currency}/freeze", h.Freeze)
		r.Post("/wallets/{userID}/{currency}/unfreeze", h.Unfreeze)
	})
}

// ===============================
// Webhooks
// ===============================

func (h *SettlementRestHandler) DepositWebhook(w http.ResponseWriter, r *http.Request) {
	var ev domain.DepositEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}

	rec, err := h.depositUC.HandleDeposit(r.Context(), &ev)
	if err != nil {
		writeError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, rec)
}

func (h *SettlementRestHandler) PayoutWebhook(w http.ResponseWriter, r *http.Request) {
	var ev domain.PayoutEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}

	if err := h.withdrawalUC.HandlePayoutEvent(r.Context(), &ev); err != nil {
		writeError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, nil)
}

// ===============================
// Money movement
// ===============================

type WithdrawalJSON struct {
	UserID        string          `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	AccountNumber string          `json:"account_number"`
	BankCode      string          `json:"bank_code"`
	AccountName   string          `json:"account_name"`
	BVN           string          `json:"bvn"`
	DateOfBirth   string          `json:"date_of_birth"`
	Gender        string          `json:"gender"`
	PaymentMethod string          `json:"payment_method"`
}

func (h *SettlementRestHandler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var in WithdrawalJSON
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.withdrawalUC.RequestWithdrawal(r.Context(), &usecase.WithdrawalRequest{
		UserID:   in.UserID,
		Amount:   in.Amount,
		Currency: in.Currency,
		Payee: gateway.Payee{
			Name:          in.AccountName,
			AccountNumber: in.AccountNumber,
			BankCode:      in.BankCode,
		},
		Identity: gateway.IdentityQuery{
			BVN:         in.BVN,
			Name:        in.AccountName,
			DateOfBirth: in.DateOfBirth,
			Gender:      in.Gender,
		},
		PaymentMethod: in.PaymentMethod,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, rec)
}

type TransferJSON struct {
	FromUserID string          `json:"from_user_id"`
	ToUserID   string          `json:"to_user_id"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Note       string          `json:"note"`
}

func (h *SettlementRestHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var in TransferJSON
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.transferUC.Transfer(r.Context(), in.FromUserID, in.ToUserID, in.Amount, in.Currency, in.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, rec)
}

type ExchangeJSON struct {
	UserID       string          `json:"user_id"`
	Amount       decimal.Decimal `json:"amount"`
	FromCurrency string          `json:"from_currency"`
	ToCurrency   string          `json:"to_currency"`
	Rate         decimal.Decimal `json:"rate"`
}

func (h *SettlementRestHandler) Exchange(w http.ResponseWriter, r *http.Request) {
	var in ExchangeJSON
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.transferUC.Exchange(r.Context(), in.UserID, in.Amount, in.FromCurrency, in.ToCurrency, in.Rate)
	if err != nil {
		writeError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, rec)
}

// ===============================
// Accounts and balances
// ===============================

type ProvisionAccountJSON struct {
	UserID   string `json:"user_id"`
	Currency string `json:"currency"`
}

func (h *SettlementRestHandler) ProvisionAccount(w http.ResponseWriter, r *http.Request) {
	var in ProvisionAccountJSON
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	account, err := h.accountUC.GetOrProvision(r.Context(), in.UserID, in.Currency)
	if err != nil {
		writeError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, account)
}

func (h *SettlementRestHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	currency := chi.URLParam(r, "currency")
	if userID == "" || currency == "" {
		response.Error(w, http.StatusBadRequest, "user id and currency are required")
		return
	}

	balance, err := h.walletUC.GetBalance(r.Context(), userID, currency)
	if err != nil {
		writeError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, balance)
}

type HoldJSON struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

func (h *SettlementRestHandler) Freeze(w http.ResponseWriter, r *http.Request) {
	h.hold(w, r, h.walletUC.Freeze)
}

func (h *SettlementRestHandler) Unfreeze(w http.ResponseWriter, r *http.Request) {
	h.hold(w, r, h.walletUC.Unfreeze)
}

func (h *SettlementRestHandler) hold(w http.ResponseWriter, r *http.Request, op func(context.Context, string, string, decimal.Decimal, string) (*domain.WalletBalance, error)) {
	userID := chi.URLParam(r, "userID")
	currency := chi.URLParam(r, "currency")
	var in HoldJSON
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	balance, err := op(r.Context(), userID, currency, in.Amount, in.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, balance)
}

// writeError maps domain errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, xerrors.ErrInvalidInput), errors.Is(err, xerrors.ErrInvalidAmount):
		response.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, xerrors.ErrInsufficientFunds):
		response.Error(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, xerrors.ErrBelowMinimumDeposit):
		response.Error(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, xerrors.ErrIdentityNotVerified):
		response.Error(w, http.StatusForbidden, err.Error())
	case errors.Is(err, xerrors.ErrWalletNotFound),
		errors.Is(err, xerrors.ErrTransactionNotFound),
		errors.Is(err, xerrors.ErrOrderNotFound),
		errors.Is(err, xerrors.ErrNotFound):
		response.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, xerrors.ErrDuplicateExternalReference):
		response.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, xerrors.ErrGatewayUnavailable), errors.Is(err, xerrors.ErrGatewayTimeout):
		response.Error(w, http.StatusServiceUnavailable, err.Error())
	default:
		response.Error(w, http.StatusInternalServerError, err.Error())
	}
}
