package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printdesk/internal/api/middleware"
	"github.com/orrn/printdesk/internal/ledger"
)

type AmountRequest struct {
	Amount *int64 `json:"amount" binding:"required"`
}

type LedgerResponse struct {
	Success bool   `json:"success"`
	Balance int64  `json:"balance"`
	Error   string `json:"error,omitempty"`
}

type WalletHandler struct {
	ledger *ledger.Ledger
}

func NewWalletHandler(l *ledger.Ledger) *WalletHandler {
	return &WalletHandler{ledger: l}
}

func (h *WalletHandler) Balance(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"balance": h.ledger.GetBalance(middleware.AccountKey(c))})
}

// Deduct debits the caller. Insufficient funds is a normal outcome reported
// with status 200, success=false and the unchanged balance.
func (h *WalletHandler) Deduct(c *gin.Context) {
	account := middleware.AccountKey(c)

	var req AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, LedgerResponse{Balance: h.ledger.GetBalance(account), Error: "amount is required"})
		return
	}

	balance, ok, err := h.ledger.Debit(c.Request.Context(), account, *req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, LedgerResponse{Balance: balance, Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, debitResponse(balance, ok))
}

// debitResponse reports insufficient funds as an unsuccessful result, not an
// HTTP error.
func debitResponse(balance int64, ok bool) LedgerResponse {
	resp := LedgerResponse{Success: ok, Balance: balance}
	if !ok {
		resp.Error = ledger.ErrInsufficientFunds.Error()
	}
	return resp
}

func (h *WalletHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/balance", h.Balance)
	r.POST("/deduct", h.Deduct)
}
