package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

func (s *Server) GetBalance(c *gin.Context) {
	userID, ok := parseID(c, "user_id")
	if !ok {
		return
	}
	balance, err := s.ledgerSvc.GetBalance(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, balance)
}

func (s *Server) ListLedgerEntries(c *gin.Context) {
	userID, ok := parseID(c, "user_id")
	if !ok {
		return
	}
	entries, err := s.ledgerSvc.ListEntries(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, entries)
}

// VerifyBalance replays the entry log. A mismatch freezes the balance and
// surfaces as 409 so the operator knows reconciliation is needed.
func (s *Server) VerifyBalance(c *gin.Context) {
	userID, ok := parseID(c, "user_id")
	if !ok {
		return
	}
	if err := s.ledgerSvc.VerifyUser(c.Request.Context(), userID); err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, gin.H{"status": "verified"})
}

type purchaseCallbackRequest struct {
	UserID      snowflake.ID `json:"user_id" binding:"required"`
	AmountCents int64        `json:"amount_cents" binding:"required"`
	Reference   string       `json:"reference" binding:"required"`
}

// PurchaseCallback is the payment provider's completion hook. Replays with
// the same reference return the original entry.
func (s *Server) PurchaseCallback(c *gin.Context) {
	var req purchaseCallbackRequest
	if !bindJSON(c, &req) {
		return
	}

	entry, err := s.ledgerSvc.CreditPurchase(c.Request.Context(), req.UserID, req.AmountCents, strings.TrimSpace(req.Reference))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, entry)
}
