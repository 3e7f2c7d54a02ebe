package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	giftdomain "github.com/lumacallabs/lumacall/internal/gift/domain"
)

type requestGiftRequest struct {
	RequesterID snowflake.ID `json:"requester_id" binding:"required"`
	PayerID     snowflake.ID `json:"payer_id" binding:"required"`
	GiftID      snowflake.ID `json:"gift_id" binding:"required"`
	AmountCents int64        `json:"amount_cents" binding:"required"`
	Room        string       `json:"room"`
}

func (s *Server) RequestGift(c *gin.Context) {
	var req requestGiftRequest
	if !bindJSON(c, &req) {
		return
	}

	request, err := s.giftSvc.Request(c.Request.Context(), giftdomain.RequestGift{
		RequesterID: req.RequesterID,
		PayerID:     req.PayerID,
		GiftID:      req.GiftID,
		AmountCents: req.AmountCents,
		Room:        strings.TrimSpace(req.Room),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, request)
}

func (s *Server) GetGift(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	request, err := s.giftSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, request)
}

type giftDecisionRequest struct {
	PayerID snowflake.ID `json:"payer_id" binding:"required"`
	Reason  string       `json:"reason"`
}

func (s *Server) AcceptGift(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req giftDecisionRequest
	if !bindJSON(c, &req) {
		return
	}

	request, err := s.giftSvc.Accept(c.Request.Context(), id, req.PayerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, request)
}

func (s *Server) RejectGift(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req giftDecisionRequest
	if !bindJSON(c, &req) {
		return
	}

	request, err := s.giftSvc.Reject(c.Request.Context(), id, req.PayerID, req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, request)
}
