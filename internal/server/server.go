// Package server exposes the HTTP surface: session lifecycle, gift exchange,
// balance reads, the top-up callback, and payout administration.
package server

import (
	"github.com/gin-gonic/gin"
	earningsdomain "github.com/lumacallabs/lumacall/internal/earnings/domain"
	giftdomain "github.com/lumacallabs/lumacall/internal/gift/domain"
	ledgerdomain "github.com/lumacallabs/lumacall/internal/ledger/domain"
	payoutdomain "github.com/lumacallabs/lumacall/internal/payout/domain"
	sessiondomain "github.com/lumacallabs/lumacall/internal/session/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Server struct {
	log *zap.Logger
	db  *gorm.DB

	ledgerSvc   ledgerdomain.Service
	sessionSvc  sessiondomain.Service
	giftSvc     giftdomain.Service
	earningsSvc earningsdomain.Service
	payoutSvc   payoutdomain.Service
}

type Param struct {
	fx.In

	Log *zap.Logger
	DB  *gorm.DB

	LedgerSvc   ledgerdomain.Service
	SessionSvc  sessiondomain.Service
	GiftSvc     giftdomain.Service
	EarningsSvc earningsdomain.Service
	PayoutSvc   payoutdomain.Service
}

func NewServer(p Param) *Server {
	return &Server{
		log: p.Log.Named("server"),
		db:  p.DB,

		ledgerSvc:   p.LedgerSvc,
		sessionSvc:  p.SessionSvc,
		giftSvc:     p.GiftSvc,
		earningsSvc: p.EarningsSvc,
		payoutSvc:   p.PayoutSvc,
	}
}

func (s *Server) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", s.Healthz)

	v1 := router.Group("/v1")
	{
		v1.POST("/sessions", s.CreateSession)
		v1.GET("/sessions/:id", s.GetSession)
		v1.POST("/sessions/:id/call", s.StartCall)
		v1.POST("/sessions/:id/match", s.MatchSession)
		v1.POST("/sessions/:id/answer", s.AnswerSession)
		v1.POST("/sessions/:id/reject", s.RejectSession)
		v1.POST("/sessions/:id/cancel", s.CancelSession)
		v1.POST("/sessions/:id/end", s.EndSession)
		v1.POST("/sessions/:id/second-peer", s.InviteSecondPeer)
		v1.POST("/sessions/:id/second-peer/respond", s.RespondSecondPeer)

		v1.POST("/gifts", s.RequestGift)
		v1.GET("/gifts/:id", s.GetGift)
		v1.POST("/gifts/:id/accept", s.AcceptGift)
		v1.POST("/gifts/:id/reject", s.RejectGift)

		v1.GET("/balances/:user_id", s.GetBalance)
		v1.GET("/balances/:user_id/entries", s.ListLedgerEntries)
		v1.POST("/balances/:user_id/verify", s.VerifyBalance)
		v1.POST("/purchases/callback", s.PurchaseCallback)

		v1.GET("/payees/:payee_id/earnings", s.ListEarnings)
		v1.GET("/payees/:payee_id/payouts", s.ListPayouts)
		v1.POST("/payouts/run", s.RunPayouts)
		v1.POST("/payout-batches/:id/paid", s.MarkPayoutPaid)
	}
}
