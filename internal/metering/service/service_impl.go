package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lumacallabs/lumacall/internal/clock"
	"github.com/lumacallabs/lumacall/internal/config"
	earningsdomain "github.com/lumacallabs/lumacall/internal/earnings/domain"
	"github.com/lumacallabs/lumacall/internal/events"
	ledgerdomain "github.com/lumacallabs/lumacall/internal/ledger/domain"
	ledgerrepo "github.com/lumacallabs/lumacall/internal/ledger/repository"
	ledgerservice "github.com/lumacallabs/lumacall/internal/ledger/service"
	meteringdomain "github.com/lumacallabs/lumacall/internal/metering/domain"
	sessiondomain "github.com/lumacallabs/lumacall/internal/session/domain"
	sessionrepo "github.com/lumacallabs/lumacall/internal/session/repository"
	dbpkg "github.com/lumacallabs/lumacall/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type TickResult struct {
	Tick    *meteringdomain.ConsumptionTick
	Session *sessiondomain.Session
	Ended   bool
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID     *snowflake.Node
	clock     clock.Clock
	publisher *events.Publisher
	earnings  earningsdomain.Service
	billing   config.BillingConfig
}

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Publisher *events.Publisher
	Earnings  earningsdomain.Service
	Cfg       config.Config
}

func NewService(p ServiceParam) *Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("metering.service"),

		genID:     p.GenID,
		clock:     p.Clock,
		publisher: p.Publisher,
		earnings:  p.Earnings,
		billing:   p.Cfg.Billing,
	}
}

// Tick charges one session for the time elapsed since its last charge. seq
// must be the next-expected sequence for the session; a stale value is
// discarded. The balance mutation, the tick record, and (on exhausted funds)
// the session termination commit atomically.
func (s *Service) Tick(ctx context.Context, sessionID snowflake.ID, seq int64) (*TickResult, error) {
	var out TickResult

	err := dbpkg.WithRetry(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			sessions := sessionrepo.NewRepository(tx)
			ledgers := ledgerrepo.NewRepository(tx)

			session, err := sessions.GetForUpdate(ctx, sessionID)
			if err != nil {
				return err
			}
			if session == nil {
				return sessiondomain.ErrSessionNotFound
			}
			if session.Status != sessiondomain.StatusActive || !session.IsConsuming {
				return meteringdomain.ErrNotConsuming
			}
			if seq != session.ConsumeSeq+1 {
				return meteringdomain.ErrStaleTick
			}

			now := s.clock.Now()
			anchor := session.StartedAt
			if session.LastChargedAt != nil {
				anchor = session.LastChargedAt
			}
			elapsed := int64(now.Sub(*anchor).Seconds())
			due := meteringdomain.DueCents(elapsed, s.billing.RatePerMinuteCents)
			if due <= 0 {
				out.Session = session
				return nil
			}

			balance, err := ledgers.GetForUpdate(ctx, session.CallerID)
			if err != nil {
				return err
			}
			if balance.Frozen {
				return ledgerdomain.ErrLedgerFrozen
			}

			available := balance.AvailableCents()
			charge := due
			exhausted := available < due
			if exhausted {
				charge = available
			}

			tick := meteringdomain.ConsumptionTick{
				ID:             s.genID.Generate(),
				UserID:         session.CallerID,
				SessionRoom:    session.RoomToken,
				SessionRef:     session.ID,
				Seq:            seq,
				ElapsedSeconds: elapsed,
				ChargedAt:      now,
			}

			if charge > 0 {
				reference := fmt.Sprintf("%s:%d", session.RoomToken, seq)
				result, err := ledgerservice.ApplyDebit(
					ctx, ledgers, s.genID, s.billing, balance,
					charge, ledgerdomain.SourceConsumption, reference, now,
				)
				if err != nil {
					return err
				}
				tick.CoinsChargedCents = charge
				tick.GiftCoinsUsedCents = result.GiftUsedCents
				tick.PurchasedCoinsUsedCents = result.PurchasedUsedCents
				tick.BalanceAfterCents = result.BalanceAfterCents
			}

			if err := tx.WithContext(ctx).Create(&tick).Error; err != nil {
				if isUniqueViolation(err) {
					return meteringdomain.ErrDuplicateTick
				}
				return err
			}

			// Re-anchor at the whole second actually charged; the truncated
			// fraction stays in the next tick's window instead of vanishing.
			chargedThrough := anchor.Add(time.Duration(elapsed) * time.Second)
			session.ConsumeSeq = seq
			session.LastChargedAt = &chargedThrough
			session.UpdatedAt = now

			if exhausted {
				session.Status = sessiondomain.StatusEnded
				session.EndedAt = &now
				session.EndReason = sessiondomain.EndReasonInsufficientFunds
				session.IsConsuming = false
				out.Ended = true
			}
			if err := sessions.Save(ctx, session); err != nil {
				return err
			}

			out.Tick = &tick
			out.Session = session

			if !out.Ended {
				return nil
			}
			return s.publisher.Publish(ctx, tx, events.EventSessionEnded, map[string]any{
				"session_id": session.ID.String(),
				"room":       session.RoomToken,
				"reason":     sessiondomain.EndReasonInsufficientFunds,
			})
		})
	})
	if err != nil {
		return nil, err
	}

	if out.Ended {
		if _, err := s.earnings.AggregateSession(ctx, sessionID); err != nil {
			s.log.Error("earnings aggregation after exhausted funds failed",
				zap.Error(err),
				zap.String("session_id", sessionID.String()))
		}
	}
	return &out, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
