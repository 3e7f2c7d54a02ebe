package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/lumacallabs/lumacall/internal/clock"
	"github.com/lumacallabs/lumacall/internal/config"
	earningsdomain "github.com/lumacallabs/lumacall/internal/earnings/domain"
	"github.com/lumacallabs/lumacall/internal/events"
	giftdomain "github.com/lumacallabs/lumacall/internal/gift/domain"
	"github.com/lumacallabs/lumacall/internal/gift/repository"
	ledgerdomain "github.com/lumacallabs/lumacall/internal/ledger/domain"
	ledgerrepo "github.com/lumacallabs/lumacall/internal/ledger/repository"
	ledgerservice "github.com/lumacallabs/lumacall/internal/ledger/service"
	dbpkg "github.com/lumacallabs/lumacall/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID     *snowflake.Node
	repo      *repository.Repository
	clock     clock.Clock
	publisher *events.Publisher
	earnings  earningsdomain.Service
	billing   config.BillingConfig
	ttl       config.SchedulerConfig
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

func NewService(p ServiceParam) giftdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("gift.service"),

		genID:     p.GenID,
		repo:      repository.NewRepository(p.DB),
		clock:     p.Clock,
		publisher: p.Publisher,
		earnings:  p.Earnings,
		billing:   p.Cfg.Billing,
		ttl:       p.Cfg.Scheduler,
	}
}

func (s *Service) Request(ctx context.Context, req giftdomain.RequestGift) (*giftdomain.GiftRequest, error) {
	if req.AmountCents <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}

	now := s.clock.Now()
	request := &giftdomain.GiftRequest{
		ID:          s.genID.Generate(),
		RequesterID: req.RequesterID,
		PayerID:     req.PayerID,
		GiftID:      req.GiftID,
		AmountCents: req.AmountCents,
		Room:        req.Room,
		Status:      giftdomain.GiftPending,
		ExpiresAt:   now.Add(s.ttl.GiftRequestTTL),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, request); err != nil {
		return nil, err
	}
	s.log.Info("gift requested",
		zap.String("gift_request_id", request.ID.String()),
		zap.String("room", req.Room),
		zap.Int64("amount_cents", req.AmountCents))
	return request, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*giftdomain.GiftRequest, error) {
	request, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, giftdomain.ErrGiftNotFound
	}
	return request, nil
}

func (s *Service) Accept(ctx context.Context, id, payerID snowflake.ID) (*giftdomain.GiftRequest, error) {
	var out *giftdomain.GiftRequest

	err := dbpkg.WithRetry(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			repoTx := repository.NewRepository(tx)
			ledgers := ledgerrepo.NewRepository(tx)

			request, err := repoTx.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if request == nil {
				return giftdomain.ErrGiftNotFound
			}
			if request.Status == giftdomain.GiftAccepted {
				// Double-accept is absorbed: the transfer already happened.
				out = request
				return nil
			}
			if request.Status != giftdomain.GiftPending {
				return giftdomain.ErrInvalidState
			}
			if request.PayerID != payerID {
				return giftdomain.ErrNotPayer
			}

			now := s.clock.Now()
			if !request.ExpiresAt.After(now) {
				request.Status = giftdomain.GiftExpired
				request.UpdatedAt = now
				if err := repoTx.Save(ctx, request); err != nil {
					return err
				}
				return giftdomain.ErrGiftExpired
			}

			// Lock both balances in ID order; a tick for either user may be
			// holding one of them.
			payer, recipient, err := lockPair(ctx, ledgers, request.PayerID, request.RequesterID)
			if err != nil {
				return err
			}
			if payer.Frozen || recipient.Frozen {
				return ledgerdomain.ErrLedgerFrozen
			}

			// Gift sends draw on purchased coins only; the recipient's gift
			// pool is funded with the post-commission share.
			if payer.PurchasedCents < request.AmountCents {
				return ledgerdomain.ErrInsufficientFunds
			}

			recipientCents, platformCents := giftdomain.Split(request.AmountCents, s.billing.RecipientSharePercent)

			payer.ApplyDebit(0, request.AmountCents, now)
			if err := ledgers.Save(ctx, payer); err != nil {
				return err
			}
			if err := ledgers.InsertEntry(ctx, ledgerdomain.LedgerEntry{
				ID:                s.genID.Generate(),
				UserID:            payer.UserID,
				Kind:              ledgerdomain.EntryKindPurchased,
				DeltaCents:        -request.AmountCents,
				USDCents:          ledgerdomain.USDEquivalentCents(-request.AmountCents, s.billing.USDCentsPerHundredCoins),
				Source:            ledgerdomain.SourceGiftSend,
				ReferenceID:       request.ID.String(),
				BalanceAfterCents: payer.AvailableCents(),
				CreatedAt:         now,
			}); err != nil {
				return err
			}

			if _, err := ledgerservice.ApplyGiftCredit(
				ctx, ledgers, s.genID, s.billing, recipient,
				recipientCents, request.ID.String(), now,
			); err != nil {
				return err
			}

			request.Status = giftdomain.GiftAccepted
			request.ProcessedAt = &now
			request.SettledAmountCents = request.AmountCents
			request.RecipientShareCents = recipientCents
			request.PlatformShareCents = platformCents
			request.UpdatedAt = now
			if err := repoTx.Save(ctx, request); err != nil {
				return err
			}

			// Gifts inside a live session roll up with that session's
			// earnings at session end; anything else earns immediately.
			live, err := repoTx.HasLiveSession(ctx, request.Room)
			if err != nil {
				return err
			}
			if !live {
				if _, err := s.earnings.RecordDirectGift(ctx, tx, earningsdomain.DirectGiftEarning{
					GiftID:        request.ID,
					PayeeID:       request.RequesterID,
					CounterpartID: request.PayerID,
					GrossCents:    request.AmountCents,
					PayeeCents:    recipientCents,
					PlatformCents: platformCents,
					AcceptedAt:    now,
				}); err != nil {
					return err
				}
			}

			out = request
			return s.publisher.Publish(ctx, tx, events.EventGiftReceived, map[string]any{
				"gift_request_id": request.ID.String(),
				"recipient_id":    request.RequesterID.String(),
				"amount_cents":    recipientCents,
				"room":            request.Room,
			})
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("gift accepted",
		zap.String("gift_request_id", out.ID.String()),
		zap.Int64("recipient_share_cents", out.RecipientShareCents),
		zap.Int64("platform_share_cents", out.PlatformShareCents))
	return out, nil
}

func (s *Service) Reject(ctx context.Context, id, payerID snowflake.ID, reason string) (*giftdomain.GiftRequest, error) {
	var out *giftdomain.GiftRequest

	err := dbpkg.WithRetry(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			repoTx := repository.NewRepository(tx)
			request, err := repoTx.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if request == nil {
				return giftdomain.ErrGiftNotFound
			}
			if request.Status != giftdomain.GiftPending {
				return giftdomain.ErrInvalidState
			}
			if request.PayerID != payerID {
				return giftdomain.ErrNotPayer
			}

			now := s.clock.Now()
			request.Status = giftdomain.GiftRejected
			request.RejectionReason = reason
			request.ProcessedAt = &now
			request.UpdatedAt = now
			if err := repoTx.Save(ctx, request); err != nil {
				return err
			}
			out = request
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) ExpirePending(ctx context.Context) (int, error) {
	expired, err := s.repo.ExpirePending(ctx, s.clock.Now())
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		s.log.Info("gift requests expired", zap.Int64("count", expired))
	}
	return int(expired), nil
}

func lockPair(ctx context.Context, ledgers ledgerdomain.Repository, a, b snowflake.ID) (payer, recipient *ledgerdomain.Balance, err error) {
	first, second := a, b
	if second < first {
		first, second = second, first
	}

	firstBal, err := ledgers.GetForUpdate(ctx, first)
	if err != nil {
		return nil, nil, err
	}
	secondBal, err := ledgers.GetForUpdate(ctx, second)
	if err != nil {
		return nil, nil, err
	}

	if first == a {
		return firstBal, secondBal, nil
	}
	return secondBal, firstBal, nil
}
