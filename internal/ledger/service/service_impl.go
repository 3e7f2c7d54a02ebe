package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/lumacallabs/lumacall/internal/clock"
	"github.com/lumacallabs/lumacall/internal/config"
	"github.com/lumacallabs/lumacall/internal/events"
	ledgerdomain "github.com/lumacallabs/lumacall/internal/ledger/domain"
	"github.com/lumacallabs/lumacall/internal/ledger/repository"
	dbpkg "github.com/lumacallabs/lumacall/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID     *snowflake.Node
	repo      ledgerdomain.Repository
	clock     clock.Clock
	publisher *events.Publisher
	billing   config.BillingConfig
}

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Publisher *events.Publisher
	Cfg       config.Config
}

func NewService(p ServiceParam) ledgerdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("ledger.service"),

		genID:     p.GenID,
		repo:      repository.NewRepository(p.DB),
		clock:     p.Clock,
		publisher: p.Publisher,
		billing:   p.Cfg.Billing,
	}
}

func (s *Service) GetBalance(ctx context.Context, userID snowflake.ID) (*ledgerdomain.Balance, error) {
	balance, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return &ledgerdomain.Balance{UserID: userID}, nil
	}
	return balance, nil
}

func (s *Service) ListEntries(ctx context.Context, userID snowflake.ID) ([]ledgerdomain.LedgerEntry, error) {
	return s.repo.ListEntries(ctx, userID)
}

func (s *Service) CreditPurchase(ctx context.Context, userID snowflake.ID, amountCents int64, reference string) (*ledgerdomain.LedgerEntry, error) {
	if amountCents <= 0 || reference == "" {
		return nil, ledgerdomain.ErrInvalidAmount
	}

	var out ledgerdomain.LedgerEntry
	err := dbpkg.WithRetry(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			repoTx := repository.NewRepository(tx)

			existing, err := repoTx.FindEntryByReference(ctx, userID, ledgerdomain.SourcePurchase, reference)
			if err != nil {
				return err
			}
			if existing != nil {
				// Provider retried delivery; the original credit stands.
				out = *existing
				return nil
			}

			balance, err := repoTx.GetForUpdate(ctx, userID)
			if err != nil {
				return err
			}
			if balance.Frozen {
				return ledgerdomain.ErrLedgerFrozen
			}

			now := s.clock.Now()
			balance.ApplyPurchase(amountCents, now)
			if err := repoTx.Save(ctx, balance); err != nil {
				return err
			}

			out = ledgerdomain.LedgerEntry{
				ID:                s.genID.Generate(),
				UserID:            userID,
				Kind:              ledgerdomain.EntryKindPurchased,
				DeltaCents:        amountCents,
				USDCents:          ledgerdomain.USDEquivalentCents(amountCents, s.billing.USDCentsPerHundredCoins),
				Source:            ledgerdomain.SourcePurchase,
				ReferenceID:       reference,
				BalanceAfterCents: balance.AvailableCents(),
				CreatedAt:         now,
			}
			if err := repoTx.InsertEntry(ctx, out); err != nil {
				return err
			}

			return s.publisher.Publish(ctx, tx, events.EventPurchaseCredited, map[string]any{
				"user_id":      userID.String(),
				"amount_cents": amountCents,
				"reference":    reference,
			})
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("purchase credited",
		zap.String("user_id", userID.String()),
		zap.Int64("amount_cents", amountCents),
		zap.String("reference", reference))
	return &out, nil
}

func (s *Service) Debit(ctx context.Context, userID snowflake.ID, amountCents int64, source, reference string) (*ledgerdomain.DebitResult, error) {
	if amountCents <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}

	var out ledgerdomain.DebitResult
	err := dbpkg.WithRetry(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			repoTx := repository.NewRepository(tx)

			balance, err := repoTx.GetForUpdate(ctx, userID)
			if err != nil {
				return err
			}
			if balance.Frozen {
				return ledgerdomain.ErrLedgerFrozen
			}
			if balance.AvailableCents() < amountCents {
				return ledgerdomain.ErrInsufficientFunds
			}

			result, err := ApplyDebit(ctx, repoTx, s.genID, s.billing, balance, amountCents, source, reference, s.clock.Now())
			if err != nil {
				return err
			}
			out = *result
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Service) VerifyUser(ctx context.Context, userID snowflake.ID) error {
	balance, err := s.repo.Get(ctx, userID)
	if err != nil {
		return err
	}
	if balance == nil {
		return nil
	}

	total, err := s.repo.SumDeltas(ctx, userID)
	if err != nil {
		return err
	}
	if total == balance.AvailableCents() {
		return nil
	}

	s.log.Error("ledger replay mismatch, freezing balance",
		zap.String("user_id", userID.String()),
		zap.Int64("replayed_cents", total),
		zap.Int64("balance_cents", balance.AvailableCents()))
	if err := s.repo.Freeze(ctx, userID); err != nil {
		return err
	}
	return ledgerdomain.ErrBalanceMismatch
}
