package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/bwmarrin/snowflake"
	"github.com/lumacallabs/lumacall/internal/clock"
	"github.com/lumacallabs/lumacall/internal/config"
	earningsdomain "github.com/lumacallabs/lumacall/internal/earnings/domain"
	"github.com/lumacallabs/lumacall/internal/earnings/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID   *snowflake.Node
	repo    *repository.Repository
	clock   clock.Clock
	billing config.BillingConfig
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Cfg   config.Config
}

func NewService(p ServiceParam) earningsdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("earnings.service"),

		genID:   p.GenID,
		repo:    repository.NewRepository(p.DB),
		clock:   p.Clock,
		billing: p.Cfg.Billing,
	}
}

func (s *Service) AggregateSession(ctx context.Context, sessionID snowflake.ID) (*earningsdomain.EarningsRecord, error) {
	session, err := s.repo.GetSessionRow(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil || session.Status != "ended" || session.StartedAt == nil || session.EndedAt == nil {
		return nil, earningsdomain.ErrSessionNotEnded
	}

	payeeID := resolvePayee(session)
	if payeeID == 0 {
		return nil, earningsdomain.ErrNoPayee
	}

	checksum := buildChecksum("session", sessionID.String())

	var out *earningsdomain.EarningsRecord
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repoTx := repository.NewRepository(tx)

		existing, err := repoTx.FindByChecksum(ctx, checksum)
		if err != nil {
			return err
		}
		if existing != nil {
			out = existing
			return nil
		}

		ticks, err := repoTx.SumSessionTicks(ctx, sessionID)
		if err != nil {
			return err
		}
		gifts, err := repoTx.SumRoomGifts(ctx, session.RoomToken, *session.StartedAt, *session.EndedAt)
		if err != nil {
			return err
		}

		// The fee applies only to the purchase-funded slice of the metered
		// charge; gift-funded coins were already fee'd on their way in.
		fee := ticks.PurchasedCents * s.billing.ProcessingFeePercent / 100
		netTime := ticks.ChargedCents - fee
		payeeTime := netTime * s.billing.PayeeSharePercent / 100

		record := &earningsdomain.EarningsRecord{
			ID:            s.genID.Generate(),
			PayeeID:       payeeID,
			CounterpartID: session.CallerID,
			SourceType:    earningsdomain.SourceMeteredSession,
			SessionRef:    &session.ID,

			SessionDurationSeconds: int64(session.EndedAt.Sub(*session.StartedAt).Seconds()),
			GrossTimeCents:         ticks.ChargedCents,
			GrossGiftCents:         gifts.GrossCents,
			ProcessingFeeCents:     fee,
			TimeShareCents:         payeeTime,
			GiftShareCents:         gifts.RecipientCents,
			PayeeShareCents:        payeeTime + gifts.RecipientCents,
			PlatformShareCents:     (netTime - payeeTime) + gifts.PlatformCents,

			EarnedAt:  *session.EndedAt,
			Checksum:  checksum,
			CreatedAt: s.clock.Now(),
		}
		if err := repoTx.Insert(ctx, record); err != nil {
			return err
		}
		out = record
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("session earnings aggregated",
		zap.String("session_id", sessionID.String()),
		zap.String("payee_id", out.PayeeID.String()),
		zap.Int64("payee_share_cents", out.PayeeShareCents))
	return out, nil
}

func (s *Service) RecordDirectGift(ctx context.Context, tx *gorm.DB, gift earningsdomain.DirectGiftEarning) (*earningsdomain.EarningsRecord, error) {
	repoTx := repository.NewRepository(tx)
	checksum := buildChecksum("gift", gift.GiftID.String())

	existing, err := repoTx.FindByChecksum(ctx, checksum)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	giftID := gift.GiftID
	record := &earningsdomain.EarningsRecord{
		ID:            s.genID.Generate(),
		PayeeID:       gift.PayeeID,
		CounterpartID: gift.CounterpartID,
		SourceType:    earningsdomain.SourceDirectGift,
		GiftRef:       &giftID,

		GrossGiftCents:     gift.GrossCents,
		GiftShareCents:     gift.PayeeCents,
		PayeeShareCents:    gift.PayeeCents,
		PlatformShareCents: gift.PlatformCents,

		EarnedAt:  gift.AcceptedAt,
		Checksum:  checksum,
		CreatedAt: s.clock.Now(),
	}
	if err := repoTx.Insert(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *Service) ListByPayee(ctx context.Context, payeeID snowflake.ID) ([]earningsdomain.EarningsRecord, error) {
	return s.repo.ListByPayee(ctx, payeeID)
}

func resolvePayee(session *repository.SessionRow) snowflake.ID {
	if session.CallerID != session.InitiatorID {
		return session.InitiatorID
	}
	if session.PrimaryPeerID != nil {
		return *session.PrimaryPeerID
	}
	return 0
}

func buildChecksum(kind, ref string) string {
	sum := sha256.Sum256([]byte(kind + "|" + ref))
	return hex.EncodeToString(sum[:])
}
