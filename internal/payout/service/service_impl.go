package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lumacallabs/lumacall/internal/clock"
	"github.com/lumacallabs/lumacall/internal/config"
	earningsdomain "github.com/lumacallabs/lumacall/internal/earnings/domain"
	earningsrepo "github.com/lumacallabs/lumacall/internal/earnings/repository"
	"github.com/lumacallabs/lumacall/internal/events"
	payoutdomain "github.com/lumacallabs/lumacall/internal/payout/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID     *snowflake.Node
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

func NewService(p ServiceParam) payoutdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("payout.service"),

		genID:     p.GenID,
		clock:     p.Clock,
		publisher: p.Publisher,
		billing:   p.Cfg.Billing,
	}
}

func (s *Service) RunWeek(ctx context.Context, weekStart time.Time) ([]payoutdomain.PayoutBatch, error) {
	start := weekStart.UTC().Truncate(24 * time.Hour)
	return s.RunPeriod(ctx, start, start.AddDate(0, 0, 7))
}

func (s *Service) RunPeriod(ctx context.Context, periodStart, periodEnd time.Time) ([]payoutdomain.PayoutBatch, error) {
	// Everything unbatched up to the period end is in scope, including
	// sub-threshold leftovers from earlier periods. The read is a snapshot
	// outside the per-payee transactions; the payout_batch_id IS NULL guard
	// on attach keeps a racing aggregation from being double-settled.
	unsettled, err := earningsrepo.NewRepository(s.db).ListUnsettled(ctx, periodEnd)
	if err != nil {
		return nil, err
	}
	if len(unsettled) == 0 {
		return nil, nil
	}

	byPayee := make(map[snowflake.ID][]earningsdomain.EarningsRecord)
	for _, record := range unsettled {
		byPayee[record.PayeeID] = append(byPayee[record.PayeeID], record)
	}

	var batches []payoutdomain.PayoutBatch
	for payeeID, records := range byPayee {
		var total, timeTotal, giftTotal int64
		ids := make([]snowflake.ID, 0, len(records))
		for _, record := range records {
			total += record.PayeeShareCents
			timeTotal += record.TimeShareCents
			giftTotal += record.GiftShareCents
			ids = append(ids, record.ID)
		}
		if total < s.billing.MinimumPayoutCents {
			// Below threshold: the rows stay unbatched and the next run
			// picks them up again.
			continue
		}

		batch, err := s.createBatch(ctx, payeeID, periodStart, periodEnd, total, timeTotal, giftTotal, ids)
		if err != nil {
			return batches, err
		}
		if batch != nil {
			batches = append(batches, *batch)
		}
	}
	return batches, nil
}

func (s *Service) createBatch(
	ctx context.Context,
	payeeID snowflake.ID,
	periodStart, periodEnd time.Time,
	total, timeTotal, giftTotal int64,
	recordIDs []snowflake.ID,
) (*payoutdomain.PayoutBatch, error) {
	var out *payoutdomain.PayoutBatch

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing payoutdomain.PayoutBatch
		err := tx.WithContext(ctx).
			Where("payee_id = ? AND period_start = ?", payeeID, periodStart).
			First(&existing).Error
		if err == nil {
			// A previous run already settled this payee for the period.
			return nil
		}
		if err != gorm.ErrRecordNotFound {
			return err
		}

		batch := payoutdomain.PayoutBatch{
			ID:          s.genID.Generate(),
			PayeeID:     payeeID,
			PeriodStart: periodStart,
			PeriodEnd:   periodEnd,

			AmountCents:     total,
			TimeAmountCents: timeTotal,
			GiftAmountCents: giftTotal,

			Status:    payoutdomain.BatchPending,
			CreatedAt: s.clock.Now(),
		}
		if err := tx.WithContext(ctx).Create(&batch).Error; err != nil {
			return err
		}
		if err := earningsrepo.NewRepository(tx).AttachBatch(ctx, recordIDs, batch.ID); err != nil {
			return err
		}

		out = &batch
		return s.publisher.Publish(ctx, tx, events.EventPayoutCreated, map[string]any{
			"batch_id":     batch.ID.String(),
			"payee_id":     payeeID.String(),
			"amount_cents": total,
		})
	})
	if err != nil {
		return nil, err
	}

	if out != nil {
		s.log.Info("payout batch created",
			zap.String("batch_id", out.ID.String()),
			zap.String("payee_id", payeeID.String()),
			zap.Int64("amount_cents", total))
	}
	return out, nil
}

func (s *Service) MarkPaid(ctx context.Context, id snowflake.ID) (*payoutdomain.PayoutBatch, error) {
	var batch payoutdomain.PayoutBatch
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&batch).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, payoutdomain.ErrBatchNotFound
		}
		return nil, err
	}
	if batch.Status == payoutdomain.BatchPaid {
		return nil, payoutdomain.ErrBatchPaid
	}

	now := s.clock.Now()
	batch.Status = payoutdomain.BatchPaid
	batch.PaidAt = &now
	if err := s.db.WithContext(ctx).Save(&batch).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}

func (s *Service) ListByPayee(ctx context.Context, payeeID snowflake.ID) ([]payoutdomain.PayoutBatch, error) {
	var batches []payoutdomain.PayoutBatch
	err := s.db.WithContext(ctx).
		Where("payee_id = ?", payeeID).
		Order("period_start DESC").
		Find(&batches).Error
	return batches, err
}
