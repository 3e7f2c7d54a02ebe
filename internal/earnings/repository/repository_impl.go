package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	earningsdomain "github.com/lumacallabs/lumacall/internal/earnings/domain"
	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(gdb *gorm.DB) *Repository {
	return &Repository{db: gdb}
}

// SessionRow mirrors the columns aggregation needs from the sessions table.
type SessionRow struct {
	ID            snowflake.ID
	RoomToken     string
	InitiatorID   snowflake.ID
	PrimaryPeerID *snowflake.ID
	CallerID      snowflake.ID
	Status        string
	StartedAt     *time.Time
	EndedAt       *time.Time
}

func (r *Repository) GetSessionRow(ctx context.Context, sessionID snowflake.ID) (*SessionRow, error) {
	var row SessionRow
	err := r.db.WithContext(ctx).Raw(
		`SELECT id, room_token, initiator_id, primary_peer_id, caller_id, status, started_at, ended_at
		 FROM sessions
		 WHERE id = ?`,
		sessionID,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &row, nil
}

type TickTotals struct {
	ChargedCents   int64
	PurchasedCents int64
}

func (r *Repository) SumSessionTicks(ctx context.Context, sessionID snowflake.ID) (TickTotals, error) {
	var totals TickTotals
	err := r.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(coins_charged_cents), 0) AS charged_cents,
		        COALESCE(SUM(purchased_coins_used_cents), 0) AS purchased_cents
		 FROM consumption_ticks
		 WHERE session_ref = ?`,
		sessionID,
	).Scan(&totals).Error
	return totals, err
}

type GiftTotals struct {
	GrossCents     int64
	RecipientCents int64
	PlatformCents  int64
}

func (r *Repository) SumRoomGifts(ctx context.Context, room string, from, to time.Time) (GiftTotals, error) {
	var totals GiftTotals
	err := r.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(settled_amount_cents), 0) AS gross_cents,
		        COALESCE(SUM(recipient_share_cents), 0) AS recipient_cents,
		        COALESCE(SUM(platform_share_cents), 0) AS platform_cents
		 FROM gift_requests
		 WHERE room = ? AND status = 'accepted'
		 AND processed_at >= ? AND processed_at <= ?`,
		room,
		from,
		to,
	).Scan(&totals).Error
	return totals, err
}

func (r *Repository) FindByChecksum(ctx context.Context, checksum string) (*earningsdomain.EarningsRecord, error) {
	var record earningsdomain.EarningsRecord
	err := r.db.WithContext(ctx).Where("checksum = ?", checksum).First(&record).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *Repository) Insert(ctx context.Context, record *earningsdomain.EarningsRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *Repository) ListByPayee(ctx context.Context, payeeID snowflake.ID) ([]earningsdomain.EarningsRecord, error) {
	var records []earningsdomain.EarningsRecord
	err := r.db.WithContext(ctx).
		Where("payee_id = ?", payeeID).
		Order("id ASC").
		Find(&records).Error
	return records, err
}

// ListUnsettled returns every unbatched record earned before the period end,
// grouped by payee by the caller. There is deliberately no lower bound:
// sub-threshold earnings from earlier periods stay unbatched and must be
// picked up again by each later run until their payee crosses the minimum.
func (r *Repository) ListUnsettled(ctx context.Context, before time.Time) ([]earningsdomain.EarningsRecord, error) {
	var records []earningsdomain.EarningsRecord
	err := r.db.WithContext(ctx).
		Where("payout_batch_id IS NULL AND earned_at < ?", before).
		Order("payee_id ASC, id ASC").
		Find(&records).Error
	return records, err
}

func (r *Repository) AttachBatch(ctx context.Context, recordIDs []snowflake.ID, batchID snowflake.ID) error {
	if len(recordIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&earningsdomain.EarningsRecord{}).
		Where("id IN ? AND payout_batch_id IS NULL", recordIDs).
		Update("payout_batch_id", batchID).Error
}
