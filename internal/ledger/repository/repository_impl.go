package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/lumacallabs/lumacall/internal/ledger/domain"
	"github.com/lumacallabs/lumacall/pkg/db"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(gdb *gorm.DB) ledgerdomain.Repository {
	return &repository{db: gdb}
}

func (r *repository) GetForUpdate(ctx context.Context, userID snowflake.ID) (*ledgerdomain.Balance, error) {
	var balance ledgerdomain.Balance
	err := db.ForUpdate(r.db.WithContext(ctx)).
		Where("user_id = ?", userID).
		First(&balance).Error
	if err == nil {
		return &balance, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	now := time.Now().UTC()
	balance = ledgerdomain.Balance{UserID: userID, CreatedAt: now, UpdatedAt: now}
	if err := r.db.WithContext(ctx).Create(&balance).Error; err != nil {
		return nil, err
	}
	return &balance, nil
}

func (r *repository) Get(ctx context.Context, userID snowflake.ID) (*ledgerdomain.Balance, error) {
	var balance ledgerdomain.Balance
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&balance).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &balance, nil
}

func (r *repository) Save(ctx context.Context, balance *ledgerdomain.Balance) error {
	return r.db.WithContext(ctx).Save(balance).Error
}

func (r *repository) InsertEntry(ctx context.Context, entry ledgerdomain.LedgerEntry) error {
	return r.db.WithContext(ctx).Create(&entry).Error
}

func (r *repository) FindEntryByReference(ctx context.Context, userID snowflake.ID, source, referenceID string) (*ledgerdomain.LedgerEntry, error) {
	var entry ledgerdomain.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND source = ? AND reference_id = ?", userID, source, referenceID).
		First(&entry).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *repository) ListEntries(ctx context.Context, userID snowflake.ID) ([]ledgerdomain.LedgerEntry, error) {
	var entries []ledgerdomain.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}

func (r *repository) SumDeltas(ctx context.Context, userID snowflake.ID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(delta_cents), 0) FROM ledger_entries WHERE user_id = ?`,
		userID,
	).Scan(&total).Error
	return total, err
}

func (r *repository) Freeze(ctx context.Context, userID snowflake.ID) error {
	return r.db.WithContext(ctx).
		Model(&ledgerdomain.Balance{}).
		Where("user_id = ?", userID).
		Update("frozen", true).Error
}
