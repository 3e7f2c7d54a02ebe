package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	giftdomain "github.com/lumacallabs/lumacall/internal/gift/domain"
	"github.com/lumacallabs/lumacall/pkg/db"
	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(gdb *gorm.DB) *Repository {
	return &Repository{db: gdb}
}

func (r *Repository) Create(ctx context.Context, request *giftdomain.GiftRequest) error {
	return r.db.WithContext(ctx).Create(request).Error
}

func (r *Repository) Get(ctx context.Context, id snowflake.ID) (*giftdomain.GiftRequest, error) {
	var request giftdomain.GiftRequest
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&request).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &request, nil
}

func (r *Repository) GetForUpdate(ctx context.Context, id snowflake.ID) (*giftdomain.GiftRequest, error) {
	var request giftdomain.GiftRequest
	err := db.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&request).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &request, nil
}

func (r *Repository) Save(ctx context.Context, request *giftdomain.GiftRequest) error {
	return r.db.WithContext(ctx).Save(request).Error
}

// HasLiveSession reports whether the room currently has an active, metered
// session. Only then is the gift rolled into that session's earnings: the
// session-end rollup sums accepted gifts between started_at and ended_at, so
// a gift deferred any earlier would fall outside that window and never earn.
func (r *Repository) HasLiveSession(ctx context.Context, room string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM sessions
		 WHERE room_token = ? AND status = 'active'`,
		room,
	).Scan(&count).Error
	return count > 0, err
}

func (r *Repository) ExpirePending(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&giftdomain.GiftRequest{}).
		Where("status = ? AND expires_at < ?", giftdomain.GiftPending, before).
		Updates(map[string]any{"status": giftdomain.GiftExpired, "updated_at": before})
	return result.RowsAffected, result.Error
}
