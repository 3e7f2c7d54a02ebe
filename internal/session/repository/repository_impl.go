package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	sessiondomain "github.com/lumacallabs/lumacall/internal/session/domain"
	"github.com/lumacallabs/lumacall/pkg/db"
	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(gdb *gorm.DB) *Repository {
	return &Repository{db: gdb}
}

func (r *Repository) Create(ctx context.Context, session *sessiondomain.Session) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *Repository) Get(ctx context.Context, id snowflake.ID) (*sessiondomain.Session, error) {
	var session sessiondomain.Session
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

// GetForUpdate serializes concurrent state changes on one session.
func (r *Repository) GetForUpdate(ctx context.Context, id snowflake.ID) (*sessiondomain.Session, error) {
	var session sessiondomain.Session
	err := db.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&session).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

func (r *Repository) GetByRoom(ctx context.Context, room string) (*sessiondomain.Session, error) {
	var session sessiondomain.Session
	err := r.db.WithContext(ctx).Where("room_token = ?", room).First(&session).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

func (r *Repository) Save(ctx context.Context, session *sessiondomain.Session) error {
	return r.db.WithContext(ctx).Save(session).Error
}

func (r *Repository) ListConsuming(ctx context.Context) ([]sessiondomain.Session, error) {
	var sessions []sessiondomain.Session
	err := r.db.WithContext(ctx).
		Where("status = ? AND is_consuming = ?", sessiondomain.StatusActive, true).
		Find(&sessions).Error
	return sessions, err
}

func (r *Repository) ListStaleSecondPeerInvites(ctx context.Context, before time.Time) ([]sessiondomain.Session, error) {
	var sessions []sessiondomain.Session
	err := r.db.WithContext(ctx).
		Where("second_peer_status = ? AND second_peer_invited_at < ?", sessiondomain.SecondPeerPending, before).
		Find(&sessions).Error
	return sessions, err
}
