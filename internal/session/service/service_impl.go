package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/lumacallabs/lumacall/internal/clock"
	"github.com/lumacallabs/lumacall/internal/config"
	earningsdomain "github.com/lumacallabs/lumacall/internal/earnings/domain"
	"github.com/lumacallabs/lumacall/internal/events"
	sessiondomain "github.com/lumacallabs/lumacall/internal/session/domain"
	"github.com/lumacallabs/lumacall/internal/session/repository"
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
	cfg       config.SchedulerConfig
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

func NewService(p ServiceParam) sessiondomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("session.service"),

		genID:     p.GenID,
		repo:      repository.NewRepository(p.DB),
		clock:     p.Clock,
		publisher: p.Publisher,
		earnings:  p.Earnings,
		cfg:       p.Cfg.Scheduler,
	}
}

func (s *Service) Create(ctx context.Context, req sessiondomain.CreateRequest) (*sessiondomain.Session, error) {
	session := &sessiondomain.Session{
		ID:          s.genID.Generate(),
		InitiatorID: req.InitiatorID,
		RoomToken:   uuid.NewString(),
		Kind:        req.Kind,
		CallerID:    req.InitiatorID,
		CreatedAt:   s.clock.Now(),
		UpdatedAt:   s.clock.Now(),
	}

	switch req.Kind {
	case sessiondomain.SessionKindChat:
		if req.Medium != sessiondomain.CallMediumNone {
			return nil, sessiondomain.ErrInvalidMedium
		}
		session.Status = sessiondomain.StatusWaiting
		session.PrimaryPeerID = req.PrimaryPeerID
	case sessiondomain.SessionKindCall:
		if req.Medium != sessiondomain.CallMediumVideo && req.Medium != sessiondomain.CallMediumAudio {
			return nil, sessiondomain.ErrInvalidMedium
		}
		if req.PrimaryPeerID == nil {
			return nil, sessiondomain.ErrMissingPeer
		}
		session.Status = sessiondomain.StatusCalling
		session.CallMedium = req.Medium
		session.PrimaryPeerID = req.PrimaryPeerID
	default:
		return nil, sessiondomain.ErrInvalidTransition
	}

	if err := s.repo.Create(ctx, session); err != nil {
		return nil, err
	}
	s.log.Info("session created",
		zap.String("session_id", session.ID.String()),
		zap.String("room", session.RoomToken),
		zap.String("status", string(session.Status)))
	return session, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*sessiondomain.Session, error) {
	session, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, sessiondomain.ErrSessionNotFound
	}
	return session, nil
}

func (s *Service) GetByRoom(ctx context.Context, room string) (*sessiondomain.Session, error) {
	session, err := s.repo.GetByRoom(ctx, room)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, sessiondomain.ErrSessionNotFound
	}
	return session, nil
}

func (s *Service) StartCall(ctx context.Context, id, callerID snowflake.ID, medium sessiondomain.CallMedium) (*sessiondomain.Session, error) {
	if medium != sessiondomain.CallMediumVideo && medium != sessiondomain.CallMediumAudio {
		return nil, sessiondomain.ErrInvalidMedium
	}
	return s.transition(ctx, id, func(session *sessiondomain.Session) error {
		if !sessiondomain.CanTransition(session.Status, sessiondomain.StatusCalling) {
			return sessiondomain.ErrInvalidTransition
		}
		session.Status = sessiondomain.StatusCalling
		session.CallMedium = medium
		session.CallerID = callerID
		if session.PrimaryPeerID == nil && callerID != session.InitiatorID {
			peer := callerID
			session.PrimaryPeerID = &peer
		}
		return nil
	})
}

func (s *Service) Match(ctx context.Context, id, peerID snowflake.ID) (*sessiondomain.Session, error) {
	return s.transition(ctx, id, func(session *sessiondomain.Session) error {
		if session.Status != sessiondomain.StatusWaiting {
			return sessiondomain.ErrInvalidTransition
		}
		now := s.clock.Now()
		peer := peerID
		session.PrimaryPeerID = &peer
		session.Status = sessiondomain.StatusActive
		session.StartedAt = &now
		session.IsConsuming = true
		session.LastChargedAt = &now
		return nil
	})
}

func (s *Service) Answer(ctx context.Context, id, responderID snowflake.ID) (*sessiondomain.Session, error) {
	return s.transition(ctx, id, func(session *sessiondomain.Session) error {
		if session.Status != sessiondomain.StatusCalling {
			return sessiondomain.ErrInvalidTransition
		}
		now := s.clock.Now()
		if session.PrimaryPeerID == nil {
			peer := responderID
			session.PrimaryPeerID = &peer
		}
		session.Status = sessiondomain.StatusActive
		session.AnsweredAt = &now
		session.StartedAt = &now
		session.IsConsuming = true
		session.LastChargedAt = &now
		return nil
	})
}

func (s *Service) Reject(ctx context.Context, id, responderID snowflake.ID, reason string) (*sessiondomain.Session, error) {
	return s.transition(ctx, id, func(session *sessiondomain.Session) error {
		if session.Status != sessiondomain.StatusCalling {
			return sessiondomain.ErrInvalidTransition
		}
		now := s.clock.Now()
		session.Status = sessiondomain.StatusRejected
		session.EndReason = reason
		session.EndedAt = &now
		return nil
	})
}

func (s *Service) Cancel(ctx context.Context, id, actorID snowflake.ID) (*sessiondomain.Session, error) {
	return s.transition(ctx, id, func(session *sessiondomain.Session) error {
		if session.Status != sessiondomain.StatusWaiting && session.Status != sessiondomain.StatusCalling {
			return sessiondomain.ErrInvalidTransition
		}
		now := s.clock.Now()
		session.Status = sessiondomain.StatusCancelled
		session.EndedAt = &now
		return nil
	})
}

func (s *Service) End(ctx context.Context, id, actorID snowflake.ID, reason string) (*sessiondomain.Session, error) {
	var out *sessiondomain.Session
	var alreadyEnded bool

	err := dbpkg.WithRetry(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			repoTx := repository.NewRepository(tx)
			session, err := repoTx.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if session == nil {
				return sessiondomain.ErrSessionNotFound
			}
			if session.Status == sessiondomain.StatusEnded {
				// Lost the race against the other hangup; the first commit won.
				out = session
				alreadyEnded = true
				return nil
			}
			if session.Status.Terminal() {
				return sessiondomain.ErrInvalidTransition
			}

			now := s.clock.Now()
			wasActive := session.Status == sessiondomain.StatusActive
			session.Status = sessiondomain.StatusEnded
			session.EndedAt = &now
			session.EndReason = reason
			session.IsConsuming = false
			session.UpdatedAt = now
			if err := repoTx.Save(ctx, session); err != nil {
				return err
			}
			out = session

			if !wasActive {
				return nil
			}
			return s.publisher.Publish(ctx, tx, events.EventSessionEnded, map[string]any{
				"session_id": session.ID.String(),
				"room":       session.RoomToken,
				"reason":     reason,
			})
		})
	})
	if err != nil {
		return nil, err
	}

	if !alreadyEnded && out.StartedAt != nil {
		// Aggregation is idempotent, so a failure here can simply be re-run.
		if _, err := s.earnings.AggregateSession(ctx, out.ID); err != nil {
			s.log.Error("earnings aggregation failed",
				zap.Error(err),
				zap.String("session_id", out.ID.String()))
			return out, err
		}
	}
	return out, nil
}

func (s *Service) InviteSecondPeer(ctx context.Context, id, candidateID snowflake.ID) (*sessiondomain.Session, error) {
	return s.transition(ctx, id, func(session *sessiondomain.Session) error {
		if session.Status != sessiondomain.StatusActive {
			return sessiondomain.ErrInvalidTransition
		}
		switch session.SecondPeerStatus {
		case sessiondomain.SecondPeerPending, sessiondomain.SecondPeerAccepted:
			return sessiondomain.ErrSecondPeerTaken
		}
		now := s.clock.Now()
		candidate := candidateID
		session.SecondPeerID = &candidate
		session.SecondPeerStatus = sessiondomain.SecondPeerPending
		session.SecondPeerInvitedAt = &now
		return nil
	})
}

func (s *Service) RespondSecondPeer(ctx context.Context, id snowflake.ID, accept bool) (*sessiondomain.Session, error) {
	return s.transition(ctx, id, func(session *sessiondomain.Session) error {
		if session.SecondPeerID == nil || session.SecondPeerStatus != sessiondomain.SecondPeerPending {
			return sessiondomain.ErrNoSecondPeer
		}
		if accept {
			session.SecondPeerStatus = sessiondomain.SecondPeerAccepted
		} else {
			session.SecondPeerStatus = sessiondomain.SecondPeerRejected
		}
		return nil
	})
}

func (s *Service) ExpireSecondPeerInvites(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().Add(-s.cfg.SecondPeerWindow)
	stale, err := s.repo.ListStaleSecondPeerInvites(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, session := range stale {
		if _, err := s.RespondSecondPeer(ctx, session.ID, false); err != nil {
			s.log.Warn("expire second-peer invite failed",
				zap.Error(err),
				zap.String("session_id", session.ID.String()))
			continue
		}
		expired++
	}
	return expired, nil
}

// transition applies mutate to a session under a row lock and persists it.
func (s *Service) transition(ctx context.Context, id snowflake.ID, mutate func(*sessiondomain.Session) error) (*sessiondomain.Session, error) {
	var out *sessiondomain.Session
	err := dbpkg.WithRetry(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			repoTx := repository.NewRepository(tx)
			session, err := repoTx.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if session == nil {
				return sessiondomain.ErrSessionNotFound
			}
			if err := mutate(session); err != nil {
				return err
			}
			session.UpdatedAt = s.clock.Now()
			if err := repoTx.Save(ctx, session); err != nil {
				return err
			}
			out = session
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
