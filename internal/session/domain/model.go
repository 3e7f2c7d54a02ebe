// Package domain models one call/chat session and its closed status set.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type SessionKind string

const (
	SessionKindChat SessionKind = "chat"
	SessionKindCall SessionKind = "call"
)

type CallMedium string

const (
	CallMediumVideo CallMedium = "video"
	CallMediumAudio CallMedium = "audio"
	CallMediumNone  CallMedium = ""
)

// SessionStatus is a closed set; new variants are added here, never as loose
// strings in queries.
type SessionStatus string

const (
	StatusWaiting   SessionStatus = "waiting"
	StatusCalling   SessionStatus = "calling"
	StatusActive    SessionStatus = "active"
	StatusRejected  SessionStatus = "rejected"
	StatusCancelled SessionStatus = "cancelled"
	StatusEnded     SessionStatus = "ended"
)

func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusRejected, StatusCancelled, StatusEnded:
		return true
	}
	return false
}

type SecondPeerStatus string

const (
	SecondPeerNone     SecondPeerStatus = ""
	SecondPeerPending  SecondPeerStatus = "pending"
	SecondPeerAccepted SecondPeerStatus = "accepted"
	SecondPeerRejected SecondPeerStatus = "rejected"
)

const (
	EndReasonHangup            = "hangup"
	EndReasonInsufficientFunds = "insufficient_funds"
	EndReasonDisconnected      = "disconnected"
)

var (
	ErrSessionNotFound   = errors.New("session_not_found")
	ErrInvalidTransition = errors.New("invalid_transition")
	ErrInvalidMedium     = errors.New("invalid_medium")
	ErrSecondPeerTaken   = errors.New("second_peer_taken")
	ErrNoSecondPeer      = errors.New("no_second_peer")
	ErrMissingPeer       = errors.New("missing_peer")
)

type Session struct {
	ID            snowflake.ID  `gorm:"primaryKey"`
	InitiatorID   snowflake.ID  `gorm:"not null;index"`
	PrimaryPeerID *snowflake.ID `gorm:"index"`
	SecondPeerID  *snowflake.ID
	RoomToken     string        `gorm:"type:text;not null;uniqueIndex"`
	Kind          SessionKind   `gorm:"type:text;not null"`
	CallMedium    CallMedium    `gorm:"type:text;not null;default:''"`
	CallerID      snowflake.ID  `gorm:"not null"`
	Status        SessionStatus `gorm:"type:text;not null;index"`

	SecondPeerStatus    SecondPeerStatus `gorm:"type:text;not null;default:''"`
	SecondPeerInvitedAt *time.Time

	StartedAt  *time.Time
	AnsweredAt *time.Time
	EndedAt    *time.Time
	EndReason  string `gorm:"type:text;not null;default:''"`

	// Metering bookkeeping: IsConsuming gates the sweep, ConsumeSeq is the
	// last applied tick sequence, LastChargedAt anchors elapsed time.
	IsConsuming   bool  `gorm:"not null;default:false;index"`
	ConsumeSeq    int64 `gorm:"not null;default:0"`
	LastChargedAt *time.Time

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Session) TableName() string { return "sessions" }

// PayeeID is the earning side: whichever participant is not the caller.
func (s *Session) PayeeID() snowflake.ID {
	if s.CallerID != s.InitiatorID {
		return s.InitiatorID
	}
	if s.PrimaryPeerID != nil {
		return *s.PrimaryPeerID
	}
	return 0
}

var transitions = map[SessionStatus][]SessionStatus{
	StatusWaiting: {StatusCalling, StatusActive, StatusEnded, StatusCancelled},
	StatusCalling: {StatusActive, StatusRejected, StatusCancelled, StatusEnded},
	StatusActive:  {StatusEnded},
}

func CanTransition(from, to SessionStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
