package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type CreateRequest struct {
	InitiatorID   snowflake.ID
	PrimaryPeerID *snowflake.ID
	Kind          SessionKind
	Medium        CallMedium
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Session, error)
	Get(ctx context.Context, id snowflake.ID) (*Session, error)
	GetByRoom(ctx context.Context, room string) (*Session, error)

	// StartCall escalates a waiting (chat-matched) session to a ringing call.
	StartCall(ctx context.Context, id, callerID snowflake.ID, medium CallMedium) (*Session, error)
	// Match pairs a waiting chat session with a peer and activates it.
	Match(ctx context.Context, id, peerID snowflake.ID) (*Session, error)
	// Answer moves calling -> active and arms metering.
	Answer(ctx context.Context, id, responderID snowflake.ID) (*Session, error)
	Reject(ctx context.Context, id, responderID snowflake.ID, reason string) (*Session, error)
	Cancel(ctx context.Context, id, actorID snowflake.ID) (*Session, error)
	// End is idempotent: ending an already-ended session returns the
	// terminal row unchanged.
	End(ctx context.Context, id, actorID snowflake.ID, reason string) (*Session, error)

	InviteSecondPeer(ctx context.Context, id, candidateID snowflake.ID) (*Session, error)
	RespondSecondPeer(ctx context.Context, id snowflake.ID, accept bool) (*Session, error)
	// ExpireSecondPeerInvites rejects invitations that outlived the window.
	ExpireSecondPeerInvites(ctx context.Context) (int, error)
}
