package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type Repository interface {
	// GetForUpdate loads (creating if absent) the user's balance under a
	// row-level exclusive lock. Must run inside a transaction.
	GetForUpdate(ctx context.Context, userID snowflake.ID) (*Balance, error)
	Get(ctx context.Context, userID snowflake.ID) (*Balance, error)
	Save(ctx context.Context, balance *Balance) error
	InsertEntry(ctx context.Context, entry LedgerEntry) error
	FindEntryByReference(ctx context.Context, userID snowflake.ID, source, referenceID string) (*LedgerEntry, error)
	ListEntries(ctx context.Context, userID snowflake.ID) ([]LedgerEntry, error)
	SumDeltas(ctx context.Context, userID snowflake.ID) (int64, error)
	Freeze(ctx context.Context, userID snowflake.ID) error
}
