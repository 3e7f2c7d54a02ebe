package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLastCompletedWeekStart(t *testing.T) {
	// Monday boundary: a Sunday run settles the week ending the previous
	// Monday, i.e. the full Monday-to-Monday span before it.
	sunday := time.Date(2026, 3, 8, 10, 0, 0, 0, time.UTC)
	require.Equal(t,
		time.Date(2026, 2, 23, 0, 0, 0, 0, time.UTC),
		lastCompletedWeekStart(sunday, time.Monday))

	// Running on the boundary day itself closes the week that just ended.
	monday := time.Date(2026, 3, 9, 0, 30, 0, 0, time.UTC)
	require.Equal(t,
		time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		lastCompletedWeekStart(monday, time.Monday))
}
