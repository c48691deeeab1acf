package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/ecom-agents/stylefinder/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordErrorAndFailedItemIDs(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, l.RecordError(ctx, core.IngestionError{DocID: "12_0", ItemID: 12, Message: "embed failed", Timestamp: now}))
	require.NoError(t, l.RecordError(ctx, core.IngestionError{DocID: "12_1", ItemID: 12, Message: "download failed", Timestamp: now}))
	require.NoError(t, l.RecordError(ctx, core.IngestionError{DocID: "34_0", ItemID: 34, Message: "embed failed", Timestamp: now}))

	ids, err := l.FailedItemIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{12, 34}, ids)

	n, err := l.ErrorCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRecordRun(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	start := time.Now().Add(-time.Minute)
	require.NoError(t, l.RecordRun(ctx, core.RunStats{
		Processed: 50, Updated: 40, Skipped: 8, Failed: 2,
		DryRun: true, StartedAt: start, FinishedAt: time.Now(),
	}))

	var processed, dryRun int
	require.NoError(t, l.db.QueryRow(`SELECT processed, dry_run FROM batch_runs`).Scan(&processed, &dryRun))
	assert.Equal(t, 50, processed)
	assert.Equal(t, 1, dryRun)
}

func TestEmptyLedger(t *testing.T) {
	l := openTestLedger(t)

	ids, err := l.FailedItemIDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}
