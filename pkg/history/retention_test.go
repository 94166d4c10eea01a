package history

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestPrunerSweepsOnStart(t *testing.T) {
	store := setupStore(t)

	stale := OperationRecord{
		ID:        uuid.New().String(),
		Action:    "backup",
		Outcome:   OutcomeSucceeded,
		CreatedAt: time.Now().Add(-48 * time.Hour),
	}
	require.NoError(t, store.db.Create(&stale).Error)
	require.NoError(t, store.Record("inst-1", "restore", time.Now(), nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pruner := NewPruner(store, 1, time.Hour, slog.Default())
	done := make(chan struct{})
	go func() {
		pruner.Run(ctx)
		close(done)
	}()

	// The startup sweep removes the stale record and keeps the fresh one.
	require.Eventually(t, func() bool {
		records, err := store.List("", 10)
		return err == nil && len(records) == 1 && records[0].Action == "restore"
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestPrunerDisabledWithoutRetention(t *testing.T) {
	pruner := NewPruner(setupStore(t), 0, time.Hour, slog.Default())
	// Returns immediately instead of blocking on the ticker.
	pruner.Run(context.Background())
}
