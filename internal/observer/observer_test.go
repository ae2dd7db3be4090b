package observer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTicker_FiresRepeatedly(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	tk := Ticker{Interval: 20 * time.Millisecond}
	ch := tk.Notify(ctx)

	count := 0
	for range ch {
		count++
	}

	assert.Greater(t, count, 1)
}

func TestFSWatcher_SignalsAfterDebounceWindow(t *testing.T) {
	root := t.TempDir()

	w := NewFSWatcher(root, 30*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ch := w.Notify(ctx)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644))

	select {
	case _, ok := <-ch:
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("expected a signal after debounce window")
	}
}
