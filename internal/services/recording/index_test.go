package recording_test

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/eric2788/screenrec/internal/services/recording"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndex(t *testing.T) {
	idx, err := recording.OpenIndex(filepath.Join(t.TempDir(), "db", "recordings.db"))
	require.NoError(t, err)
	defer idx.Close()

	add := func(session, filename string) {
		require.NoError(t, idx.Add(&recording.Entry{
			Filename:    filename,
			SessionID:   session,
			ProcessedAt: time.Now().UTC(),
			VideoPath:   "recordings/recording_" + session + "_video.webm",
		}))
	}

	add("a", "recording_a_2.json")
	add("a", "recording_a_1.json")
	add("ab", "recording_ab_1.json")

	list, err := idx.List("a")
	require.NoError(t, err)
	require.Len(t, list, 2, "prefix of another session must not leak in")
	assert.Equal(t, "recording_a_1.json", list[0].Filename)
	assert.Equal(t, "recording_a_2.json", list[1].Filename)
	assert.Equal(t, "recordings/recording_a_video.webm", list[0].VideoPath)

	// cached list is invalidated by a new entry
	add("a", "recording_a_3.json")
	list, err = idx.List("a")
	require.NoError(t, err)
	assert.Len(t, list, 3)

	empty, err := idx.List("nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)

	sessions, err := idx.Sessions()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "ab"}, sessions)

	count, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestIndexListRacingAdds(t *testing.T) {
	idx, err := recording.OpenIndex(filepath.Join(t.TempDir(), "recordings.db"))
	require.NoError(t, err)
	defer idx.Close()

	const n = 50
	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_, _ = idx.List("s1")
			}
		}
	}()

	for i := range n {
		require.NoError(t, idx.Add(&recording.Entry{
			Filename:  fmt.Sprintf("recording_s1_%03d.json", i),
			SessionID: "s1",
		}))
	}
	close(stop)
	wg.Wait()

	list, err := idx.List("s1")
	require.NoError(t, err)
	assert.Len(t, list, n, "a list cached while adding must not hide later entries")
}
