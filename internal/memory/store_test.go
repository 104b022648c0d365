package memory

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/pkonate/teampulse/internal/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppend_CreatesThreadImplicitly(t *testing.T) {
	s := openTestStore(t)

	msg, err := s.Append("thread-1", Message{Role: RoleUser, Content: "what did john ship this week?"})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)

	thread, err := s.GetThread("thread-1")
	require.NoError(t, err)
	assert.Equal(t, 1, thread.MessageCount)
	assert.Equal(t, "what did john ship this week?", thread.Title)
}

func TestAppend_AutoTitleTruncated(t *testing.T) {
	s := openTestStore(t)

	long := "show me every single pull request, commit and review comment the whole team produced"
	_, err := s.Append("thread-long", Message{Role: RoleUser, Content: long})
	require.NoError(t, err)

	thread, err := s.GetThread("thread-long")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(thread.Title), maxAutoTitle+3)
	assert.Contains(t, thread.Title, "show me every single")
}

func TestAppend_CountsMessages(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Append("t", Message{Role: RoleUser, Content: "q1"})
	require.NoError(t, err)
	_, err = s.Append("t", Message{Role: RoleAssistant, Content: "a1", ProcessingMs: 850})
	require.NoError(t, err)

	thread, err := s.GetThread("t")
	require.NoError(t, err)
	assert.Equal(t, 2, thread.MessageCount)
}

func TestHistory_ChronologicalWindow(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	contents := []string{"m1", "m2", "m3", "m4", "m5"}
	for i, c := range contents {
		_, err := s.Append("t", Message{
			Role:      RoleUser,
			Content:   c,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	msgs, err := s.History("t", 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "m3", msgs[0].Content)
	assert.Equal(t, "m5", msgs[2].Content)

	all, err := s.History("t", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestHistory_UnknownThreadIsEmpty(t *testing.T) {
	s := openTestStore(t)

	msgs, err := s.History("missing", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestHistory_EmptyAfterDelete(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Append("t", Message{Role: RoleUser, Content: "q"})
	require.NoError(t, err)
	_, err = s.Append("t", Message{Role: RoleAssistant, Content: "a"})
	require.NoError(t, err)

	require.NoError(t, s.Delete("t"))

	msgs, err := s.History("t", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestDelete_CascadesAndIsIdempotent(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Append("t", Message{Role: RoleUser, Content: "q"})
	require.NoError(t, err)
	_, err = s.Append("t", Message{Role: RoleAssistant, Content: "a"})
	require.NoError(t, err)

	require.NoError(t, s.Delete("t"))

	_, err = s.GetThread("t")
	assert.Equal(t, apperrors.ErrThreadNotFound.Code, apperrors.GetCode(err))

	var count int64
	require.NoError(t, s.db.Model(&Message{}).Where("thread_id = ?", "t").Count(&count).Error)
	assert.Zero(t, count)

	// Second delete is a no-op.
	require.NoError(t, s.Delete("t"))
	require.NoError(t, s.Delete("never-existed"))
}

func TestListThreads_RecencyOrder(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Append("older", Message{Role: RoleUser, Content: "first"})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = s.Append("newer", Message{Role: RoleUser, Content: "second"})
	require.NoError(t, err)

	threads, err := s.ListThreads(10, 0)
	require.NoError(t, err)
	require.Len(t, threads, 2)
	assert.Equal(t, "newer", threads[0].ID)
}

func TestUpdateTitle(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Append("t", Message{Role: RoleUser, Content: "q"})
	require.NoError(t, err)

	require.NoError(t, s.UpdateTitle("t", "Sprint review digest"))
	thread, err := s.GetThread("t")
	require.NoError(t, err)
	assert.Equal(t, "Sprint review digest", thread.Title)

	err = s.UpdateTitle("missing", "x")
	assert.Equal(t, apperrors.ErrThreadNotFound.Code, apperrors.GetCode(err))
}

func TestWithThreadLock_SerializesSameThread(t *testing.T) {
	s := openTestStore(t)

	var inside int
	var maxInside int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.WithThreadLock("t", func() error {
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside)
}
