package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/feed-reader/app/models"
)

type badgeRec struct {
	calls []*int
}

func (b *badgeRec) Render(count *int) { b.calls = append(b.calls, count) }

func (b *badgeRec) last() *int { return b.calls[len(b.calls)-1] }

func TestDirectory_FirstRun(t *testing.T) {
	kv := newTestKV(t, "")
	require.True(t, kv.Set("items-stale", []models.Item{{Link: "http://stale"}}))

	d := NewDirectory(kv, nil)
	assert.True(t, d.Init())
	assert.Equal(t, []models.Feed{}, d.Load())

	var items []models.Item
	assert.False(t, kv.Get("items-stale", &items), "stale keys cleared on the first run")

	require.True(t, d.Add("http://a", "A", 1))
	assert.False(t, NewDirectory(kv, nil).Init(), "second run leaves state untouched")
	assert.Equal(t, []models.Feed{{ID: "http://a", Name: "A", UnreadCount: 1}}, NewDirectory(kv, nil).Load())
}

func TestDirectory_AddUpdate(t *testing.T) {
	kv := newTestKV(t, "")
	d := NewDirectory(kv, nil)
	d.Init()

	assert.True(t, d.Add("http://a", "A", 20))
	assert.True(t, d.Add("http://b", "B", 2))
	assert.False(t, d.Add("http://a", "A again", 5), "duplicate id ignored")
	assert.Len(t, d.List(), 2)

	assert.True(t, d.UpdateUnreadCount("http://a", 15))
	assert.False(t, d.UpdateUnreadCount("http://nope", 1))

	// persisted as a whole
	res := NewDirectory(kv, nil).Load()
	assert.Equal(t, []models.Feed{
		{ID: "http://a", Name: "A", UnreadCount: 15},
		{ID: "http://b", Name: "B", UnreadCount: 2},
	}, res)
	assert.Equal(t, 17, d.Total())

	f, ok := d.Get("http://b")
	assert.True(t, ok)
	assert.Equal(t, "B", f.Name)
}

func TestDirectory_RecomputeGlobalBadge(t *testing.T) {
	kv := newTestKV(t, "")
	badge := &badgeRec{}
	d := NewDirectory(kv, badge)

	assert.Nil(t, d.RecomputeGlobalBadge(), "empty directory, no badge")
	assert.Nil(t, badge.last())

	d.Add("http://a", "A", 0)
	assert.Nil(t, d.RecomputeGlobalBadge(), "zero total, no badge")

	d.Add("http://b", "B", 7)
	d.Add("http://c", "C", 5)
	res := d.RecomputeGlobalBadge()
	require.NotNil(t, res)
	assert.Equal(t, 12, *res)
	assert.Equal(t, 12, *badge.last())
}

func TestDirectory_Remove(t *testing.T) {
	kv := newTestKV(t, "")
	d := NewDirectory(kv, nil)
	d.Add("http://a", "A", 1)
	d.Add("http://b", "B", 2)

	assert.True(t, d.Remove("http://a"))
	assert.False(t, d.Remove("http://a"))
	assert.Equal(t, []models.Feed{{ID: "http://b", Name: "B", UnreadCount: 2}}, NewDirectory(kv, nil).Load())
}

func TestDirectory_LoadSkipsInvalid(t *testing.T) {
	kv := newTestKV(t, "")
	require.True(t, kv.Set(keyFeedList, []models.Feed{
		{ID: "http://a", Name: "A", UnreadCount: 1},
		{ID: "", Name: "no id"},
		{ID: "http://b", UnreadCount: -3},
		{ID: "http://a", Name: "dup"},
	}))
	assert.Equal(t, []models.Feed{{ID: "http://a", Name: "A", UnreadCount: 1}}, NewDirectory(kv, nil).Load())

	require.True(t, kv.Set(keyFeedList, "not a list"))
	assert.Equal(t, []models.Feed{}, NewDirectory(kv, nil).Load())
}

func TestDirectory_UnavailableStorage(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0600))
	kv := NewKV(filepath.Join(file, "x.bdb"), "")
	require.False(t, kv.Available())

	d := NewDirectory(kv, nil)
	assert.True(t, d.Init())
	d.Add("http://a", "A", 4)
	d.UpdateUnreadCount("http://a", 3)
	assert.Equal(t, []models.Feed{{ID: "http://a", Name: "A", UnreadCount: 3}}, d.Load(), "kept in memory")
}

// two directories over one storage are last-writer-wins, the earlier update is lost silently.
// this is the known consistency boundary of whole-list persistence.
func TestDirectory_ConcurrentWritersClobber(t *testing.T) {
	kv := newTestKV(t, "")
	d1 := NewDirectory(kv, nil)
	d1.Init()
	d2 := NewDirectory(kv, nil)
	d2.Load()

	d1.Add("http://a", "A", 1)
	d2.Add("http://b", "B", 1)

	assert.Equal(t, []models.Feed{{ID: "http://b", Name: "B", UnreadCount: 1}}, NewDirectory(kv, nil).Load())
}
