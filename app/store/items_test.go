package store

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/feed-reader/app/models"
)

func entries(from, to int) []models.Item {
	// newest first, as feeds usually come
	res := []models.Item{}
	for i := to; i >= from; i-- {
		res = append(res, models.Item{Link: fmt.Sprintf("http://example.com/%d", i), Title: fmt.Sprintf("title %d", i)})
	}
	return res
}

func TestItems_MergeFirstFetch(t *testing.T) {
	s := NewItems(newTestKV(t, ""))
	_, ok := s.Load("http://f")
	assert.False(t, ok)

	items, unread := s.Merge("http://f", entries(1, 20))
	assert.Equal(t, 20, unread)
	require.Len(t, items, 20)
	assert.Equal(t, "http://example.com/20", items[0].Link)
	assert.Equal(t, "http://example.com/1", items[19].Link)

	stored, ok := s.Load("http://f")
	require.True(t, ok)
	assert.Equal(t, items, stored)
}

func TestItems_MergeNewEntries(t *testing.T) {
	s := NewItems(newTestKV(t, ""))
	s.Merge("http://f", entries(1, 20))
	for i := 1; i <= 20; i++ {
		s.MarkRead("http://f", fmt.Sprintf("http://example.com/%d", i))
	}

	// 3 new entries on top of the window of 20
	items, unread := s.Merge("http://f", entries(4, 23))
	assert.Equal(t, 3, unread)
	require.Len(t, items, 23)
	assert.Equal(t, "http://example.com/23", items[0].Link)
	assert.Equal(t, "http://example.com/22", items[1].Link)
	assert.Equal(t, "http://example.com/21", items[2].Link)
	assert.False(t, items[0].Read)
	assert.False(t, items[2].Read)
	assert.Equal(t, "http://example.com/20", items[3].Link)
	assert.True(t, items[3].Read, "read state of known items kept")
}

func TestItems_MergeDedup(t *testing.T) {
	s := NewItems(newTestKV(t, ""))
	batch := []models.Item{
		{Link: "http://e/3", Title: "three"},
		{Link: "http://e/2", Title: "two"},
		{Link: "http://e/3", Title: "three again"},
		{Link: "", Title: "no link"},
	}
	items, unread := s.Merge("http://f", batch)
	assert.Equal(t, 2, unread)
	require.Len(t, items, 2)

	items, _ = s.Merge("http://f", append(batch, models.Item{Link: "http://e/1", Read: true}))
	require.Len(t, items, 3)
	links := map[string]bool{}
	for _, it := range items {
		assert.False(t, links[it.Link], "duplicate %s", it.Link)
		links[it.Link] = true
	}
	assert.Equal(t, "http://e/1", items[0].Link)
	assert.False(t, items[0].Read, "fetched entries are unread regardless of input")
}

func TestItems_MarkRead(t *testing.T) {
	s := NewItems(newTestKV(t, ""))
	s.Merge("http://f", entries(1, 20))

	for i := 1; i <= 5; i++ {
		_, unread, ok := s.MarkRead("http://f", fmt.Sprintf("http://example.com/%d", i))
		require.True(t, ok)
		assert.Equal(t, 20-i, unread)
	}

	once, unread, ok := s.MarkRead("http://f", "http://example.com/5")
	assert.True(t, ok)
	assert.Equal(t, 15, unread, "idempotent")
	twice, _, _ := s.MarkRead("http://f", "http://example.com/5")
	assert.Equal(t, once, twice)

	_, unread, ok = s.MarkRead("http://f", "http://example.com/nope")
	assert.False(t, ok)
	assert.Equal(t, 15, unread)

	stored, _ := s.Load("http://f")
	assert.Equal(t, 15, models.Unread(stored))
}

func TestItems_ReplaceRemove(t *testing.T) {
	kv := newTestKV(t, "")
	s := NewItems(kv)
	assert.True(t, s.Replace("http://f", []models.Item{{Link: "http://e/1", Read: true}}))
	items, ok := s.Load("http://f")
	require.True(t, ok)
	assert.Equal(t, []models.Item{{Link: "http://e/1", Read: true}}, items)

	assert.True(t, s.Replace("http://f", nil))
	items, ok = s.Load("http://f")
	assert.True(t, ok)
	assert.Empty(t, items)

	assert.True(t, s.Remove("http://f"))
	_, ok = s.Load("http://f")
	assert.False(t, ok)
}

func TestItems_UnavailableStorage(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0600))
	s := NewItems(NewKV(filepath.Join(file, "x.bdb"), ""))

	_, unread := s.Merge("http://f", entries(1, 3))
	assert.Equal(t, 3, unread)
	_, unread, ok := s.MarkRead("http://f", "http://example.com/2")
	assert.True(t, ok)
	assert.Equal(t, 2, unread)

	items, ok := s.Load("http://f")
	assert.True(t, ok, "session copy kept in memory")
	assert.Len(t, items, 3)
}
