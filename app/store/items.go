package store

import (
	"github.com/umputun/feed-reader/app/models"
)

const keyItemsPrefix = "items-"

// Items keeps per-feed item lists. With unavailable storage lists are kept in memory for the session.
// Not thread-safe.
type Items struct {
	kv  Storage
	mem map[string][]models.Item
}

// NewItems makes Items store
func NewItems(kv Storage) *Items {
	return &Items{kv: kv, mem: map[string][]models.Item{}}
}

// Load returns items of the feed, false if nothing stored yet
func (s *Items) Load(feedID string) ([]models.Item, bool) {
	if !s.kv.Available() {
		items, ok := s.mem[feedID]
		return clone(items), ok
	}
	var stored []models.Item
	if !s.kv.Get(itemsKey(feedID), &stored) {
		return nil, false
	}
	res := make([]models.Item, 0, len(stored))
	for _, it := range stored {
		if it.Valid() {
			res = append(res, it)
		}
	}
	return res, true
}

// Replace overwrites all items of the feed
func (s *Items) Replace(feedID string, items []models.Item) bool {
	if items == nil {
		items = []models.Item{}
	}
	if !s.kv.Available() {
		s.mem[feedID] = clone(items)
		return true
	}
	return s.kv.Set(itemsKey(feedID), items)
}

// Merge adds fetched entries not seen before (by link) to the front of the feed's list as unread.
// Entries processed from the last to the first, each one prepended, so new entries keep fetched order.
// Known items are not touched. Returns merged list and its unread count.
func (s *Items) Merge(feedID string, entries []models.Item) ([]models.Item, int) {
	items, _ := s.Load(feedID)
	known := make(map[string]bool, len(items)+len(entries))
	for _, it := range items {
		known[it.Link] = true
	}

	var fresh []models.Item
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Link == "" || known[e.Link] {
			continue
		}
		known[e.Link] = true
		e.Read = false
		fresh = append([]models.Item{e}, fresh...)
	}

	res := make([]models.Item, 0, len(fresh)+len(items))
	res = append(res, fresh...)
	res = append(res, items...)
	s.Replace(feedID, res)
	return res, models.Unread(res)
}

// MarkRead sets read flag of the item with link. Returns updated list, unread count and false if no such item.
func (s *Items) MarkRead(feedID, link string) ([]models.Item, int, bool) {
	items, _ := s.Load(feedID)
	found := false
	for i := range items {
		if items[i].Link != link {
			continue
		}
		found = true
		if !items[i].Read {
			items[i].Read = true
			s.Replace(feedID, items)
		}
		break
	}
	return items, models.Unread(items), found
}

// Remove deletes all items of the feed
func (s *Items) Remove(feedID string) bool {
	delete(s.mem, feedID)
	return s.kv.Remove(itemsKey(feedID))
}

func itemsKey(feedID string) string {
	return keyItemsPrefix + feedID
}

func clone(items []models.Item) []models.Item {
	if items == nil {
		return nil
	}
	res := make([]models.Item, len(items))
	copy(res, items)
	return res
}
