package store

import (
	log "github.com/go-pkgz/lgr"

	"github.com/umputun/feed-reader/app/models"
)

const keyFeedList = "feedlist"

// BadgeRenderer draws global unread badge, nil count means no badge
type BadgeRenderer interface {
	Render(count *int)
}

// Directory is the list of subscribed feeds with their unread counts.
// It keeps in-memory copy and rewrites the whole list in storage on every change.
// Not thread-safe, supposed to be owned by a single goroutine.
type Directory struct {
	kv    Storage
	badge BadgeRenderer
	feeds []models.Feed
}

// NewDirectory makes Directory, badge is optional
func NewDirectory(kv Storage, badge BadgeRenderer) *Directory {
	return &Directory{kv: kv, badge: badge, feeds: []models.Feed{}}
}

// Init prepares storage on the first run: clears stale namespaced keys and stores empty list.
// Returns true if it was the first run.
func (d *Directory) Init() bool {
	var feeds []models.Feed
	if d.kv.Get(keyFeedList, &feeds) {
		return false
	}
	log.Printf("[INFO] no feed list found, initialize storage")
	d.kv.ClearAll()
	d.feeds = []models.Feed{}
	d.kv.Set(keyFeedList, d.feeds)
	return true
}

// Load reads feed list from storage, empty list if nothing stored or value broken.
// With unavailable storage the in-memory list returned.
func (d *Directory) Load() []models.Feed {
	if !d.kv.Available() {
		return d.List()
	}
	var stored []models.Feed
	if !d.kv.Get(keyFeedList, &stored) {
		d.feeds = []models.Feed{}
		return d.List()
	}

	res := make([]models.Feed, 0, len(stored))
	seen := map[string]bool{}
	for _, f := range stored {
		if !f.Valid() || seen[f.ID] {
			log.Printf("[WARN] skip invalid feed record %+v", f)
			continue
		}
		seen[f.ID] = true
		res = append(res, f)
	}
	d.feeds = res
	return d.List()
}

// List returns copy of in-memory feeds
func (d *Directory) List() []models.Feed {
	res := make([]models.Feed, len(d.feeds))
	copy(res, d.feeds)
	return res
}

// Get feed by id
func (d *Directory) Get(id string) (models.Feed, bool) {
	if i := d.index(id); i >= 0 {
		return d.feeds[i], true
	}
	return models.Feed{}, false
}

// Add appends new feed and saves the list. No-op if id already known.
func (d *Directory) Add(id, name string, unread int) bool {
	if d.index(id) >= 0 {
		log.Printf("[DEBUG] feed %s already in the list", id)
		return false
	}
	if unread < 0 {
		unread = 0
	}
	d.feeds = append(d.feeds, models.Feed{ID: id, Name: name, UnreadCount: unread})
	d.save()
	return true
}

// UpdateUnreadCount sets unread count of a single feed and saves the list
func (d *Directory) UpdateUnreadCount(id string, count int) bool {
	i := d.index(id)
	if i < 0 {
		return false
	}
	if count < 0 {
		count = 0
	}
	d.feeds[i].UnreadCount = count
	d.save()
	return true
}

// Remove deletes feed from the list. Caller is responsible for the feed's items.
func (d *Directory) Remove(id string) bool {
	i := d.index(id)
	if i < 0 {
		return false
	}
	d.feeds = append(d.feeds[:i], d.feeds[i+1:]...)
	d.save()
	return true
}

// Total sums unread counts of all feeds
func (d *Directory) Total() int {
	res := 0
	for _, f := range d.feeds {
		res += f.UnreadCount
	}
	return res
}

// RecomputeGlobalBadge passes total unread to badge renderer, zero total means no badge
func (d *Directory) RecomputeGlobalBadge() *int {
	var count *int
	if total := d.Total(); total > 0 {
		count = &total
	}
	if d.badge != nil {
		d.badge.Render(count)
	}
	return count
}

func (d *Directory) save() {
	if !d.kv.Set(keyFeedList, d.feeds) && d.kv.Available() {
		log.Printf("[WARN] failed to save feed list")
	}
}

func (d *Directory) index(id string) int {
	for i, f := range d.feeds {
		if f.ID == id {
			return i
		}
	}
	return -1
}
