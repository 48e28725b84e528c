package proc

import (
	"context"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/syncs"
	"github.com/pkg/errors"

	"github.com/umputun/feed-reader/app/feed"
	"github.com/umputun/feed-reader/app/models"
	"github.com/umputun/feed-reader/app/store"
)

const maxMessages = 50

// errors returned to user
var (
	ErrEmptyURL     = errors.New("empty URL, nothing to subscribe")
	ErrFeedNotFound = errors.New("feed not found")
	ErrItemNotFound = errors.New("item not found")
	ErrStopped      = errors.New("coordinator stopped")
)

// Fetcher loads a feed by url
type Fetcher interface {
	Fetch(ctx context.Context, url string) (feed.Result, error)
}

// Sharer makes share affordance for opened item, returns share link
type Sharer interface {
	Share(link, title string) string
}

// Status of refresh machinery
type Status string

// refresh statuses
const (
	StatusIdle     Status = "idle"
	StatusInFlight Status = "in-flight"
	StatusSettling Status = "settling"
)

// State is a snapshot of coordinator's view
type State struct {
	Feeds        []models.Feed `json:"feeds"`
	Unread       int           `json:"unread"`
	SelectedFeed string        `json:"selected_feed,omitempty"`
	SelectedItem *models.Item  `json:"selected_item,omitempty"`
	ShareLink    string        `json:"share_link,omitempty"`
	Items        []models.Item `json:"items,omitempty"`
	Status       Status        `json:"status"`
	InFlight     int           `json:"in_flight"`
	LastUpdate   time.Time     `json:"last_update"`
}

// Params for NewCoordinator
type Params struct {
	Fetcher    Fetcher
	Directory  *store.Directory
	Items      *store.Items
	Sharer     Sharer
	Concurrent int
}

// Coordinator keeps feed directory, items and unread counts in sync.
// All state changes happen on the Run goroutine, public methods post commands to it and wait for the result.
// Feed fetches run outside and report completions back as events.
type Coordinator struct {
	Params

	cmds    chan func()
	results chan fetchResult
	done    chan struct{}
	ctx     context.Context

	// owned by Run goroutine
	inFlight     int
	status       Status
	selectedFeed string
	selectedItem *models.Item
	shareLink    string
	active       []models.Item
	lastUpdate   time.Time
	messages     []string
}

type fetchResult struct {
	feedID string
	res    feed.Result
	err    error
}

// NewCoordinator makes Coordinator, Run should be called to process anything
func NewCoordinator(p Params) *Coordinator {
	if p.Concurrent <= 0 {
		p.Concurrent = 8
	}
	return &Coordinator{
		Params:  p,
		cmds:    make(chan func()),
		results: make(chan fetchResult),
		done:    make(chan struct{}),
		status:  StatusIdle,
	}
}

// Run initializes storage on the first start and processes commands and fetch results until ctx canceled
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.done)
	c.ctx = ctx
	c.Directory.Init()
	c.Directory.Load()
	c.Directory.RecomputeGlobalBadge()
	log.Printf("[INFO] coordinator started, %d feeds", len(c.Directory.List()))

	for {
		select {
		case <-ctx.Done():
			log.Printf("[INFO] coordinator stopped, %v", ctx.Err())
			return ctx.Err()
		case cmd := <-c.cmds:
			cmd()
		case r := <-c.results:
			c.onFetched(r)
		}
	}
}

// Subscribe fetches feed by url and adds it to directory with all entries unread.
// Subscription to already known feed merges fetched entries into it.
func (c *Coordinator) Subscribe(ctx context.Context, feedURL string) (models.Feed, error) {
	feedURL = strings.TrimSpace(feedURL)
	if feedURL == "" {
		c.exec(ctx, func() { c.notify(ErrEmptyURL.Error()) }) // nolint
		return models.Feed{}, ErrEmptyURL
	}

	res, err := c.Fetcher.Fetch(ctx, feedURL)
	if err != nil {
		msg := err.Error()
		c.exec(ctx, func() { c.notify(msg) }) // nolint
		return models.Feed{}, errors.Wrapf(err, "can't subscribe to %s", feedURL)
	}

	var result models.Feed
	err = c.exec(ctx, func() {
		id := res.FeedURL
		if id == "" {
			id = feedURL
		}
		if existing, ok := c.Directory.Get(id); ok {
			log.Printf("[INFO] already subscribed to %s, merge entries", id)
			items, unread := c.Items.Merge(id, toItems(res.Entries))
			c.Directory.UpdateUnreadCount(id, unread)
			c.refreshActive(id, items)
			c.Directory.RecomputeGlobalBadge()
			result = existing
			result.UnreadCount = unread
			return
		}

		c.Items.Remove(id) // leftovers of a removed feed
		items, unread := c.Items.Merge(id, toItems(res.Entries))
		c.Directory.Add(id, res.Title, unread)
		c.refreshActive(id, items)
		c.Directory.RecomputeGlobalBadge()
		result, _ = c.Directory.Get(id)
		log.Printf("[INFO] subscribed to %s (%s), %d entries", id, res.Title, unread)
	})
	return result, err
}

// Unsubscribe removes feed and all its items
func (c *Coordinator) Unsubscribe(ctx context.Context, feedID string) error {
	var err error
	if e := c.exec(ctx, func() {
		if !c.Directory.Remove(feedID) {
			err = ErrFeedNotFound
			return
		}
		c.Items.Remove(feedID)
		if c.selectedFeed == feedID {
			c.selectedFeed, c.selectedItem, c.shareLink, c.active = "", nil, "", nil
		}
		c.Directory.RecomputeGlobalBadge()
		log.Printf("[INFO] unsubscribed from %s", feedID)
	}); e != nil {
		return e
	}
	return err
}

// RefreshAll fetches all subscribed feeds concurrently. Returns once fetches issued,
// directory and badge settled after the last completion.
func (c *Coordinator) RefreshAll(ctx context.Context) error {
	return c.exec(ctx, func() {
		feeds := c.Directory.List()
		c.lastUpdate = time.Now()
		if len(feeds) == 0 {
			if c.inFlight == 0 {
				c.settle()
			}
			return
		}
		c.inFlight += len(feeds)
		c.status = StatusInFlight
		log.Printf("[DEBUG] refresh %d feeds, in flight %d", len(feeds), c.inFlight)
		go c.fetchAll(feeds)
	})
}

// Read marks item as read and updates unread counts
func (c *Coordinator) Read(ctx context.Context, feedID, link string) (models.Item, error) {
	var item models.Item
	var err error
	if e := c.exec(ctx, func() {
		if _, ok := c.Directory.Get(feedID); !ok {
			err = ErrFeedNotFound
			return
		}
		items, unread, ok := c.Items.MarkRead(feedID, link)
		if !ok {
			err = ErrItemNotFound
			return
		}
		c.Directory.UpdateUnreadCount(feedID, unread)
		c.Directory.RecomputeGlobalBadge()
		c.refreshActive(feedID, items)
		for _, it := range items {
			if it.Link == link {
				item = it
				break
			}
		}
		c.selectedItem = &item
		c.shareLink = ""
		if c.Sharer != nil {
			c.shareLink = c.Sharer.Share(item.Link, item.Title)
		}
	}); e != nil {
		return models.Item{}, e
	}
	return item, err
}

// Item returns item of a feed without changing anything
func (c *Coordinator) Item(ctx context.Context, feedID, link string) (models.Item, error) {
	var item models.Item
	err := ErrItemNotFound
	if e := c.exec(ctx, func() {
		items, _ := c.Items.Load(feedID)
		for _, it := range items {
			if it.Link == link {
				item, err = it, nil
				return
			}
		}
	}); e != nil {
		return models.Item{}, e
	}
	return item, err
}

// SwitchFeed selects feed, clears selected item and returns the feed's items
func (c *Coordinator) SwitchFeed(ctx context.Context, feedID string) ([]models.Item, error) {
	var items []models.Item
	var err error
	if e := c.exec(ctx, func() {
		if _, ok := c.Directory.Get(feedID); !ok {
			err = ErrFeedNotFound
			return
		}
		c.selectedFeed = feedID
		c.selectedItem = nil
		c.shareLink = ""
		c.active, _ = c.Items.Load(feedID)
		items = append([]models.Item{}, c.active...)
	}); e != nil {
		return nil, e
	}
	return items, err
}

// Feeds returns subscribed feeds
func (c *Coordinator) Feeds(ctx context.Context) ([]models.Feed, error) {
	var feeds []models.Feed
	err := c.exec(ctx, func() { feeds = c.Directory.List() })
	return feeds, err
}

// State returns snapshot of the view
func (c *Coordinator) State(ctx context.Context) (State, error) {
	var st State
	err := c.exec(ctx, func() {
		st = State{
			Feeds:        c.Directory.List(),
			Unread:       c.Directory.Total(),
			SelectedFeed: c.selectedFeed,
			ShareLink:    c.shareLink,
			Items:        append([]models.Item{}, c.active...),
			Status:       c.status,
			InFlight:     c.inFlight,
			LastUpdate:   c.lastUpdate,
		}
		if c.selectedItem != nil {
			it := *c.selectedItem
			st.SelectedItem = &it
		}
	})
	return st, err
}

// Messages returns recent user-visible messages, oldest first
func (c *Coordinator) Messages(ctx context.Context) ([]string, error) {
	var res []string
	err := c.exec(ctx, func() { res = append([]string{}, c.messages...) })
	return res, err
}

// exec runs fn on the Run goroutine and waits for completion.
// Once fn accepted it runs to the end, exec waits for it regardless of ctx, so values fn writes are safe to read.
func (c *Coordinator) exec(ctx context.Context, fn func()) error {
	completed := make(chan struct{})
	select {
	case c.cmds <- func() { fn(); close(completed) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
	<-completed
	return nil
}

// fetchAll issues fetch for each feed and sends results back to Run
func (c *Coordinator) fetchAll(feeds []models.Feed) {
	swg := syncs.NewSizedGroup(c.Concurrent)
	for _, f := range feeds {
		f := f
		swg.Go(func(context.Context) {
			res, err := c.Fetcher.Fetch(c.ctx, f.ID)
			select {
			case c.results <- fetchResult{feedID: f.ID, res: res, err: err}:
			case <-c.ctx.Done():
			}
		})
	}
	swg.Wait()
}

// onFetched merges a single feed's completion, settles when the last one arrived
func (c *Coordinator) onFetched(r fetchResult) {
	defer func() {
		c.inFlight--
		if c.inFlight <= 0 {
			c.inFlight = 0
			c.settle()
		}
	}()

	var apiErr *feed.APIError
	switch {
	case errors.As(r.err, &apiErr):
		log.Printf("[WARN] refresh of %s failed, %v", r.feedID, r.err)
		c.notify(apiErr.Error())
		return
	case r.err != nil:
		log.Printf("[DEBUG] refresh of %s dropped, %v", r.feedID, r.err)
		return
	}

	if _, ok := c.Directory.Get(r.feedID); !ok {
		log.Printf("[DEBUG] feed %s gone, skip refresh result", r.feedID)
		return
	}
	_, unread := c.Items.Merge(r.feedID, toItems(r.res.Entries))
	c.Directory.UpdateUnreadCount(r.feedID, unread)
	log.Printf("[DEBUG] refreshed %s, unread %d", r.feedID, unread)
}

// settle reloads directory and active items from storage and recomputes badge
func (c *Coordinator) settle() {
	c.status = StatusSettling
	c.Directory.Load()
	if c.selectedFeed != "" {
		c.active, _ = c.Items.Load(c.selectedFeed)
	}
	c.Directory.RecomputeGlobalBadge()
	c.status = StatusIdle
	log.Printf("[DEBUG] refresh completed, total unread %d", c.Directory.Total())
}

func (c *Coordinator) refreshActive(feedID string, items []models.Item) {
	if c.selectedFeed == feedID {
		c.active = items
	}
}

func (c *Coordinator) notify(msg string) {
	log.Printf("[INFO] message: %s", msg)
	c.messages = append(c.messages, msg)
	if len(c.messages) > maxMessages {
		c.messages = c.messages[len(c.messages)-maxMessages:]
	}
}

func toItems(entries []feed.Entry) []models.Item {
	res := make([]models.Item, 0, len(entries))
	for _, e := range entries {
		res = append(res, models.Item{Link: e.Link, Title: e.Title, Content: e.Content})
	}
	return res
}
