// Package feed fetches and parses rss/atom feeds into entries
package feed

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
	"github.com/pkg/errors"
	"golang.org/x/net/html"
)

// DefaultMaxEntries is the number of entries taken from a single fetch
const DefaultMaxEntries = 20

// Entry is a single article of fetched feed
type Entry struct {
	Link    string
	Title   string
	Content string
}

// Result of a feed fetch
type Result struct {
	Title   string
	FeedURL string // canonical feed url
	Entries []Entry
}

// APIError reported when feed source answered but not with a usable feed,
// as opposed to network failures
type APIError struct {
	URL     string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("can't load %s: %s", e.URL, e.Message)
}

// Fetcher loads feeds with gofeed
type Fetcher struct {
	MaxEntries int
	parser     *gofeed.Parser
	policy     *bluemonday.Policy
}

// NewFetcher makes Fetcher with http timeout and limit of entries per fetch
func NewFetcher(timeout time.Duration, maxEntries int) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	p := gofeed.NewParser()
	p.Client = &http.Client{Timeout: timeout}
	return &Fetcher{MaxEntries: maxEntries, parser: p, policy: bluemonday.UGCPolicy()}
}

// Fetch loads feed by url. Returns *APIError if source responded with an error or not a feed.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) (Result, error) {
	rss, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return Result{}, classify(feedURL, err)
	}

	res := Result{Title: strings.TrimSpace(html.UnescapeString(rss.Title)), FeedURL: feedURL}
	if u, e := url.Parse(rss.FeedLink); e == nil && u.IsAbs() && rss.FeedLink != "" {
		res.FeedURL = rss.FeedLink
	}
	if res.Title == "" {
		res.Title = res.FeedURL
	}

	for _, it := range rss.Items {
		if len(res.Entries) >= f.MaxEntries {
			break
		}
		if it == nil {
			continue
		}
		link := strings.TrimSpace(it.Link)
		if link == "" {
			link = strings.TrimSpace(it.GUID)
		}
		if link == "" {
			log.Printf("[DEBUG] skip entry without link in %s, %q", feedURL, it.Title)
			continue
		}
		content := it.Content
		if content == "" {
			content = it.Description
		}
		res.Entries = append(res.Entries, Entry{
			Link:    link,
			Title:   strings.TrimSpace(html.UnescapeString(it.Title)),
			Content: strings.TrimSpace(f.policy.Sanitize(content)),
		})
	}
	log.Printf("[DEBUG] fetched %s, %d entries", feedURL, len(res.Entries))
	return res, nil
}

// classify splits errors to network failures and feed service errors
func classify(feedURL string, err error) error {
	var httpErr gofeed.HTTPError
	if errors.As(err, &httpErr) {
		return &APIError{URL: feedURL, Message: httpErr.Status}
	}
	if errors.Is(err, gofeed.ErrFeedTypeNotDetected) {
		return &APIError{URL: feedURL, Message: "not a feed"}
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrapf(err, "can't fetch %s", feedURL)
	}
	return &APIError{URL: feedURL, Message: err.Error()}
}
