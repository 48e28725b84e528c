// Package share makes share affordances for items and publishes items to telegram channel
package share

import (
	"net/url"

	log "github.com/go-pkgz/lgr"
)

const shareURL = "https://t.me/share/url"

// Link makes share url for item's link and title
func Link(link, title string) string {
	q := url.Values{}
	q.Set("url", link)
	q.Set("text", title)
	return shareURL + "?" + q.Encode()
}

// Widget renders share affordance for the opened item
type Widget struct{}

// Share makes share link for the opened item
func (Widget) Share(link, title string) string {
	res := Link(link, title)
	log.Printf("[DEBUG] share %q via %s", title, res)
	return res
}
