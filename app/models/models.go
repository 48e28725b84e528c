// Package models contains DAO objects
package models

// Feed presents a subscription, ID is the canonical feed URL
type Feed struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	UnreadCount int    `json:"unread"`
}

// Valid checks stored feed record
func (f Feed) Valid() bool {
	return f.ID != "" && f.UnreadCount >= 0
}

// Item presents a single entry of a feed, Link is unique within the feed
type Item struct {
	Link    string `json:"link"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Read    bool   `json:"read"`
}

// Valid checks stored item record
func (i Item) Valid() bool {
	return i.Link != ""
}

// Unread counts items not read yet
func Unread(items []Item) int {
	res := 0
	for _, it := range items {
		if !it.Read {
			res++
		}
	}
	return res
}
