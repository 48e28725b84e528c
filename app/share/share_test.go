package share

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/feed-reader/app/models"
)

func TestLink(t *testing.T) {
	res := Link("http://example.com/a?b=1&c=2", "some title")
	u, err := url.Parse(res)
	require.NoError(t, err)
	assert.Equal(t, "t.me", u.Host)
	assert.Equal(t, "http://example.com/a?b=1&c=2", u.Query().Get("url"))
	assert.Equal(t, "some title", u.Query().Get("text"))
}

func TestWidget_Share(t *testing.T) {
	assert.Equal(t, Link("http://example.com/1", "title"), Widget{}.Share("http://example.com/1", "title"))
}

func TestMessageHTML(t *testing.T) {
	tbl := []struct {
		item models.Item
		exp  string
	}{
		{
			models.Item{Link: "http://example.com/1", Title: " title ", Content: `<p>body <a href="http://x" class="c">link</a></p>`},
			"<a href=\"http://example.com/1\">title</a>\n\nbody <a href=\"http://x\">link</a>",
		},
		{
			models.Item{Title: "title", Content: "&lt;b&gt;escaped&lt;/b&gt;"},
			"title\n\nescaped",
		},
		{
			models.Item{Link: "http://example.com/2", Content: "just body"},
			"just body",
		},
	}
	for i, tt := range tbl {
		assert.Equal(t, tt.exp, messageHTML(tt.item), "case %d", i)
	}
}

func TestRecipient(t *testing.T) {
	assert.Equal(t, "@chan", recipient{chatID: "chan"}.Recipient())
	assert.Equal(t, "@chan", recipient{chatID: "@chan"}.Recipient())
}

func TestUnreadReport(t *testing.T) {
	assert.Equal(t, "No subscriptions", unreadReport(nil))
	assert.Equal(t, "A: 2\nB: 3\n\ntotal: 5", unreadReport([]models.Feed{{Name: "A", UnreadCount: 2}, {Name: "B", UnreadCount: 3}}))
}

func TestTelegram_PublishNoChannel(t *testing.T) {
	tg := Telegram{}
	assert.Error(t, tg.Publish(models.Item{Link: "http://example.com"}))
}
