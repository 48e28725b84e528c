package share

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/microcosm-cc/bluemonday"
	"github.com/pkg/errors"
	"golang.org/x/net/html"
	tb "gopkg.in/tucnak/telebot.v2"

	"github.com/umputun/feed-reader/app/models"
)

// FeedLister provides subscribed feeds for bot commands
type FeedLister interface {
	Feeds(ctx context.Context) ([]models.Feed, error)
}

// Telegram publishes items to a channel and answers unread counts in private chats
type Telegram struct {
	Bot     *tb.Bot
	Channel string
	Feeds   FeedLister
}

// NewTelegram init telegram client
func NewTelegram(token, apiURL string, timeout time.Duration, channel string) (*Telegram, error) {
	if timeout == 0 {
		timeout = time.Second * 60
	}

	if token == "" {
		return nil, errors.New("empty telegram token")
	}

	bot, err := tb.NewBot(tb.Settings{
		URL:    apiURL,
		Token:  token,
		Poller: &tb.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, errors.Wrap(err, "can't make telegram bot")
	}

	return &Telegram{Bot: bot, Channel: channel}, nil
}

// Publish sends item to the channel
func (t *Telegram) Publish(item models.Item) error {
	if t.Channel == "" {
		return errors.New("no telegram channel")
	}
	_, err := t.Bot.Send(recipient{chatID: t.Channel}, messageHTML(item), tb.ModeHTML, tb.NoPreview)
	if err != nil {
		return errors.Wrapf(err, "can't send %s to %s", item.Link, t.Channel)
	}
	log.Printf("[INFO] published %s to %s", item.Link, t.Channel)
	return nil
}

// https://core.telegram.org/bots/api#html-style
func tagLinkOnlySupport(htmlText string) string {
	p := bluemonday.NewPolicy()
	p.AllowAttrs("href").OnElements("a")
	return html.UnescapeString(p.Sanitize(htmlText))
}

// messageHTML generates telegram HTML message from item
func messageHTML(item models.Item) string {
	// bluemonday doesn't remove escaped HTML tags
	res := strings.TrimSpace(tagLinkOnlySupport(html.UnescapeString(item.Content)))

	title := strings.TrimSpace(item.Title)
	switch {
	case title == "":
	case item.Link == "":
		res = fmt.Sprintf("%s\n\n", title) + res
	default:
		res = fmt.Sprintf("<a href=\"%s\">%s</a>\n\n", item.Link, title) + res
	}
	return strings.TrimSpace(res)
}

type recipient struct {
	chatID string
}

func (r recipient) Recipient() string {
	if !strings.HasPrefix(r.chatID, "@") {
		return "@" + r.chatID
	}

	return r.chatID
}

const (
	commandStart  = "/start"
	commandHelp   = "/help"
	commandUnread = "/unread"

	msgHelp = `Use commands:
/unread - unread counts of subscribed feeds
`
)

// Start handles bot commands until ctx canceled
func (t *Telegram) Start(ctx context.Context) {
	menu := &tb.ReplyMarkup{ResizeReplyKeyboard: true}
	menu.Reply(menu.Row(menu.Text(commandUnread)), menu.Row(menu.Text(commandHelp)))

	help := func(m *tb.Message) {
		if !m.Private() {
			return
		}
		if _, err := t.Bot.Send(m.Sender, msgHelp, menu); err != nil {
			log.Printf("[WARN] can't send help, %v", err)
		}
		logCommand(m.Text, m.Chat.ID)
	}
	t.Bot.Handle(commandStart, help)
	t.Bot.Handle(commandHelp, help)

	t.Bot.Handle(commandUnread, func(m *tb.Message) {
		if !m.Private() || t.Feeds == nil {
			return
		}
		logCommand(commandUnread, m.Chat.ID)
		feeds, err := t.Feeds.Feeds(ctx)
		if err != nil {
			log.Printf("[WARN] can't get feeds, %v", err)
			return
		}
		if _, err := t.Bot.Send(m.Sender, unreadReport(feeds), menu); err != nil {
			log.Printf("[WARN] can't send unread report, %v", err)
		}
	})

	go func() {
		<-ctx.Done()
		t.Bot.Stop()
	}()

	log.Print("[INFO] telegram bot started")
	t.Bot.Start()
	log.Print("[INFO] telegram bot stopped")
}

func unreadReport(feeds []models.Feed) string {
	if len(feeds) == 0 {
		return "No subscriptions"
	}
	sb := strings.Builder{}
	total := 0
	for _, f := range feeds {
		total += f.UnreadCount
		sb.WriteString(fmt.Sprintf("%s: %d\n", f.Name, f.UnreadCount))
	}
	sb.WriteString(fmt.Sprintf("\ntotal: %d", total))
	return sb.String()
}

func logCommand(command string, chatID int64) {
	log.Printf("[DEBUG] telegram receive command: '%s' in chat: '%d'", command, chatID)
}
