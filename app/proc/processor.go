// Package proc provides sync coordinator keeping feeds, items and unread counts consistent
// and the periodic refresh loop driving it
package proc

import (
	"context"
	"time"

	log "github.com/go-pkgz/lgr"
)

// Conf for config yml
type Conf struct {
	Feeds  []string `yaml:"feeds"` // subscribed on start if not known yet
	System struct {
		UpdateInterval time.Duration `yaml:"update"`
		RefreshOnStart bool          `yaml:"refresh_on_start"`
		MaxItems       int           `yaml:"max_per_feed"`
		Concurrent     int           `yaml:"concurrent"`
		FetchTimeout   time.Duration `yaml:"fetch_timeout"`
		Namespace      string        `yaml:"namespace"`
	} `yaml:"system"`
	Badge struct {
		Icon   string `yaml:"icon"`
		Output string `yaml:"output"`
	} `yaml:"badge"`
	Telegram struct {
		Channel string `yaml:"channel"`
	} `yaml:"telegram"`
}

// SetDefaults fills missing system settings
func (c *Conf) SetDefaults() {
	if c.System.Concurrent == 0 {
		c.System.Concurrent = 8
	}
	if c.System.MaxItems == 0 {
		c.System.MaxItems = 20
	}
	if c.System.UpdateInterval == 0 {
		c.System.UpdateInterval = time.Minute * 5
	}
	if c.System.FetchTimeout == 0 {
		c.System.FetchTimeout = time.Second * 30
	}
	if c.System.Namespace == "" {
		c.System.Namespace = "rss-reader"
	}
}

// Refresher triggers refresh of all feeds
type Refresher interface {
	RefreshAll(ctx context.Context) error
}

// Processor runs periodic refresh of all feeds
type Processor struct {
	Refresher      Refresher
	UpdateInterval time.Duration
	RefreshOnStart bool
}

// Do activates refresh loop, returns when ctx canceled
func (p *Processor) Do(ctx context.Context) {
	log.Printf("[INFO] activate processor, refresh every %v", p.UpdateInterval)
	if p.UpdateInterval <= 0 {
		p.UpdateInterval = time.Minute * 5
	}

	if p.RefreshOnStart {
		p.refresh(ctx)
	}

	ticker := time.NewTicker(p.UpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[INFO] processor stopped")
			return
		case <-ticker.C:
			p.refresh(ctx)
		}
	}
}

func (p *Processor) refresh(ctx context.Context) {
	if err := p.Refresher.RefreshAll(ctx); err != nil {
		log.Printf("[WARN] refresh failed, %v", err)
		return
	}
	log.Printf("[DEBUG] refresh issued. Next iteration after: '%v'", p.UpdateInterval)
}
