package main

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"
	"gopkg.in/yaml.v2"

	"github.com/umputun/feed-reader/app/api"
	"github.com/umputun/feed-reader/app/badge"
	"github.com/umputun/feed-reader/app/feed"
	"github.com/umputun/feed-reader/app/proc"
	"github.com/umputun/feed-reader/app/share"
	"github.com/umputun/feed-reader/app/store"
)

type options struct {
	DB        string `short:"c" long:"db" env:"FR_DB" default:"var/feed-reader.bdb" description:"bolt db file"`
	Conf      string `short:"f" long:"conf" env:"FR_CONF" description:"config file (yml)"`
	Namespace string `long:"namespace" env:"FR_NAMESPACE" description:"storage keys namespace, overrides config"`
	Port      int    `long:"port" env:"FR_PORT" default:"8080" description:"rest server port"`

	// overrides of config's system section
	UpdateInterval time.Duration `long:"update-interval" env:"UPDATE_INTERVAL" description:"update interval, overrides config"`
	Concurrent     int           `long:"concurrent" env:"FR_CONCURRENT" description:"concurrent fetches, overrides config"`
	RefreshOnStart bool          `long:"refresh-on-start" env:"FR_REFRESH_ON_START" description:"refresh all feeds on start"`

	Favicon string `long:"favicon" env:"FR_FAVICON" description:"favicon file rewritten on unread changes, overrides config"`

	TelegramServer  string        `long:"telegram_server" env:"TELEGRAM_SERVER" default:"https://api.telegram.org" description:"telegram bot api server"`
	TelegramToken   string        `long:"telegram_token" env:"TELEGRAM_TOKEN" description:"telegram token"`
	TelegramTimeout time.Duration `long:"telegram_timeout" env:"TELEGRAM_TIMEOUT" default:"1m" description:"telegram timeout"`
	TelegramChannel string        `long:"telegram_channel" env:"TELEGRAM_CHANNEL" description:"telegram channel for shared items, overrides config"`

	Dbg bool `long:"dbg" env:"DEBUG" description:"debug mode"`
}

var revision = "local"

func main() {
	fmt.Printf("feed-reader %s\n", revision)
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}
	setupLog(opts.Dbg)

	conf := &proc.Conf{}
	if opts.Conf != "" {
		var err error
		if conf, err = loadConfig(opts.Conf); err != nil {
			log.Fatalf("[ERROR] can't load config %s, %v", opts.Conf, err)
		}
	}
	applyOverrides(conf, opts)
	conf.SetDefaults()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	kv := store.NewKV(opts.DB, conf.System.Namespace)
	defer func() {
		if err := kv.Close(); err != nil {
			log.Printf("[WARN] can't close db, %v", err)
		}
	}()

	renderer, err := badge.New(badge.Opts{BaseIcon: conf.Badge.Icon, OutputFile: conf.Badge.Output})
	if err != nil {
		log.Fatalf("[ERROR] can't make badge renderer, %v", err)
	}

	coordinator := proc.NewCoordinator(proc.Params{
		Fetcher:    feed.NewFetcher(conf.System.FetchTimeout, conf.System.MaxItems),
		Directory:  store.NewDirectory(kv, renderer),
		Items:      store.NewItems(kv),
		Sharer:     share.Widget{},
		Concurrent: conf.System.Concurrent,
	})
	coordinatorDone := make(chan struct{})
	go func() {
		defer close(coordinatorDone)
		if err := coordinator.Run(ctx); err != nil {
			log.Printf("[DEBUG] coordinator terminated, %v", err)
		}
	}()

	go subscribeConfigured(ctx, coordinator, conf.Feeds)

	p := &proc.Processor{
		Refresher:      coordinator,
		UpdateInterval: conf.System.UpdateInterval,
		RefreshOnStart: conf.System.RefreshOnStart,
	}
	go p.Do(ctx)

	server := api.Server{
		Version:     revision,
		Coordinator: coordinator,
		Icon:        renderer,
	}

	if opts.TelegramToken != "" {
		tg, err := share.NewTelegram(opts.TelegramToken, opts.TelegramServer, opts.TelegramTimeout, conf.Telegram.Channel)
		if err != nil {
			log.Fatalf("[ERROR] failed to initialize telegram client, %v", err)
		}
		tg.Feeds = coordinator
		server.Publisher = tg
		go tg.Start(ctx)
	}

	runServer(ctx, cancel, &server, opts.Port, coordinatorDone)
}

// runServer blocks on http server, stops everything else if the server terminated on its own
func runServer(ctx context.Context, cancel context.CancelFunc, server *api.Server, port int, done <-chan struct{}) {
	server.Run(ctx, port)
	cancel()
	<-done
}

// subscribeConfigured adds feeds listed in config, known ones are merged by coordinator
func subscribeConfigured(ctx context.Context, c *proc.Coordinator, urls []string) {
	for _, u := range urls {
		f, err := c.Subscribe(ctx, u)
		if err != nil {
			log.Printf("[WARN] can't subscribe to configured feed %s, %v", u, err)
			continue
		}
		log.Printf("[INFO] configured feed %s, unread %d", f.ID, f.UnreadCount)
	}
}

func applyOverrides(conf *proc.Conf, opts options) {
	if opts.Namespace != "" {
		conf.System.Namespace = opts.Namespace
	}
	if opts.UpdateInterval > 0 {
		conf.System.UpdateInterval = opts.UpdateInterval
	}
	if opts.Concurrent > 0 {
		conf.System.Concurrent = opts.Concurrent
	}
	if opts.RefreshOnStart {
		conf.System.RefreshOnStart = true
	}
	if opts.Favicon != "" {
		conf.Badge.Output = opts.Favicon
	}
	if opts.TelegramChannel != "" {
		conf.Telegram.Channel = opts.TelegramChannel
	}
}

func loadConfig(fname string) (res *proc.Conf, err error) {
	res = &proc.Conf{}
	data, err := ioutil.ReadFile(fname) // nolint
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, res); err != nil {
		return nil, err
	}

	return res, nil
}

func setupLog(dbg bool) {
	if dbg {
		log.Setup(log.Debug, log.CallerFile, log.Msec, log.LevelBraces)
		return
	}
	log.Setup(log.Msec, log.LevelBraces)
}
