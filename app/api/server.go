// Package api provides rest-like server for the reader
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/didip/tollbooth"
	"github.com/didip/tollbooth_chi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/pkg/errors"

	"github.com/umputun/feed-reader/app/models"
	"github.com/umputun/feed-reader/app/proc"
	"github.com/umputun/feed-reader/app/share"
)

// Coordinator is the state the server works on
type Coordinator interface {
	Subscribe(ctx context.Context, url string) (models.Feed, error)
	Unsubscribe(ctx context.Context, feedID string) error
	RefreshAll(ctx context.Context) error
	Read(ctx context.Context, feedID, link string) (models.Item, error)
	Item(ctx context.Context, feedID, link string) (models.Item, error)
	SwitchFeed(ctx context.Context, feedID string) ([]models.Item, error)
	State(ctx context.Context) (proc.State, error)
	Messages(ctx context.Context) ([]string, error)
}

// IconSource provides current favicon png
type IconSource interface {
	Icon() []byte
}

// Publisher sends item out, to telegram channel
type Publisher interface {
	Publish(item models.Item) error
}

// Server is a rest access to the reader
type Server struct {
	Version     string
	Coordinator Coordinator
	Icon        IconSource
	Publisher   Publisher // optional

	httpServer *http.Server
	lock       sync.Mutex
}

type itemReq struct {
	Feed string `json:"feed"`
	Link string `json:"link"`
}

// Run starts http server and closes it when ctx canceled
func (s *Server) Run(ctx context.Context, port int) {
	log.Printf("[INFO] starting server on port %d", port)

	s.lock.Lock()
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
	s.lock.Unlock()

	go func() {
		<-ctx.Done()
		s.lock.Lock()
		defer s.lock.Unlock()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] http shutdown error, %s", err)
		}
		log.Print("[DEBUG] http server shutdown completed")
	}()

	err := s.httpServer.ListenAndServe()
	log.Printf("[WARN] http server terminated, %s", err)
}

func (s *Server) routes() chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.RequestID, middleware.RealIP, rest.Recoverer(log.Default()))
	router.Use(middleware.Throttle(1000), middleware.Timeout(60*time.Second))
	router.Use(rest.AppInfo("feed-reader", "umputun", s.Version), rest.Ping)
	router.Use(tollbooth_chi.LimitHandler(tollbooth.NewLimiter(20, nil)))
	router.Use(logger.New(logger.Log(log.Default()), logger.Prefix("[DEBUG]")).Handler)

	router.Route("/api/v1", func(rapi chi.Router) {
		rapi.Get("/feeds", s.getFeedsCtrl)
		rapi.Post("/feeds", s.subscribeCtrl)
		rapi.Delete("/feeds", s.unsubscribeCtrl)
		rapi.Get("/items", s.getItemsCtrl)
		rapi.Post("/read", s.readCtrl)
		rapi.Post("/refresh", s.refreshCtrl)
		rapi.Get("/state", s.getStateCtrl)
		rapi.Get("/messages", s.getMessagesCtrl)
		rapi.Post("/share", s.shareCtrl)
	})
	router.Get("/favicon.png", s.faviconCtrl)
	return router
}

// GET /api/v1/feeds
func (s *Server) getFeedsCtrl(w http.ResponseWriter, r *http.Request) {
	st, err := s.Coordinator.State(r.Context())
	if err != nil {
		s.sendError(w, r, err, "can't get feeds")
		return
	}
	render.JSON(w, r, rest.JSON{"feeds": st.Feeds, "unread": st.Unread})
}

// POST /api/v1/feeds {"url":"http://example.com/rss"}
func (s *Server) subscribeCtrl(w http.ResponseWriter, r *http.Request) {
	req := struct {
		URL string `json:"url"`
	}{}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		sendErrorJSON(w, r, http.StatusBadRequest, err, "can't decode request")
		return
	}
	f, err := s.Coordinator.Subscribe(r.Context(), req.URL)
	if err != nil {
		code := http.StatusBadGateway
		if errors.Is(err, proc.ErrEmptyURL) {
			code = http.StatusBadRequest
		}
		sendErrorJSON(w, r, code, err, "can't subscribe")
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, f)
}

// DELETE /api/v1/feeds?id=http://example.com/rss
func (s *Server) unsubscribeCtrl(w http.ResponseWriter, r *http.Request) {
	if err := s.Coordinator.Unsubscribe(r.Context(), r.URL.Query().Get("id")); err != nil {
		s.sendError(w, r, err, "can't unsubscribe")
		return
	}
	render.JSON(w, r, rest.JSON{"status": "ok"})
}

// GET /api/v1/items?feed=http://example.com/rss, selects the feed
func (s *Server) getItemsCtrl(w http.ResponseWriter, r *http.Request) {
	items, err := s.Coordinator.SwitchFeed(r.Context(), r.URL.Query().Get("feed"))
	if err != nil {
		s.sendError(w, r, err, "can't switch feed")
		return
	}
	render.JSON(w, r, items)
}

// POST /api/v1/read {"feed":"http://example.com/rss","link":"http://example.com/1"}
func (s *Server) readCtrl(w http.ResponseWriter, r *http.Request) {
	req := itemReq{}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		sendErrorJSON(w, r, http.StatusBadRequest, err, "can't decode request")
		return
	}
	item, err := s.Coordinator.Read(r.Context(), req.Feed, req.Link)
	if err != nil {
		s.sendError(w, r, err, "can't read item")
		return
	}
	render.JSON(w, r, rest.JSON{"item": item, "share": share.Link(item.Link, item.Title)})
}

// POST /api/v1/refresh
func (s *Server) refreshCtrl(w http.ResponseWriter, r *http.Request) {
	if err := s.Coordinator.RefreshAll(r.Context()); err != nil {
		s.sendError(w, r, err, "can't refresh")
		return
	}
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, rest.JSON{"status": "refreshing"})
}

// GET /api/v1/state
func (s *Server) getStateCtrl(w http.ResponseWriter, r *http.Request) {
	st, err := s.Coordinator.State(r.Context())
	if err != nil {
		s.sendError(w, r, err, "can't get state")
		return
	}
	render.JSON(w, r, st)
}

// GET /api/v1/messages
func (s *Server) getMessagesCtrl(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.Coordinator.Messages(r.Context())
	if err != nil {
		s.sendError(w, r, err, "can't get messages")
		return
	}
	render.JSON(w, r, msgs)
}

// POST /api/v1/share {"feed":"http://example.com/rss","link":"http://example.com/1"}
func (s *Server) shareCtrl(w http.ResponseWriter, r *http.Request) {
	if s.Publisher == nil {
		sendErrorJSON(w, r, http.StatusNotImplemented, errors.New("no publisher"), "sharing disabled")
		return
	}
	req := itemReq{}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		sendErrorJSON(w, r, http.StatusBadRequest, err, "can't decode request")
		return
	}
	item, err := s.Coordinator.Item(r.Context(), req.Feed, req.Link)
	if err != nil {
		s.sendError(w, r, err, "can't get item")
		return
	}
	if err := s.Publisher.Publish(item); err != nil {
		sendErrorJSON(w, r, http.StatusBadGateway, err, "can't publish")
		return
	}
	render.JSON(w, r, rest.JSON{"status": "ok"})
}

// GET /favicon.png
func (s *Server) faviconCtrl(w http.ResponseWriter, r *http.Request) {
	icon := s.Icon.Icon()
	if len(icon) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	if _, err := w.Write(icon); err != nil {
		log.Printf("[WARN] can't write favicon, %v", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, proc.ErrFeedNotFound), errors.Is(err, proc.ErrItemNotFound):
		code = http.StatusNotFound
	case errors.Is(err, proc.ErrStopped):
		code = http.StatusServiceUnavailable
	}
	sendErrorJSON(w, r, code, err, msg)
}

// sendErrorJSON makes {"error": msg, "details": err} response, details carry the cause shown to user
func sendErrorJSON(w http.ResponseWriter, r *http.Request, code int, err error, msg string) {
	log.Printf("[WARN] %s, %v, %s %s", msg, err, r.Method, r.URL.String())
	render.Status(r, code)
	render.JSON(w, r, rest.JSON{"error": msg, "details": err.Error()})
}
