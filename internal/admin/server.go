// Package admin serves the local HTTP control surface of a running engine:
// health and readiness checks, Prometheus metrics, a status snapshot, the
// contact directory and action submission.
package admin

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/msnctl/internal/engine"
	"github.com/danmuck/msnctl/internal/observability"
	"github.com/danmuck/msnctl/internal/session"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

var (
	ErrActionNotFound = errors.New("admin: action not found")
	ErrBadRequest     = errors.New("admin: bad request")
)

// Source is the engine view the admin surface reads.
type Source interface {
	ID() string
	Phase() engine.Phase
	Session() *session.Session
	ConversationIDs() []int
	LastPong() time.Time
}

type Server struct {
	Addr     string
	src      Source
	router   *gin.Engine
	appeared time.Time
}

func New(addr string, src Source, corsOrigins []string) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger, src.ID()))
	r.Use(observability.RequestMetricsMiddleware(src.ID()))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		Addr:     addr,
		src:      src,
		router:   r,
		appeared: time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

// Serve listens until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Msgf("admin.Server.Serve addr=%q engine=%s", s.Addr, s.src.ID())
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type statusView struct {
	Engine        string    `json:"engine"`
	Phase         string    `json:"phase"`
	Account       string    `json:"account"`
	Status        string    `json:"status"`
	Conversations []int     `json:"conversations"`
	Contacts      int       `json:"contacts"`
	DroppedEvents uint64    `json:"dropped_events"`
	LastPong      time.Time `json:"last_pong,omitempty"`
}

type contactView struct {
	Account string            `json:"account"`
	Nick    string            `json:"nick"`
	Status  string            `json:"status"`
	Message string            `json:"message,omitempty"`
	Media   string            `json:"media,omitempty"`
	Attrs   map[string]string `json:"attrs,omitempty"`
}

type actionRequest struct {
	Args []any `json:"args"`
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"service": s.src.ID(),
			"version": version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/ready", func(c *gin.Context) {
		phase := s.src.Phase()
		code := http.StatusOK
		if phase != engine.PhaseSteady {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"ready":   phase == engine.PhaseSteady,
			"phase":   phase.String(),
			"uptime":  time.Since(s.appeared).String(),
			"service": s.src.ID(),
			"version": version,
		})
	})

	s.router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.snapshot())
	})

	s.router.GET("/contacts", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"contacts": s.contacts(),
		})
	})

	s.router.POST("/actions/:action", func(c *gin.Context) {
		var req actionRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": ErrBadRequest.Error() + ": " + err.Error()})
				return
			}
		}
		if err := s.Submit(c.Request.Context(), c.Param("action"), req.Args); err != nil {
			code := http.StatusServiceUnavailable
			if errors.Is(err, ErrActionNotFound) {
				code = http.StatusNotFound
			}
			c.JSON(code, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "queued", "action": c.Param("action")})
	})
}

// Submit queues a named action ("send-message" or "send message").
func (s *Server) Submit(ctx context.Context, name string, args []any) error {
	id, ok := session.ParseActionID(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", " "))
	if !ok {
		return ErrActionNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.src.Session().Submit(ctx, session.NewAction(id, args...)); err != nil {
		log.Warn().Msgf("admin.Server.Submit action=%q err=%v", name, err)
		return err
	}
	log.Info().Msgf("admin.Server.Submit action=%q args=%d", id, len(args))
	return nil
}

func (s *Server) snapshot() statusView {
	sess := s.src.Session()
	acct := sess.Account()
	ids := s.src.ConversationIDs()
	if ids == nil {
		ids = []int{}
	}
	return statusView{
		Engine:        s.src.ID(),
		Phase:         s.src.Phase().String(),
		Account:       acct.Account,
		Status:        acct.Status.String(),
		Conversations: ids,
		Contacts:      sess.Contacts().Len(),
		DroppedEvents: sess.DroppedEvents(),
		LastPong:      s.src.LastPong(),
	}
}

func (s *Server) contacts() []contactView {
	list := s.src.Session().Contacts().List()
	out := make([]contactView, 0, len(list))
	for _, c := range list {
		out = append(out, contactView{
			Account: c.Account,
			Nick:    c.Nick,
			Status:  c.Status.String(),
			Message: c.Message,
			Media:   c.Media,
			Attrs:   c.Attrs,
		})
	}
	return out
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
