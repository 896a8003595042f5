package relay

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bnema/cocode-cli/internal/domain"
	"github.com/bnema/cocode-cli/internal/ports"
	"github.com/bnema/cocode-cli/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"pkt.systems/pslog"
)

var (
	errRateLimited = errors.New("inbound message rate exceeded")
	errKicked      = errors.New("member dropped by hub")
)

type Config struct {
	// Token, when set, must be presented as a Bearer token on every request.
	Token           string
	Agent           Agent
	AgentDelay      time.Duration
	MessageRate     rate.Limit
	MessageBurst    int
	MaxMessageBytes int64
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	Clock           ports.Clock
}

func DefaultConfig() Config {
	return Config{
		AgentDelay:      2 * time.Second,
		MessageRate:     200,
		MessageBurst:    400,
		MaxMessageBytes: 8 << 20,
		PingInterval:    30 * time.Second,
		WriteTimeout:    10 * time.Second,
	}
}

type Server struct {
	cfg      Config
	store    ports.RelayStore
	rooms    *Rooms
	tasks    *Tasks
	metrics  *Metrics
	upgrader websocket.Upgrader
}

func NewServer(cfg Config, store ports.RelayStore) *Server {
	defaults := DefaultConfig()
	if cfg.MessageRate <= 0 {
		cfg.MessageRate = defaults.MessageRate
	}
	if cfg.MessageBurst <= 0 {
		cfg.MessageBurst = defaults.MessageBurst
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaults.MaxMessageBytes
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = ports.SystemClock{}
	}

	metrics := NewMetrics()
	rooms := NewRooms(store, metrics)
	agent := cfg.Agent
	if agent == nil {
		agent = NewAnnotator(rooms, cfg.AgentDelay, cfg.Clock)
	}

	return &Server{
		cfg:     cfg,
		store:   store,
		rooms:   rooms,
		tasks:   NewTasks(store, store, agent, cfg.Clock, metrics),
		metrics: metrics,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (s *Server) Rooms() *Rooms {
	return s.rooms
}

func (s *Server) Tasks() *Tasks {
	return s.tasks
}

func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Close stops running tasks.
func (s *Server) Close() {
	s.tasks.Close()
}

func (s *Server) Handler() http.Handler {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	authed := engine.Group("/", s.requireToken)
	authed.GET("/crdt", s.handleSync)
	authed.GET("/crdt/:room", s.handleSync)

	v1 := authed.Group("/api/v1")
	v1.POST("/tasks", s.handleCreateTask)
	v1.GET("/tasks/:id", s.handleGetTask)
	v1.GET("/rooms", s.handleListRooms)

	return engine
}

// ListenAndServe serves on addr until ctx is done, then shuts down and
// waits for running tasks.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, listener)
}

func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	log := pslog.Ctx(ctx)
	g, gctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return gctx
		},
	}

	g.Go(func() error {
		log.Info("relay listening", "addr", listener.Addr().String())
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve relay: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown relay: %w", err)
		}
		return nil
	})

	err := g.Wait()
	s.tasks.Close()
	log.Info("relay stopped")
	return err
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		pslog.Ctx(c.Request.Context()).Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (s *Server) requireToken(c *gin.Context) {
	if s.cfg.Token == "" {
		c.Next()
		return
	}
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.cfg.Token)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	c.Next()
}

type createTaskBody struct {
	RoomID    string `json:"roomId"`
	Prompt    any    `json:"prompt"`
	AgentName any    `json:"agentName"`
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var body createTaskBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"taskId": "", "error": "Request body must be a JSON object"})
		return
	}

	prompt, ok := body.Prompt.(string)
	if !ok || prompt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"taskId": "", "error": "Prompt is required and must be a string"})
		return
	}
	var agent domain.AgentName
	if body.AgentName != nil {
		name, ok := body.AgentName.(string)
		if !ok || (name != "" && !domain.AgentName(name).Valid()) {
			c.JSON(http.StatusBadRequest, gin.H{"taskId": "", "error": "Invalid agentName. Must be 'outliner' or 'sequential'"})
			return
		}
		agent = domain.AgentName(name)
	}

	task, warning, err := s.tasks.Create(c.Request.Context(), domain.TaskRequest{
		RoomID:    domain.RoomID(body.RoomID),
		Prompt:    prompt,
		AgentName: agent,
	})
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"taskId": "", "error": err.Error()})
			return
		}
		pslog.Ctx(c.Request.Context()).Error("create task", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"taskId": "", "error": "Failed to create task"})
		return
	}

	resp := gin.H{"taskId": task.ID, "roomId": task.RoomID}
	if warning != "" {
		resp["warning"] = warning
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleGetTask(c *gin.Context) {
	task, err := s.tasks.Get(c.Request.Context(), domain.TaskID(c.Param("id")))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
			return
		}
		pslog.Ctx(c.Request.Context()).Error("get task", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load task"})
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleListRooms(c *gin.Context) {
	page, err := queryInt(c, "page", domain.DefaultPage)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page must be an integer"})
		return
	}
	size, err := queryInt(c, "pageSize", domain.DefaultPageSize)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pageSize must be an integer"})
		return
	}
	req := domain.PageRequest{Page: page, PageSize: size}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.store.ListRooms(c.Request.Context(), req)
	if err != nil {
		pslog.Ctx(c.Request.Context()).Error("list rooms", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list rooms"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func (s *Server) handleSync(c *gin.Context) {
	room := domain.RoomID(c.Query("document"))
	if room == "" {
		room = domain.RoomID(c.Param("room"))
	}
	if err := room.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		pslog.Ctx(c.Request.Context()).Warn("upgrade sync connection", "room", room, "err", err)
		return
	}
	log := pslog.Ctx(c.Request.Context()).With("room", room, "remote", c.ClientIP())
	s.serveConn(pslog.ContextWithLogger(c.Request.Context(), log), ws, room)
}

func (s *Server) serveConn(ctx context.Context, ws *websocket.Conn, room domain.RoomID) {
	log := pslog.Ctx(ctx)
	defer func() { _ = ws.Close() }()

	hub, m, err := s.rooms.Join(ctx, room)
	if err != nil {
		log.Error("join room", "err", err)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "room unavailable"),
			time.Now().Add(s.cfg.WriteTimeout))
		return
	}
	defer s.rooms.Leave(ctx, hub, m)
	log = log.With("member", m.ID())
	log.Info("sync connection open")

	ws.SetReadLimit(s.cfg.MaxMessageBytes)
	limiter := rate.NewLimiter(s.cfg.MessageRate, s.cfg.MessageBurst)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			kind, data, err := ws.ReadMessage()
			if err != nil {
				return err
			}
			if kind != websocket.BinaryMessage {
				continue
			}
			if !limiter.Allow() {
				s.metrics.rateLimited.Inc()
				return errRateLimited
			}
			msg, err := protocol.Decode(data)
			if err != nil {
				log.Warn("drop undecodable sync message", "err", err)
				continue
			}
			hub.Handle(gctx, m, msg)
		}
	})

	g.Go(func() error {
		defer func() { _ = ws.Close() }()
		ping := time.NewTicker(s.cfg.PingInterval)
		defer ping.Stop()

		for {
			select {
			case <-gctx.Done():
				code, text := websocket.CloseNormalClosure, ""
				if errors.Is(context.Cause(gctx), errRateLimited) {
					code, text = websocket.ClosePolicyViolation, errRateLimited.Error()
				}
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(code, text),
					time.Now().Add(s.cfg.WriteTimeout))
				return nil
			case <-m.Done():
				return errKicked
			case msg := <-m.Outbound():
				data, err := protocol.Encode(msg)
				if err != nil {
					log.Warn("drop unencodable sync message", "type", msg.Type, "err", err)
					continue
				}
				_ = ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
				if err := ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
					return err
				}
			case <-ping.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
					return err
				}
			}
		}
	})

	err = g.Wait()
	switch {
	case err == nil, websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		log.Info("sync connection closed")
	case errors.Is(err, errRateLimited):
		log.Warn("sync connection rate limited")
	default:
		log.Info("sync connection closed", "err", err)
	}
}
