// Package handler exposes the analyze and session management operations over
// HTTP, either as a standalone echo server or behind API Gateway.
package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"vision-agent/internal/domain"
	"vision-agent/internal/metrics"
	"vision-agent/internal/usecase"
)

const (
	sessionCookie = "session_id"

	defaultVersion    = "1.0.0"
	defaultCookieAge  = time.Hour
	defaultUploadSize = 10 << 20
	// multipartOverhead leaves room for boundaries and the other form fields.
	multipartOverhead = 1 << 20
)

// Service is the use case surface the HTTP layer depends on.
type Service interface {
	Analyze(ctx context.Context, in usecase.AnalyzeInput) (usecase.AnalyzeOutput, error)
	CurrentMemory(ctx context.Context, id string) (usecase.MemoryOutput, error)
	MemoryStats(ctx context.Context, id string) (usecase.MemoryOutput, error)
	ClearMemory(ctx context.Context, id string) (usecase.MemoryOutput, error)
	CreateSession(ctx context.Context, memoryKind string) (usecase.MemoryOutput, error)
	DeleteSession(ctx context.Context, id string) error
}

type Options struct {
	// CookieMaxAge should match the session TTL.
	CookieMaxAge   time.Duration
	AllowedOrigins []string
	MaxUploadBytes int64
	// RateLimit is requests per second per client IP on /api routes. Zero
	// disables limiting.
	RateLimit float64
	Burst     int
	Version   string
	Logger    *slog.Logger
}

type Handler struct {
	svc          Service
	echo         *echo.Echo
	logger       *slog.Logger
	cookieMaxAge time.Duration
	maxUpload    int64
	version      string
}

func NewHandler(svc Service, opts Options) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: service must not be nil")
	}
	if opts.CookieMaxAge <= 0 {
		opts.CookieMaxAge = defaultCookieAge
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultUploadSize
	}
	if opts.Version == "" {
		opts.Version = defaultVersion
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	h := &Handler{
		svc:          svc,
		echo:         echo.New(),
		logger:       opts.Logger,
		cookieMaxAge: opts.CookieMaxAge,
		maxUpload:    opts.MaxUploadBytes,
		version:      opts.Version,
	}
	h.routes(opts)
	return h, nil
}

func (h *Handler) routes(opts Options) {
	e := h.echo
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = h.handleError

	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"request_id", v.RequestID,
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				h.logger.Warn("request failed", append(attrs, "err", v.Error)...)
				return nil
			}
			h.logger.Info("request", attrs...)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(corsMiddleware(opts.AllowedOrigins))

	e.GET("/", h.health)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	api := e.Group("/api")
	if opts.RateLimit > 0 {
		api.Use(newRateLimiter(opts.RateLimit, opts.Burst).middleware())
	}
	api.POST("/analyze", h.analyze)
	api.GET("/memory", h.currentMemory)
	api.GET("/memory/:session_id", h.memoryStats)
	api.DELETE("/memory", h.clearCurrentMemory)
	api.DELETE("/memory/:session_id", h.clearMemory)
	api.POST("/session", h.createSession)
	api.DELETE("/session/:session_id", h.deleteSession)
}

// ServeHTTP lets the handler be mounted on any net/http server.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.echo.ServeHTTP(w, r)
}

// Start serves on addr until Shutdown is called.
func (h *Handler) Start(addr string) error {
	if err := h.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (h *Handler) Shutdown(ctx context.Context) error {
	return h.echo.Shutdown(ctx)
}

func corsMiddleware(origins []string) echo.MiddlewareFunc {
	cfg := middleware.CORSConfig{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAccept, echo.HeaderXRequestID},
		AllowCredentials: true,
	}
	wildcard := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			wildcard = true
		}
	}
	if wildcard {
		// Credentialed requests need the concrete origin echoed back.
		cfg.AllowOriginFunc = func(string) (bool, error) { return true, nil }
	} else {
		cfg.AllowOrigins = origins
	}
	return middleware.CORSWithConfig(cfg)
}

type healthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Version string `json:"version"`
}

type analyzeResponse struct {
	Analysis    string             `json:"analysis"`
	SessionID   string             `json:"session_id"`
	MemoryStats domain.MemoryStats `json:"memory_stats"`
	MemoryType  string             `json:"memory_type"`
}

type memoryResponse struct {
	SessionID  string             `json:"session_id"`
	Stats      domain.MemoryStats `json:"stats"`
	Status     string             `json:"status"`
	MemoryType string             `json:"memory_type"`
}

type sessionResponse struct {
	SessionID  string              `json:"session_id"`
	MemoryType string              `json:"memory_type,omitempty"`
	Stats      *domain.MemoryStats `json:"stats,omitempty"`
	Status     string              `json:"status,omitempty"`
}

type createSessionRequest struct {
	MemoryType string `json:"memory_type" form:"memory_type"`
}

func (h *Handler) health(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:  "online",
		Message: "Vision API is operational",
		Version: h.version,
	})
}

func (h *Handler) analyze(c echo.Context) error {
	req := c.Request()
	req.Body = http.MaxBytesReader(c.Response(), req.Body, h.maxUpload+multipartOverhead)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "image_too_large", Err: err}
		}
		return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "empty_image", Err: err}
	}
	data, err := readUpload(fh)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "image_too_large", Err: err}
		}
		return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "unreadable_image", Err: err}
	}

	sessionID := strings.TrimSpace(c.FormValue("session_id"))
	if sessionID == "" {
		sessionID = cookieSession(c)
	}

	out, err := h.svc.Analyze(req.Context(), usecase.AnalyzeInput{
		Image: domain.Image{
			Data:        data,
			ContentType: fh.Header.Get(echo.HeaderContentType),
			Filename:    fh.Filename,
		},
		Question:   c.FormValue("question"),
		SessionID:  sessionID,
		MemoryKind: c.FormValue("memory_type"),
	})
	if err != nil {
		return err
	}

	h.setSessionCookie(c, out.SessionID)
	return c.JSON(http.StatusOK, analyzeResponse{
		Analysis:    out.Analysis,
		SessionID:   out.SessionID,
		MemoryStats: out.Stats,
		MemoryType:  string(out.MemoryKind),
	})
}

func (h *Handler) currentMemory(c echo.Context) error {
	out, err := h.svc.CurrentMemory(c.Request().Context(), cookieSession(c))
	if err != nil {
		return err
	}
	h.setSessionCookie(c, out.SessionID)
	return c.JSON(http.StatusOK, memoryBody(out, "active"))
}

func (h *Handler) memoryStats(c echo.Context) error {
	out, err := h.svc.MemoryStats(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, memoryBody(out, "active"))
}

func (h *Handler) clearCurrentMemory(c echo.Context) error {
	return h.clear(c, cookieSession(c))
}

func (h *Handler) clearMemory(c echo.Context) error {
	return h.clear(c, c.Param("session_id"))
}

func (h *Handler) clear(c echo.Context, id string) error {
	out, err := h.svc.ClearMemory(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, memoryBody(out, "cleared"))
}

func (h *Handler) createSession(c echo.Context) error {
	var in createSessionRequest
	if err := c.Bind(&in); err != nil {
		return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body", Err: err}
	}
	out, err := h.svc.CreateSession(c.Request().Context(), in.MemoryType)
	if err != nil {
		return err
	}
	h.setSessionCookie(c, out.SessionID)
	return c.JSON(http.StatusCreated, sessionResponse{
		SessionID:  out.SessionID,
		MemoryType: string(out.MemoryKind),
		Stats:      &out.Stats,
	})
}

func (h *Handler) deleteSession(c echo.Context) error {
	id := c.Param("session_id")
	if err := h.svc.DeleteSession(c.Request().Context(), id); err != nil {
		return err
	}
	if cookieSession(c) == id {
		h.expireSessionCookie(c)
	}
	return c.JSON(http.StatusOK, sessionResponse{SessionID: id, Status: "deleted"})
}

func memoryBody(out usecase.MemoryOutput, status string) memoryResponse {
	return memoryResponse{
		SessionID:  out.SessionID,
		Stats:      out.Stats,
		Status:     status,
		MemoryType: string(out.MemoryKind),
	}
}

func cookieSession(c echo.Context) string {
	cookie, err := c.Cookie(sessionCookie)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}

func (h *Handler) setSessionCookie(c echo.Context, id string) {
	c.SetCookie(&http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(h.cookieMaxAge / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) expireSessionCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
