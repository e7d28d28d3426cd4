// ABOUTME: Gin router exposing the wallet service over JSON HTTP
// ABOUTME: Maps service error kinds to status codes without leaking internal detail

package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/2389/wren-gateway/internal/identity"
	"github.com/2389/wren-gateway/internal/metrics"
	"github.com/2389/wren-gateway/internal/ratelimit"
	"github.com/2389/wren-gateway/internal/store"
	"github.com/2389/wren-gateway/internal/transfer"
	"github.com/2389/wren-gateway/internal/wallet"
)

// WalletService is the subset of wallet.Service the API serves.
type WalletService interface {
	Register(ctx context.Context, req wallet.RegisterRequest) (wallet.Session, error)
	RegistrationStatus(ctx context.Context, email string) (string, bool, error)
	Login(ctx context.Context, req identity.SignedRequest) (wallet.Session, error)
	Logout(ctx context.Context, sessionID string) error
	Wallet(ctx context.Context, sessionID string) (wallet.View, error)
	BuildTransfer(ctx context.Context, sessionID, recipient string, amount float64) (transfer.Unsigned, error)
	SubmitTransfer(ctx context.Context, sessionID, signed string) (string, error)
	RequestDrop(ctx context.Context, sessionID string) (*store.Job, error)
	DropStatus(ctx context.Context, sessionID, jobID string) (*store.Job, error)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Options configure a Server.
type Options struct {
	Metrics        *metrics.Metrics
	ExposeMetrics  bool
	Limiter        *ratelimit.Limiter
	CORSOrigins    []string
	Health         map[string]HealthCheck
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// Server is the HTTP surface of the gateway.
type Server struct {
	svc    WalletService
	opts   Options
	logger *slog.Logger
	engine *gin.Engine
}

// NewServer builds the router.
func NewServer(svc WalletService, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	s := &Server{
		svc:    svc,
		opts:   opts,
		logger: logger.With("component", "httpapi"),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(s.logger))
	r.Use(requestMetrics(opts.Metrics))
	r.Use(corsMiddleware(opts.CORSOrigins))

	r.GET("/health", s.health)
	if opts.ExposeMetrics && opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}

	api := r.Group("/api")
	api.Use(rateLimit(opts.Limiter))
	api.POST("/register", s.register)
	api.GET("/registration/:email", s.registrationStatus)
	api.POST("/login", s.login)
	api.POST("/logout", s.logout)
	api.GET("/wallet", s.wallet)
	api.POST("/transfer/build", s.buildTransfer)
	api.POST("/transfer/submit", s.submitTransfer)
	api.POST("/drop", s.requestDrop)
	api.GET("/drop/:id", s.dropStatus)

	s.engine = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) ctx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.opts.RequestTimeout)
}

func (s *Server) fail(c *gin.Context, err error) {
	kind := wallet.Kind(err)
	status := http.StatusInternalServerError
	switch kind {
	case wallet.KindInput:
		status = http.StatusBadRequest
	case wallet.KindAuth:
		status = http.StatusUnauthorized
	case wallet.KindUnavailable:
		status = http.StatusServiceUnavailable
	case wallet.KindTransient:
		status = http.StatusBadGateway
	}
	if status >= 500 {
		s.logger.Error("request failed", "path", routePath(c), "kind", kind, "error", err)
	} else {
		s.logger.Debug("request rejected", "path", routePath(c), "kind", kind, "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": wallet.Message(err), "kind": kind})
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := gin.H{}
	healthy := true
	for name, check := range s.opts.Health {
		if err := check(ctx); err != nil {
			s.logger.Warn("health check failed", "check", name, "error", err)
			checks[name] = "unavailable"
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": checks})
}

func (s *Server) register(c *gin.Context) {
	var req wallet.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	ctx, cancel := s.ctx(c)
	defer cancel()

	sess, err := s.svc.Register(ctx, req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) registrationStatus(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	orgID, ok, err := s.svc.RegistrationStatus(ctx, c.Param("email"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sub_org_id": orgID})
}

type loginRequest struct {
	SignedWhoami identity.SignedRequest `json:"signedWhoamiRequest"`
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	ctx, cancel := s.ctx(c)
	defer cancel()

	sess, err := s.svc.Login(ctx, req.SignedWhoami)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) logout(c *gin.Context) {
	if err := s.svc.Logout(c.Request.Context(), c.GetHeader(SessionHeader)); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) wallet(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	view, err := s.svc.Wallet(ctx, c.GetHeader(SessionHeader))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type buildRequest struct {
	Recipient string  `json:"recipient"`
	Amount    float64 `json:"amount"`
}

func (s *Server) buildTransfer(c *gin.Context) {
	var req buildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	ctx, cancel := s.ctx(c)
	defer cancel()

	unsigned, err := s.svc.BuildTransfer(ctx, c.GetHeader(SessionHeader), req.Recipient, req.Amount)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, unsigned)
}

type submitRequest struct {
	SignedTransaction string `json:"signedTransaction"`
}

func (s *Server) submitTransfer(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	ctx, cancel := s.ctx(c)
	defer cancel()

	sig, err := s.svc.SubmitTransfer(ctx, c.GetHeader(SessionHeader), req.SignedTransaction)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactionId": sig})
}

type dropView struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	State     string    `json:"state"`
	Signature string    `json:"signature,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func newDropView(j *store.Job) dropView {
	return dropView{
		ID:        j.ID,
		Kind:      string(j.Kind),
		State:     string(j.State),
		Signature: j.Signature,
		Error:     dropReason(j),
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

// dropReason summarizes a job's last error without exposing it.
func dropReason(j *store.Job) string {
	switch {
	case j.State == store.JobFailed:
		return "airdrop failed"
	case j.LastError != "":
		return "retrying after a ledger error"
	default:
		return ""
	}
}

func (s *Server) requestDrop(c *gin.Context) {
	job, err := s.svc.RequestDrop(c.Request.Context(), c.GetHeader(SessionHeader))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, newDropView(job))
}

func (s *Server) dropStatus(c *gin.Context) {
	job, err := s.svc.DropStatus(c.Request.Context(), c.GetHeader(SessionHeader), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newDropView(job))
}
