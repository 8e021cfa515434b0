package hub

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danmuck/tcpq/internal/auth"
	logs "github.com/danmuck/tcpq/internal/logging"
	"github.com/danmuck/tcpq/internal/observability"
	"github.com/danmuck/tcpq/internal/protocol/envelope"
	"github.com/danmuck/tcpq/internal/queue"
)

func (s *Service) adminRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.Instrument(logs.Logger()))
	if len(s.cfg.AdminCORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: s.cfg.AdminCORSOrigins,
			AllowMethods: []string{"GET", "POST"},
			AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
			MaxAge:       12 * time.Hour,
		}))
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).Round(time.Second).String(),
			"service": "tcpq",
		})
	})
	r.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.Stats())
	})
	writes := []gin.HandlerFunc{}
	if token := strings.TrimSpace(s.cfg.AdminToken); token != "" {
		writes = append(writes, auth.Require(auth.StaticToken{Token: token}))
	}
	writes = append(writes, s.handleEnqueue)
	r.POST("/outbound", writes...)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

func (s *Service) handleEnqueue(c *gin.Context) {
	var body any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	env, err := envelope.FromValue(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.Enqueue(env); err != nil {
		if errors.Is(err, envelope.ErrSentinel) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"outbound": s.store.Size(queue.Outbound)})
}

// serveAdmin runs the admin HTTP surface until ctx ends.
func (s *Service) serveAdmin(ctx context.Context, addr string) error {
	observability.RegisterMetrics()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: admin %s: %v", ErrBind, addr, err)
	}
	logs.Infof("hub.Service.serveAdmin listening addr=%q", ln.Addr().String())

	srv := &http.Server{
		Handler:           s.adminRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
