// Package httpapi is the HTTP control and status surface of serialdispatch.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/luhtfiimanal/go-serial-dispatch/engine"
	"github.com/luhtfiimanal/go-serial-dispatch/internal/config"
)

// Controller is the part of *engine.Engine the HTTP surface drives.
type Controller interface {
	Interactive() bool
	SetInteractive(on bool)
	Status(ctx context.Context) ([]engine.Status, error)
	Write(name string, values ...any) error
}

// Server wraps the gin router and its http.Server.
type Server struct {
	srv *http.Server
	ctl Controller
	log *zap.Logger
}

// New creates the server and registers its routes. metricsHandler may be
// nil; readyFn reports whether the engine is running.
func New(cfg config.HTTPConfig, ctl Controller, metricsPath string, metricsHandler http.Handler, readyFn func() bool, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{ctl: ctl, log: log}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/readyz", func(c *gin.Context) {
		if readyFn == nil || readyFn() {
			c.String(http.StatusOK, "ready")
			return
		}
		c.String(http.StatusServiceUnavailable, "not-ready")
	})
	if metricsHandler != nil {
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		r.GET(metricsPath, gin.WrapH(metricsHandler))
	}

	r.GET("/mode", s.getMode)
	r.PUT("/mode", s.putMode)
	r.GET("/transports", s.listTransports)
	r.POST("/transports/:name/write", s.write)

	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.log.Info("http listening", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type modeBody struct {
	Interactive bool `json:"interactive"`
}

func (s *Server) getMode(c *gin.Context) {
	c.JSON(http.StatusOK, modeBody{Interactive: s.ctl.Interactive()})
}

func (s *Server) putMode(c *gin.Context) {
	var body modeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.ctl.SetInteractive(body.Interactive)
	s.log.Info("interactivity changed", zap.Bool("interactive", body.Interactive))
	c.JSON(http.StatusOK, body)
}

func (s *Server) listTransports(c *gin.Context) {
	st, err := s.ctl.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transports": st})
}

// writeBody carries the values of one write: JSON strings are sent as their
// bytes, JSON numbers as a single byte in [0, 255].
type writeBody struct {
	Values []any `json:"values" binding:"required"`
}

func (s *Server) write(c *gin.Context) {
	var body writeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	values, err := fromJSON(body.Values)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err = s.ctl.Write(c.Param("name"), values...)
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, engine.ErrConfiguration):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrTransport):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// fromJSON converts decoded JSON values to engine write values. Numbers must
// be whole; range checking is left to the engine.
func fromJSON(in []any) ([]any, error) {
	out := make([]any, len(in))
	for i, v := range in {
		switch x := v.(type) {
		case string:
			out[i] = x
		case float64:
			if x != math.Trunc(x) || math.Abs(x) > math.MaxInt32 {
				return nil, fmt.Errorf("value %d: %v is not a byte value", i+1, x)
			}
			out[i] = int64(x)
		default:
			return nil, fmt.Errorf("value %d: unsupported type %T", i+1, v)
		}
	}
	return out, nil
}
