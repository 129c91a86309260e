package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/promisectl/internal/logging"
)

// MetricsServer exposes one runtime's registry at /metrics while the
// session lasts.
type MetricsServer struct {
	srv  *http.Server
	ln   net.Listener
	done chan error
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Router mounts /metrics and /healthz.
func (m *Metrics) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	routes := gin.New()
	routes.HandleMethodNotAllowed = true
	routes.Use(gin.Recovery(), RequestLogger(logging.Logger("http")))
	routes.GET("/metrics", gin.WrapH(m.Handler()))
	routes.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	return routes
}

// RequestLogger logs one line per scrape; failures are raised to warn
// or error.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		event := logger.Debug()
		if status >= 500 {
			event = logger.Error()
		} else if status >= 400 {
			event = logger.Warn()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("bytes", c.Writer.Size()).
			Msg("http_request")
	}
}

// Listen binds addr and serves Router on it in the background.
func (m *Metrics) Listen(addr string) (*MetricsServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &MetricsServer{
		srv:  &http.Server{Handler: m.Router(), ReadHeaderTimeout: 5 * time.Second},
		ln:   ln,
		done: make(chan error, 1),
	}
	go func() {
		err := s.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()
	log.Debug().Str("addr", ln.Addr().String()).Msg("observability.MetricsServer listening")
	return s, nil
}

// Addr is the bound address, useful when listening on port 0.
func (s *MetricsServer) Addr() string {
	return s.ln.Addr().String()
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	err := s.srv.Shutdown(ctx)
	return errors.Join(err, <-s.done)
}
