package observability

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/readerline/notifyengine/internal/logger"
)

// ShutdownTimeout bounds the graceful shutdown of the metrics server.
const ShutdownTimeout = 5 * time.Second

// Endpoint serves the Prometheus metrics over HTTP.
type Endpoint struct {
	server        *http.Server
	listenAddress string
	metrics       *Metrics
}

// NewEndpoint creates an Endpoint listening on listenAddress. It does not
// create metrics; metrics must already be initialized.
func NewEndpoint(listenAddress string, metrics *Metrics) *Endpoint {
	return &Endpoint{
		listenAddress: listenAddress,
		metrics:       metrics,
	}
}

// Start runs the HTTP server in a goroutine tracked by wg and shuts it down
// gracefully when ctx is cancelled.
func (e *Endpoint) Start(ctx context.Context, wg *sync.WaitGroup) {
	mux := http.NewServeMux()
	e.metrics.RegisterHandlers(mux)

	e.server = &http.Server{
		Addr:              e.listenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	wg.Go(func() {
		log.Info("metrics endpoint starting", logger.String("address", e.listenAddress))
		if err := e.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics HTTP server error", logger.Error(err))
		}
	})

	wg.Go(func() {
		<-ctx.Done()
		e.gracefulShutdown()
	})
}

// gracefulShutdown shuts down the server within ShutdownTimeout.
func (e *Endpoint) gracefulShutdown() {
	log.Info("stopping metrics server")
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := e.server.Shutdown(ctx); err != nil {
		log.Error("metrics server shutdown error", logger.Error(err))
	}
}

// GetMetrics returns the Metrics instance associated with this Endpoint.
func (e *Endpoint) GetMetrics() *Metrics {
	return e.metrics
}
