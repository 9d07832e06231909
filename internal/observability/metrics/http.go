package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"
)

// Default 是进程内共享的指标注册表，/metrics 与独立指标端口都输出它。
var Default = NewRegistry()

var (
	httpRequests = Default.Counter("arcade_http_requests_total",
		"Total number of HTTP requests processed.", "handler", "method", "code")
	httpErrors = Default.Counter("arcade_http_request_errors_total",
		"Total number of HTTP requests that resulted in a server error.", "handler", "method")
	httpLatency = Default.Histogram("arcade_http_request_duration_seconds",
		"HTTP request duration in seconds.", nil, "handler", "method")
)

// ObserveHTTPRequest 记录一次 HTTP 请求。
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.Inc(handler, method, strconv.Itoa(status))
	if status >= 500 {
		httpErrors.Inc(handler, method)
	}
	httpLatency.Observe(duration.Seconds(), handler, method)
}

// Handler 输出默认注册表。
func Handler() http.Handler {
	return Default.Handler()
}

// StartServer 在独立端口上暴露 /metrics，直到 ctx 结束。
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
