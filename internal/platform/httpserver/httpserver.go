// Package httpserver builds the registry's HTTP server.
package httpserver

import (
	"net/http"
	"time"
)

type Option func(*http.Server)

// WithWriteTimeout bounds handler run time. Webhook dispatch and merges run
// inside it.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *http.Server) {
		if d > 0 {
			s.WriteTimeout = d
		}
	}
}

func New(addr string, handler http.Handler, opts ...Option) *http.Server {
	s := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    64 << 10,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
