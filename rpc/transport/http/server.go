package http

import (
	"errors"
	"github.com/lni/dragonboat/v4/logger"
	"net"
	"net/http"
	"time"
)

var Logger = logger.GetLogger("transport/http")

// Server is an http server bound to its listener at construction time
type Server struct {
	srv      *http.Server
	listener net.Listener
}

// NewServer binds the endpoint and prepares serving handler on it.
// If debug is set, every request is logged.
func NewServer(endpoint string, handler http.Handler, debug bool) (*Server, error) {
	listener, err := net.Listen("tcp", endpoint)
	if err != nil {
		return nil, err
	}

	if debug {
		handler = LoggerMiddleware(handler)
	}

	return &Server{
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		listener: listener,
	}, nil
}

// Addr returns the bound address
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve blocks until Close is called
func (s *Server) Serve() error {
	Logger.Infof("Starting HTTP server on %s", s.listener.Addr())
	if err := s.srv.Serve(s.listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close stops the server immediately
func (s *Server) Close() error {
	return s.srv.Close()
}

// --------------------------------------------------------------------------
// Middleware (logging)
// --------------------------------------------------------------------------

// responseWriter is a custom ResponseWriter that captures status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code before writing it
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// LoggerMiddleware is a middleware that logs HTTP requests
func LoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rw, r)

		Logger.Debugf("%s %s => %d took %s", r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
