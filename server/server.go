// Package server exposes the storage root over HTTP.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"

	"golang.org/x/net/webdav"

	"github.com/girvel/storagenode"
	"github.com/girvel/storagenode/config"
	"github.com/girvel/storagenode/internal/util"
)

// Resolver confines a client-supplied relative path to the storage root.
type Resolver interface {
	Resolve(rel string) (string, error)
}

// FileStore performs the operations behind the three file endpoints on
// paths returned by a Resolver.
type FileStore interface {
	Read(ctx context.Context, path string) (storagenode.Entry, error)
	Write(ctx context.Context, path string, r io.Reader) (int64, error)
	Delete(ctx context.Context, path string) error
}

// Backend groups what the server needs from the storage core.
type Backend struct {
	Resolver Resolver
	Store    FileStore
	// DAV is mounted at /dav/ when Config.WebDAV is set; may be nil otherwise
	DAV webdav.FileSystem
}

// Server wires the HTTP routes onto a Backend
type Server struct {
	cfg     *config.Config
	backend Backend
	stats   *stats
	srv     *http.Server
}

// New creates a Server for cfg. cfg is expected to be validated already.
func New(cfg *config.Config, backend Backend) *Server {
	s := &Server{
		cfg:     cfg,
		backend: backend,
		stats:   newStats(),
	}
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ErrorLog:          util.NewLogLogger("HTTPServer"),
	}
	return s
}

// Handler returns the complete route tree including middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /file/{path...}", s.handleRead)
	mux.HandleFunc("PUT /file/{path...}", s.handleWrite)
	mux.HandleFunc("DELETE /file/{path...}", s.handleDelete)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	})
	mux.HandleFunc("GET /stats", s.handleStats)

	if s.cfg.WebDAV && s.backend.DAV != nil {
		logger := util.GetLogger("WebDAV")
		mux.Handle("/dav/", &webdav.Handler{
			Prefix:     "/dav",
			FileSystem: s.backend.DAV,
			LockSystem: webdav.NewMemLS(),
			Logger: func(r *http.Request, err error) {
				if err != nil {
					logger.Debug().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("WebDAV request failed")
				}
			},
		})
	}

	return s.withRequestLogging(mux)
}

// Serve listens on the configured address and blocks until the server is
// shut down. A clean shutdown returns nil.
func (s *Server) Serve() error {
	logger := util.GetLogger("Server")
	logger.Info().Str("addr", s.cfg.Addr).Str("root", s.cfg.Root).Bool("webdav", s.cfg.WebDAV).Msg("Storage node listening")

	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) ServeAsync() <-chan error {
	done := make(chan error, 1)

	go func() {
		done <- s.Serve()
		close(done)
	}()

	return done
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
