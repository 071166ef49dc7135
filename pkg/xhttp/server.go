package xhttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	addr *net.TCPAddr
}

func (s Server) Port() int {
	return s.addr.Port
}

func (s Server) Addr() *net.TCPAddr {
	return s.addr
}

// StartServer serves handler on addr inside g until ctx is done.
func StartServer(ctx context.Context, g *errgroup.Group, addr string, handler http.Handler, log *slog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind http server on %q: %w", addr, err)
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          slog.NewLogLogger(log.Handler(), slog.LevelWarn),
	}
	server.BaseContext = func(_ net.Listener) context.Context {
		return ctx
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error { // modified part of server.ListenAndServer
		if err := server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	s := &Server{
		addr: ln.Addr().(*net.TCPAddr),
	}
	log.Info("http server listening", "addr", s.addr.String())
	return s, nil
}
