package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"vmcontroller/pkg/define"
	"vmcontroller/pkg/network"

	"github.com/sirupsen/logrus"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 3 * time.Second
)

// httpServer serves a mux on a unix socket (unix:///path) or a TCP address
// (tcp://host:port).
type httpServer struct {
	name     string
	listener string
	mux      *http.ServeMux
}

func newHTTPServer(name, listener string) *httpServer {
	return &httpServer{
		name:     name,
		listener: listener,
		mux:      http.NewServeMux(),
	}
}

func (s *httpServer) listen() (net.Listener, func(), error) {
	if strings.HasPrefix(s.listener, define.SchemeUnix+"://") {
		addr, err := network.ParseUnixAddr(s.listener)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse unix socket address: %w", err)
		}
		_ = os.Remove(addr.Path)

		ln, err := net.Listen("unix", addr.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to listen on %q: %w", addr.Path, err)
		}
		return ln, func() { _ = os.Remove(addr.Path) }, nil
	}

	addr, err := network.ParseTcpAddr(s.listener)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse listen address %q: %w", s.listener, err)
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(addr.Host, strconv.Itoa(addr.Port)))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %q: %w", s.listener, err)
	}
	return ln, func() {}, nil
}

// serve starts the HTTP server and blocks until context is cancelled.
func (s *httpServer) serve(ctx context.Context) error {
	ln, cleanup, err := s.listen()
	if err != nil {
		return err
	}
	defer cleanup()

	server := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		logrus.Infof("starting %s httpserver on %q", s.name, ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			// event streams never go idle on their own
			_ = server.Close()
		}
		logrus.Infof("%s httpserver stopped", s.name)
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("%s httpserver error: %w", s.name, err)
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
