package agent

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"synctray-agent/internal/logger"
)

const shutdownTimeout = 5 * time.Second

// httpService runs the control server as a suture service. A fresh
// http.Server is built per Serve since a shut down one cannot be reused.
type httpService struct {
	addr    string
	handler http.Handler
	log     logger.Logger

	mu      sync.Mutex
	srv     *http.Server
	boundTo net.Addr
}

func newHTTPService(addr string, handler http.Handler, log logger.Logger) *httpService {
	return &httpService{addr: addr, handler: handler, log: log}
}

func (s *httpService) Serve() {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.log.Errorf("Control server cannot listen on %s: %v", s.addr, err)
		// Back off before suture restarts us.
		time.Sleep(time.Second)
		return
	}

	srv := &http.Server{Handler: s.handler, ReadHeaderTimeout: 10 * time.Second}
	s.mu.Lock()
	s.srv = srv
	s.boundTo = ln.Addr()
	s.mu.Unlock()

	s.log.Infof("Control server listening on %s", ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Errorf("Control server failed: %v", err)
	}
}

func (s *httpService) Stop() {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		s.log.Warningf("Control server shutdown: %v", err)
	}
}

// Addr returns the address the server is bound to, or nil before Serve.
func (s *httpService) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundTo
}
