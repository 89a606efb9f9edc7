package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Server expone la API HTTP en un Unix socket y, opcionalmente, en TCP
type Server struct {
	addr       string
	socketPath string
	http       *http.Server
	log        *log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	listeners []net.Listener
	wg        sync.WaitGroup
}

// NewServer crea un nuevo servidor. addr vacío desactiva TCP.
func NewServer(addr, socketPath string, handler http.Handler, logger *log.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		addr:       addr,
		socketPath: socketPath,
		log:        logger,
		ctx:        ctx,
		cancel:     cancel,
	}
	s.http = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		// Los streams SSE y WebSocket terminan cuando se cancela este contexto
		BaseContext: func(net.Listener) context.Context { return s.ctx },
	}
	return s
}

// Start abre los listeners y empieza a servir
func (s *Server) Start() error {
	if s.socketPath != "" {
		// Crear directorio para socket
		if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
			return fmt.Errorf("create socket dir: %w", err)
		}

		// Limpiar socket anterior si existe
		os.Remove(s.socketPath)

		ln, err := net.Listen("unix", s.socketPath)
		if err != nil {
			return fmt.Errorf("listen on socket: %w", err)
		}
		if err := os.Chmod(s.socketPath, 0600); err != nil {
			ln.Close()
			return fmt.Errorf("chmod socket: %w", err)
		}
		s.serve(ln)
	}

	if s.addr != "" {
		ln, err := net.Listen("tcp", s.addr)
		if err != nil {
			s.closeListeners()
			return fmt.Errorf("listen on %s: %w", s.addr, err)
		}
		s.serve(ln)
	}

	return nil
}

// Addrs retorna las direcciones efectivas de los listeners
func (s *Server) Addrs() []net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	addrs := make([]net.Addr, 0, len(s.listeners))
	for _, ln := range s.listeners {
		addrs = append(addrs, ln.Addr())
	}
	return addrs
}

func (s *Server) serve(ln net.Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, ln)
	s.mu.Unlock()

	s.log.Info("server listening", "network", ln.Addr().Network(), "addr", ln.Addr().String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("serve failed", "addr", ln.Addr().String(), "err", err)
		}
	}()
}

func (s *Server) closeListeners() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ln := range s.listeners {
		ln.Close()
	}
}

// Stop corta los streams abiertos y espera a las peticiones en curso
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("server stopping")
	s.cancel()

	err := s.http.Shutdown(ctx)
	s.wg.Wait()

	if s.socketPath != "" {
		os.Remove(s.socketPath)
	}
	return err
}
