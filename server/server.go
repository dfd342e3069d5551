package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nvidia-clara/dicom-adapter/dimse"
	"github.com/nvidia-clara/dicom-adapter/interfaces"
	"github.com/nvidia-clara/dicom-adapter/pdu"
)

// Option configures a Server instance.
type Option func(*Server)

// WithLogger overrides the logger used by the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.Logger = logger
	}
}

// WithReadTimeout sets the read timeout for client connections.
func WithReadTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.ReadTimeout = timeout
	}
}

// WithWriteTimeout sets the write timeout for client connections.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.WriteTimeout = timeout
	}
}

// WithAdmissionPolicy installs the policy consulted for every incoming
// association once its A-ASSOCIATE-RQ has been parsed and before the
// A-ASSOCIATE-AC is sent.
func WithAdmissionPolicy(policy pdu.AdmissionPolicy) Option {
	return func(s *Server) {
		s.Policy = policy
	}
}

// WithMaxAssociations caps the number of concurrently open
// associations; additional connections block in Accept until a slot
// frees up. Zero (the default) means unlimited.
func WithMaxAssociations(max int64) Option {
	return func(s *Server) {
		s.MaxAssociations = max
	}
}

// WithAssociationHooks registers callbacks invoked around each
// association's lifetime, so an external component (health.Reporter's
// active-association gauge) can track concurrency without the server
// depending on it directly.
func WithAssociationHooks(onOpen, onClose func()) Option {
	return func(s *Server) {
		s.onAssociationOpen = onOpen
		s.onAssociationClose = onClose
	}
}

// Server exposes a reusable DICOM listener that wires the DIMSE and PDU layers.
type Server struct {
	AETitle         string
	Handler         interfaces.ServiceHandler
	Logger          *slog.Logger
	ReadTimeout     time.Duration // Read timeout for connections (default: 60s)
	WriteTimeout    time.Duration // Write timeout for connections (default: 60s)
	Policy          pdu.AdmissionPolicy
	MaxAssociations int64 // 0 means unlimited

	onAssociationOpen  func()
	onAssociationClose func()

	associationIDs associationIDGenerator
	sem            *semaphore.Weighted
	semOnce        sync.Once
}

// New builds a Server with the provided AE title and handler.
func New(aeTitle string, handler interfaces.ServiceHandler, opts ...Option) *Server {
	srv := &Server{AETitle: aeTitle, Handler: handler}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

// associationIDGenerator hands out monotonically increasing
// association identifiers that wrap from the uint32 maximum back to 1,
// skipping 0 (reserved to mean "unassigned").
type associationIDGenerator struct {
	counter atomic.Uint32
}

func (g *associationIDGenerator) next() uint32 {
	for {
		id := g.counter.Add(1)
		if id != 0 {
			return id
		}
	}
}

// ListenAndServe listens on the given address and serves until the context is done or an error occurs.
func ListenAndServe(ctx context.Context, address, aeTitle string, handler interfaces.ServiceHandler, opts ...Option) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	defer listener.Close()

	srv := New(aeTitle, handler, opts...)
	return srv.Serve(ctx, listener)
}

// Serve accepts connections from listener until ctx is cancelled or an unrecoverable error occurs.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	if listener == nil {
		return errors.New("dicomserver: listener is required")
	}
	if s == nil {
		return errors.New("dicomserver: server is nil")
	}
	if s.Handler == nil {
		return errors.New("dicomserver: handler is required")
	}
	if s.AETitle == "" {
		return errors.New("dicomserver: AE title is required")
	}

	logger := s.logger()

	if s.MaxAssociations > 0 {
		s.semOnce.Do(func() {
			s.sem = semaphore.NewWeighted(s.MaxAssociations)
		})
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	logger.Info("DICOM server listening",
		"address", listener.Addr().String(),
		"ae_title", s.AETitle)

	var (
		wg       sync.WaitGroup
		serveErr error
	)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				logger.Warn("Accept timeout", "error", err)
				continue
			}
			serveErr = err
			break
		}

		if s.sem != nil {
			if err := s.sem.Acquire(ctx, 1); err != nil {
				_ = conn.Close()
				if ctx.Err() != nil {
					break
				}
				continue
			}
		}

		wg.Add(1)
		go func(c net.Conn) {
			defer wg.Done()
			if s.sem != nil {
				defer s.sem.Release(1)
			}
			s.handleConnection(ctx, c, logger)
		}(conn)
	}

	wg.Wait()

	if serveErr != nil {
		return serveErr
	}

	return ctx.Err()
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn, logger *slog.Logger) {
	logger.Info("Accepted DICOM connection",
		"remote_addr", conn.RemoteAddr())

	if s.onAssociationOpen != nil {
		s.onAssociationOpen()
	}
	if s.onAssociationClose != nil {
		defer s.onAssociationClose()
	}

	// Set timeouts if configured
	if s.ReadTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(s.ReadTimeout)); err != nil {
			logger.Warn("Failed to set read deadline", "error", err)
		}
	}
	if s.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(s.WriteTimeout)); err != nil {
			logger.Warn("Failed to set write deadline", "error", err)
		}
	}

	adapter := &dimseHandlerAdapter{service: dimse.NewService(s.Handler, logger)}
	layer := pdu.NewLayer(conn, adapter, s.AETitle, logger)
	if s.Policy != nil {
		layer.SetAdmissionPolicy(s.Policy)
	}
	layer.SetAssociationID(s.associationIDs.next())

	if err := layer.HandleConnection(); err != nil && ctx.Err() == nil {
		logger.Warn("DIMSE connection ended",
			"error", err,
			"remote_addr", conn.RemoteAddr())
	} else {
		logger.Info("DIMSE connection closed",
			"remote_addr", conn.RemoteAddr())
	}
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

type dimseHandlerAdapter struct {
	service *dimse.Service
}

func (a *dimseHandlerAdapter) HandleDIMSEMessage(presContextID byte, msgCtrlHeader byte, data []byte, layer *pdu.Layer) error {
	return a.service.HandleDIMSEMessage(presContextID, msgCtrlHeader, data, layer)
}
