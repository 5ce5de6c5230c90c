package grpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/cowrite/coreengine/config"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/logging"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/pipeline"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/session"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// WritingServer implements WritingServiceServer over a pipeline.Service.
type WritingServer struct {
	svc    *pipeline.Service
	logger logging.Logger
}

// NewWritingServer creates a WritingServer.
func NewWritingServer(svc *pipeline.Service, logger logging.Logger) *WritingServer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &WritingServer{svc: svc, logger: logger}
}

// GetSession returns the project's session with coverage and completeness.
func (s *WritingServer) GetSession(ctx context.Context, req *GetSessionRequest) (*pipeline.SessionView, error) {
	if err := validateRequired(req.ProjectID, "project_id"); err != nil {
		return nil, err
	}
	view, err := s.svc.Session(ctx, req.ProjectID)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return &view, nil
}

// RunStage runs the named pipeline operation.
func (s *WritingServer) RunStage(ctx context.Context, req *RunStageRequest) (*RunStageResponse, error) {
	if err := validateRequired(req.ProjectID, "project_id"); err != nil {
		return nil, err
	}
	if err := validateRequired(req.Operation, "operation"); err != nil {
		return nil, err
	}

	result, err := s.dispatch(ctx, req)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode %s result: %v", req.Operation, err)
	}
	sess, err := s.svc.Machine.Get(ctx, req.ProjectID)
	if err != nil {
		return nil, toStatus(ctx, err)
	}

	s.logger.Debug("grpc_stage_run",
		"project_id", req.ProjectID,
		"operation", req.Operation,
		"stage", string(sess.CurrentStage),
	)
	return &RunStageResponse{
		ProjectID: req.ProjectID,
		Operation: req.Operation,
		Stage:     string(sess.CurrentStage),
		Result:    data,
	}, nil
}

func (s *WritingServer) dispatch(ctx context.Context, req *RunStageRequest) (any, error) {
	id := req.ProjectID
	switch req.Operation {
	case pipeline.OpBrief:
		var p pipeline.BriefRequest
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		p.ProjectID = id
		return s.svc.Brief(ctx, p)
	case pipeline.OpResearch:
		var p pipeline.ResearchRequest
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		p.ProjectID = id
		return s.svc.Research(ctx, p)
	case pipeline.OpStructure:
		return s.svc.Structure(ctx, id)
	case pipeline.OpAdjustStructure:
		var p pipeline.AdjustRequest
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		p.ProjectID = id
		return s.svc.AdjustStructure(ctx, p)
	case pipeline.OpDraft:
		return s.svc.Draft(ctx, id)
	case pipeline.OpAnalyzeDraft:
		return s.svc.AnalyzeDraft(ctx, id)
	case pipeline.OpReview:
		return s.svc.Review(ctx, id)
	case pipeline.OpRefine:
		var p pipeline.RefineRequest
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		p.ProjectID = id
		return s.svc.RefineParagraph(ctx, p)
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown operation %q", req.Operation)
	}
}

func decodeParams(req *RunStageRequest, v any) error {
	if len(req.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		return status.Errorf(codes.InvalidArgument, "params for %s: %v", req.Operation, err)
	}
	return nil
}

// Lock locks the thesis or the structure.
func (s *WritingServer) Lock(ctx context.Context, req *LockRequest) (*SessionResponse, error) {
	if err := validateRequired(req.ProjectID, "project_id"); err != nil {
		return nil, err
	}
	var (
		sess *session.Session
		err  error
	)
	switch session.Artifact(req.Artifact) {
	case session.ArtifactThesis:
		sess, err = s.svc.LockThesis(ctx, req.ProjectID)
	case session.ArtifactStructure:
		sess, err = s.svc.LockStructure(ctx, req.ProjectID)
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown artifact %q", req.Artifact)
	}
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return &SessionResponse{Session: sess}, nil
}

// Unlock clears a lock with the caller's reason.
func (s *WritingServer) Unlock(ctx context.Context, req *UnlockRequest) (*SessionResponse, error) {
	if err := validateRequired(req.ProjectID, "project_id"); err != nil {
		return nil, err
	}
	if err := validateRequired(req.Reason, "reason"); err != nil {
		return nil, err
	}
	sess, err := s.svc.Unlock(ctx, req.ProjectID, session.Artifact(req.Artifact), req.Reason)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return &SessionResponse{Session: sess}, nil
}

var _ WritingServiceServer = (*WritingServer)(nil)

// =============================================================================
// Graceful Server
// =============================================================================

// DefaultCleanupInterval is how often idle rate limit windows are dropped.
const DefaultCleanupInterval = 5 * time.Minute

// Server is the gRPC server with WritingService and the standard health
// service registered, and graceful shutdown.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	limiter    *RateLimiter
	logger     logging.Logger
	address    string
	shutdownMu sync.Mutex
	isShutdown bool
}

// NewServer builds a Server for svc. Without opts the standard interceptor
// chain is installed, rate limited by cfg.RunsPerMinute. OpenTelemetry
// instrumentation is always on.
func NewServer(svc *pipeline.Service, cfg *config.CoreConfig, logger logging.Logger, opts ...grpc.ServerOption) *Server {
	if cfg == nil {
		cfg = config.DefaultCoreConfig()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	var limiter *RateLimiter
	if len(opts) == 0 {
		if cfg.RunsPerMinute > 0 {
			limiter = NewRateLimiter(cfg.RunsPerMinute, time.Minute)
		}
		opts = ServerOptions(logger, limiter)
	}
	opts = append(opts, grpc.StatsHandler(otelgrpc.NewServerHandler()))

	gs := grpc.NewServer(opts...)
	RegisterWritingServiceServer(gs, NewWritingServer(svc, logger))

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{
		grpcServer: gs,
		health:     hs,
		limiter:    limiter,
		logger:     logger,
		address:    cfg.GRPCAddress,
	}
}

// Serve serves on lis until the server stops.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("grpc_server_started", "address", lis.Addr().String())
	return s.grpcServer.Serve(lis)
}

// Start listens on the configured address and blocks until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.Serve(lis); err != nil {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("grpc_graceful_shutdown_initiated", "reason", ctx.Err().Error())
		s.GracefulStop()
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}

// GracefulStop marks the service NOT_SERVING, stops accepting connections
// and waits for in-flight calls.
func (s *Server) GracefulStop() {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()
	if s.isShutdown {
		return
	}
	s.isShutdown = true

	s.health.Shutdown()
	s.logger.Info("grpc_graceful_stop_started")
	s.grpcServer.GracefulStop()
	s.logger.Info("grpc_graceful_stop_completed")
}

// Stop immediately stops the server.
func (s *Server) Stop() {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()
	if s.isShutdown {
		return
	}
	s.isShutdown = true

	s.health.Shutdown()
	s.logger.Warn("grpc_immediate_stop")
	s.grpcServer.Stop()
}

// ShutdownWithTimeout stops gracefully, forcing an immediate stop after
// timeout.
func (s *Server) ShutdownWithTimeout(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("grpc_graceful_shutdown_timeout", "timeout_ms", timeout.Milliseconds())
		s.grpcServer.Stop()
	}
}

// StartCleanupLoop periodically drops idle rate limit windows. It returns
// the stop function.
func (s *Server) StartCleanupLoop(interval time.Duration) func() {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		for {
			select {
			case <-ticker.C:
				s.runCleanupCycle()
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

func (s *Server) runCleanupCycle() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("cleanup_panic_recovered", "error", fmt.Sprintf("%v", r))
		}
	}()
	if s.limiter == nil {
		return
	}
	removed := s.limiter.Cleanup()
	s.logger.Debug("cleanup_cycle_completed", "rate_windows_cleaned", removed)
}

// GRPCServer returns the underlying grpc.Server.
func (s *Server) GRPCServer() *grpc.Server {
	return s.grpcServer
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.address
}
