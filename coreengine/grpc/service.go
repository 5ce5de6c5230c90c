package grpc

import (
	"context"
	"encoding/json"

	"github.com/jeeves-cluster-organization/cowrite/coreengine/pipeline"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/session"
	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "cowrite.v1.WritingService"

// Full method names.
const (
	MethodGetSession = "/" + ServiceName + "/GetSession"
	MethodRunStage   = "/" + ServiceName + "/RunStage"
	MethodLock       = "/" + ServiceName + "/Lock"
	MethodUnlock     = "/" + ServiceName + "/Unlock"
)

// =============================================================================
// MESSAGES
// =============================================================================

// GetSessionRequest asks for a project's session view.
type GetSessionRequest struct {
	ProjectID string `json:"project_id"`
}

// RunStageRequest runs one pipeline operation. Params is the operation's
// request body; its project_id is overridden by ProjectID.
type RunStageRequest struct {
	ProjectID string          `json:"project_id"`
	Operation string          `json:"operation"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// RunStageResponse carries the operation result and the stage the session
// is in afterwards.
type RunStageResponse struct {
	ProjectID string          `json:"project_id"`
	Operation string          `json:"operation"`
	Stage     string          `json:"stage"`
	Result    json.RawMessage `json:"result"`
}

// LockRequest locks an artifact ("thesis" or "structure").
type LockRequest struct {
	ProjectID string `json:"project_id"`
	Artifact  string `json:"artifact"`
}

// UnlockRequest clears a lock. Reason is required.
type UnlockRequest struct {
	ProjectID string `json:"project_id"`
	Artifact  string `json:"artifact"`
	Reason    string `json:"reason"`
}

// SessionResponse is the session after a lock change.
type SessionResponse struct {
	Session *session.Session `json:"session"`
}

func (r *GetSessionRequest) GetProjectID() string { return r.ProjectID }
func (r *RunStageRequest) GetProjectID() string   { return r.ProjectID }
func (r *LockRequest) GetProjectID() string       { return r.ProjectID }
func (r *UnlockRequest) GetProjectID() string     { return r.ProjectID }

// =============================================================================
// SERVICE DESCRIPTOR
// =============================================================================

// WritingServiceServer is the server API for WritingService.
type WritingServiceServer interface {
	GetSession(context.Context, *GetSessionRequest) (*pipeline.SessionView, error)
	RunStage(context.Context, *RunStageRequest) (*RunStageResponse, error)
	Lock(context.Context, *LockRequest) (*SessionResponse, error)
	Unlock(context.Context, *UnlockRequest) (*SessionResponse, error)
}

// RegisterWritingServiceServer registers srv on s.
func RegisterWritingServiceServer(s grpc.ServiceRegistrar, srv WritingServiceServer) {
	s.RegisterService(&WritingServiceDesc, srv)
}

// WritingServiceDesc describes WritingService for grpc.Server.
var WritingServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*WritingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetSession", Handler: getSessionHandler},
		{MethodName: "RunStage", Handler: runStageHandler},
		{MethodName: "Lock", Handler: lockHandler},
		{MethodName: "Unlock", Handler: unlockHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func getSessionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetSessionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WritingServiceServer).GetSession(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodGetSession}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WritingServiceServer).GetSession(ctx, req.(*GetSessionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func runStageHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RunStageRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WritingServiceServer).RunStage(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodRunStage}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WritingServiceServer).RunStage(ctx, req.(*RunStageRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func lockHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(LockRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WritingServiceServer).Lock(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodLock}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WritingServiceServer).Lock(ctx, req.(*LockRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func unlockHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(UnlockRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WritingServiceServer).Unlock(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodUnlock}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WritingServiceServer).Unlock(ctx, req.(*UnlockRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// =============================================================================
// CLIENT
// =============================================================================

// WritingServiceClient calls WritingService over the JSON codec.
type WritingServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewWritingServiceClient wraps cc.
func NewWritingServiceClient(cc grpc.ClientConnInterface) *WritingServiceClient {
	return &WritingServiceClient{cc: cc}
}

func (c *WritingServiceClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, method, in, out, opts...)
}

// GetSession returns the project's session view.
func (c *WritingServiceClient) GetSession(ctx context.Context, in *GetSessionRequest, opts ...grpc.CallOption) (*pipeline.SessionView, error) {
	out := new(pipeline.SessionView)
	if err := c.invoke(ctx, MethodGetSession, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// RunStage runs one pipeline operation.
func (c *WritingServiceClient) RunStage(ctx context.Context, in *RunStageRequest, opts ...grpc.CallOption) (*RunStageResponse, error) {
	out := new(RunStageResponse)
	if err := c.invoke(ctx, MethodRunStage, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// Lock locks an artifact.
func (c *WritingServiceClient) Lock(ctx context.Context, in *LockRequest, opts ...grpc.CallOption) (*SessionResponse, error) {
	out := new(SessionResponse)
	if err := c.invoke(ctx, MethodLock, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// Unlock clears a lock.
func (c *WritingServiceClient) Unlock(ctx context.Context, in *UnlockRequest, opts ...grpc.CallOption) (*SessionResponse, error) {
	out := new(SessionResponse)
	if err := c.invoke(ctx, MethodUnlock, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}
