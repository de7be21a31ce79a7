package grpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"dpr/internal/api"
	"dpr/internal/dpr"
	"dpr/internal/pipeline"
	"dpr/internal/storage"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "dpr.v1.Reconstruction"

const maxMessageSize = 256 << 20

// ReconstructionServer is the server API. Requests and responses are JSON
// objects carried as google.protobuf.Struct.
type ReconstructionServer interface {
	Reconstruct(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SubmitRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRuns(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the Reconstruction service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ReconstructionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Reconstruct", Handler: unaryHandler("Reconstruct", ReconstructionServer.Reconstruct)},
		{MethodName: "SubmitRun", Handler: unaryHandler("SubmitRun", ReconstructionServer.SubmitRun)},
		{MethodName: "ListRuns", Handler: unaryHandler("ListRuns", ReconstructionServer.ListRuns)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dpr/v1/reconstruction.proto",
}

type unaryMethod func(ReconstructionServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call unaryMethod) grpc.MethodHandler {
	fullMethod := "/" + ServiceName + "/" + name
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ReconstructionServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ReconstructionServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// RegisterReconstructionServer registers srv with s.
func RegisterReconstructionServer(s grpc.ServiceRegistrar, srv ReconstructionServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Server implements ReconstructionServer.
type Server struct {
	stack    *dpr.Stack
	store    *storage.Store
	pipeline *pipeline.Pipeline
	roots    api.Roots
	log      *slog.Logger
}

// Options configure a Server.
type Options struct {
	Stack     *dpr.Stack
	Store     *storage.Store
	Pipeline  *pipeline.Pipeline
	OutputDir string   // submitted runs write below this directory
	InputDirs []string // submitted inputs must live below one of these
	Logger    *slog.Logger
}

// New creates a Server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stack := opts.Stack
	if stack == nil {
		stack = &dpr.Stack{Logger: logger}
	}
	return &Server{
		stack:    stack,
		store:    opts.Store,
		pipeline: opts.Pipeline,
		roots:    api.Roots{Inputs: opts.InputDirs, Output: opts.OutputDir},
		log:      logger,
	}
}

// NewGRPCServer returns a grpc.Server with s registered and logging attached.
func (s *Server) NewGRPCServer(extra ...grpc.ServerOption) *grpc.Server {
	opts := append([]grpc.ServerOption{
		grpc.MaxRecvMsgSize(maxMessageSize),
		grpc.MaxSendMsgSize(maxMessageSize),
		grpc.UnaryInterceptor(s.logUnary),
	}, extra...)
	gs := grpc.NewServer(opts...)
	RegisterReconstructionServer(gs, s)
	return gs
}

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	gs := s.NewGRPCServer()
	go func() {
		<-ctx.Done()
		s.log.Info("shutting down grpc server")
		gs.GracefulStop()
	}()
	s.log.Info("grpc server starting", "addr", lis.Addr().String(), "service", ServiceName)
	return gs.Serve(lis)
}

func (s *Server) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		s.log.Warn("grpc call failed", "method", info.FullMethod, "code", status.Code(err).String(), "error", err)
	} else {
		s.log.Debug("grpc call", "method", info.FullMethod)
	}
	return resp, err
}

// Reconstruct runs an inline stack synchronously.
func (s *Server) Reconstruct(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.ReconstructRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	resp, err := api.Reconstruct(ctx, s.stack, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(resp)
}

// SubmitRun queues a stack on disk; fields match the HTTP submit body.
func (s *Server) SubmitRun(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.pipeline == nil {
		return nil, status.Error(codes.Unavailable, "pipeline disabled")
	}
	var req api.SubmitRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	job, err := req.Job("run-"+uuid.NewString(), "grpc")
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.roots.Confine(&job); err != nil {
		return nil, toStatus(err)
	}
	if err := s.pipeline.Submit(job); err != nil {
		if errors.Is(err, pipeline.ErrQueueFull) {
			return nil, status.Error(codes.ResourceExhausted, err.Error())
		}
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	return toStruct(job)
}

// ListRuns returns recent runs; the optional "limit" field defaults to 20.
func (s *Server) ListRuns(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.store == nil {
		return nil, status.Error(codes.Unavailable, "run history disabled")
	}
	limit := 20
	if v, ok := in.GetFields()["limit"]; ok {
		n := int(v.GetNumberValue())
		if n <= 0 {
			return nil, status.Error(codes.InvalidArgument, "limit must be positive")
		}
		limit = n
	}
	runs, err := s.store.RecentRuns(limit)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	if runs == nil {
		runs = []storage.RunRecord{}
	}
	return toStruct(map[string]any{"runs": runs})
}

func toStatus(err error) error {
	switch {
	case api.IsClientError(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case dpr.IsCancelled(err):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func fromStruct(in *structpb.Struct, v any) error {
	raw, err := protojson.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}
