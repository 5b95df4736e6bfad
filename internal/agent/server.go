// ABOUTME: Server side of the agent gRPC contract, registered without generated code
// ABOUTME: Agents implement Handler; the fake agent and tests serve through it

package agent

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/2389/tutor-gateway/internal/domain"
)

// Handler answers agent requests on the server side.
type Handler interface {
	Invoke(ctx context.Context, req *domain.AgentRequest) (domain.Payload, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, req *domain.AgentRequest) (domain.Payload, error)

// Invoke calls f.
func (f HandlerFunc) Invoke(ctx context.Context, req *domain.AgentRequest) (domain.Payload, error) {
	return f(ctx, req)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Invoke", Handler: invokeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tutor/agent/v1/agent.proto",
}

// RegisterHandler registers h as the AgentService implementation on s.
func RegisterHandler(s grpc.ServiceRegistrar, h Handler) {
	s.RegisterService(&serviceDesc, h)
}

func invokeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		return serveInvoke(ctx, srv.(Handler), req.(*structpb.Struct))
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: invokeMethod}
	return interceptor(ctx, in, info, call)
}

func serveInvoke(ctx context.Context, h Handler, in *structpb.Struct) (*structpb.Struct, error) {
	raw, err := protojson.Marshal(in)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "encoding request: %v", err)
	}
	var req domain.AgentRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decoding request: %v", err)
	}

	payload, err := h.Invoke(ctx, &req)
	if err != nil {
		if _, ok := status.FromError(err); ok {
			return nil, err
		}
		return nil, status.Error(codes.Internal, err.Error())
	}

	env, err := domain.MarshalEnvelope(payload)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding payload: %v", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(env, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encoding payload: %v", err)
	}
	return out, nil
}
