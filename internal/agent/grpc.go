// ABOUTME: gRPC transport that calls agents through a generic unary Invoke method
// ABOUTME: Requests and responses travel as google.protobuf.Struct, so no generated stubs are needed

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/2389/tutor-gateway/internal/domain"
)

// ServiceName is the gRPC service every agent exposes.
const ServiceName = "tutor.agent.v1.AgentService"

const invokeMethod = "/" + ServiceName + "/Invoke"

// GRPCTransport calls a remote agent over gRPC.
type GRPCTransport struct {
	target string
	conn   *grpc.ClientConn
	health healthpb.HealthClient
}

// DialGRPC creates a transport for target. No network I/O happens until the
// first call, so an agent that is down at startup degrades instead of failing boot.
func DialGRPC(target string, opts ...grpc.DialOption) (*GRPCTransport, error) {
	kacp := keepalive.ClientParameters{
		Time:                2 * time.Minute,
		Timeout:             10 * time.Second,
		PermitWithoutStream: false,
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating gRPC client for %s: %w", target, err)
	}
	return &GRPCTransport{
		target: target,
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
	}, nil
}

// Call sends req to the agent and decodes the tagged payload it returns.
func (t *GRPCTransport) Call(ctx context.Context, req *domain.AgentRequest) (domain.Payload, error) {
	in, err := toStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	out := new(structpb.Struct)
	if err := t.conn.Invoke(ctx, invokeMethod, in, out); err != nil {
		return nil, classifyRPCError(err)
	}

	raw, err := protojson.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encoding response: %w", err)
	}
	return domain.UnmarshalEnvelope(req.Capability, raw)
}

// Ready checks the agent's gRPC health service.
func (t *GRPCTransport) Ready(ctx context.Context) error {
	resp, err := t.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return classifyRPCError(err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%s reports %s", t.target, resp.GetStatus())
	}
	return nil
}

// Close closes the underlying connection.
func (t *GRPCTransport) Close() error {
	return t.conn.Close()
}

// classifyRPCError maps gRPC status codes onto the sentinels the Client understands.
func classifyRPCError(err error) error {
	switch status.Code(err) {
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	case codes.Unavailable:
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	case codes.Canceled:
		return fmt.Errorf("%w: %v", context.Canceled, err)
	default:
		return err
	}
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, s); err != nil {
		return nil, err
	}
	return s, nil
}
