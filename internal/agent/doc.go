// Package agent implements the uniform call contract to the tutoring agents.
//
// # Overview
//
// Each dispatchable capability (content, assessment, analytics, adaptive,
// voice, engagement) gets one Client. The coordinator only ever sees:
//
//	Invoke(ctx, req) domain.Outcome
//
// Invoke never returns an error. The outcome status is:
//
//   - Success: the agent answered with a payload of the expected type
//   - TimedOut: the per-call timeout elapsed, including while rate limited
//   - Degraded: the agent was unreachable and a static fallback is configured
//   - Failed: anything else, with the error text as detail
//
// Clients never retry. Retrying is only safe for some calls and is decided by
// the coordinator.
//
// # Transports
//
// A Client spreads calls across one or more Transports using the round-robin
// Router:
//
//   - GRPCTransport: unary call to tutor.agent.v1.AgentService/Invoke with
//     google.protobuf.Struct messages, plus grpc.health.v1 readiness
//   - FuncTransport: in-process function, for embedding and tests
//
// The server side of the same contract is RegisterHandler, which serves any
// Handler on a grpc.Server.
//
// # Registry
//
// Registry maps capabilities to clients and fans readiness probes out to all of
// them.
package agent
