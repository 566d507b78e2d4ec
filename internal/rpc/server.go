package rpc

import (
	"context"
	"fmt"
	"strings"

	"github.com/signalsfoundry/warmsync/internal/logging"
	"github.com/signalsfoundry/warmsync/internal/warminit"
	"github.com/signalsfoundry/warmsync/model"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

var _ WarmInitServer = (*Server)(nil)

// Server exposes a warminit.Manager over gRPC.
type Server struct {
	mgr *warminit.Manager
	log logging.Logger

	// lifetime bounds every window opened through the server. Windows
	// outlive the Begin RPC and are aborted when lifetime is cancelled.
	lifetime context.Context
}

// ServerOption customises a Server.
type ServerOption func(*Server)

// WithServerLogger sets the fallback logger used when a request carries none.
func WithServerLogger(l logging.Logger) ServerOption {
	return func(s *Server) { s.log = logging.OrNoop(l) }
}

// WithLifetime binds opened windows to ctx instead of context.Background.
func WithLifetime(ctx context.Context) ServerOption {
	return func(s *Server) {
		if ctx != nil {
			s.lifetime = ctx
		}
	}
}

// NewServer wraps mgr.
func NewServer(mgr *warminit.Manager, opts ...ServerOption) *Server {
	s := &Server{
		mgr:      mgr,
		log:      logging.Noop(),
		lifetime: context.Background(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// detach returns a context that keeps the trace and logger of ctx but is
// cancelled only with the server lifetime.
func (s *Server) detach(ctx context.Context) context.Context {
	out := trace.ContextWithSpan(s.lifetime, trace.SpanFromContext(ctx))
	if id := logging.RequestIDFromContext(ctx); id != "" {
		out = logging.ContextWithRequestID(out, id)
	}
	return logging.ContextWithLogger(out, logging.FromContext(ctx, s.log))
}

// Begin locks a device and opens a replay window.
func (s *Server) Begin(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req BeginRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, ToStatusError(err)
	}
	if strings.TrimSpace(req.Device) == "" {
		return nil, ToStatusError(fmt.Errorf("%w: device is required", ErrInvalidRequest))
	}

	w, err := s.mgr.BeginScoped(ctx, s.detach(ctx), req.Device)
	if err != nil {
		logging.FromContext(ctx, s.log).Warn(ctx, "begin rejected",
			logging.Device(req.Device),
			logging.Err(err),
		)
		return nil, ToStatusError(err)
	}
	return s.reply(WindowInfo{
		WindowID:      w.ID(),
		Device:        w.Device(),
		OpenedAt:      w.OpenedAt(),
		ObservedPorts: w.Observed().Len(),
	})
}

// Upsert replays one port into an open window.
func (s *Server) Upsert(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	var req UpsertRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, ToStatusError(err)
	}
	w, err := s.mgr.Window(req.WindowID)
	if err != nil {
		return nil, ToStatusError(err)
	}
	rec, err := req.Port.Record()
	if err != nil {
		return nil, ToStatusError(err)
	}
	if err := w.Upsert(req.Port.Key(), rec); err != nil {
		return nil, ToStatusError(err)
	}
	return &emptypb.Empty{}, nil
}

// Remove withdraws one port from an open window.
func (s *Server) Remove(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	var req RemoveRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, ToStatusError(err)
	}
	w, err := s.mgr.Window(req.WindowID)
	if err != nil {
		return nil, ToStatusError(err)
	}
	if err := w.Remove(model.PortKey(req.Port)); err != nil {
		return nil, ToStatusError(err)
	}
	return &emptypb.Empty{}, nil
}

// End closes the replay, reconciles and reports the plan and its application.
// Reconciliation runs to completion even if the caller goes away or the
// server starts shutting down.
func (s *Server) End(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req EndRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, ToStatusError(err)
	}
	w, err := s.mgr.Window(req.WindowID)
	if err != nil {
		return nil, ToStatusError(err)
	}

	ctx, span := startChildSpan(ctx, "WarmInit.End", w.Device(), w.ID())
	defer span.End()

	out, err := w.End(context.WithoutCancel(ctx))
	if err != nil {
		span.RecordError(err)
		return nil, ToStatusError(err)
	}
	return s.reply(endReply(out))
}

// Abort discards an open window.
func (s *Server) Abort(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	var req AbortRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, ToStatusError(err)
	}
	w, err := s.mgr.Window(req.WindowID)
	if err != nil {
		return nil, ToStatusError(err)
	}
	reason := req.Reason
	if reason == "" {
		reason = "aborted by client"
	}
	if err := w.Abort(ctx, reason); err != nil {
		return nil, ToStatusError(err)
	}
	return &emptypb.Empty{}, nil
}

// Status reports the protocol state of a device.
func (s *Server) Status(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req StatusRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, ToStatusError(err)
	}
	if strings.TrimSpace(req.Device) == "" {
		return nil, ToStatusError(fmt.Errorf("%w: device is required", ErrInvalidRequest))
	}
	return s.reply(statusReply(s.mgr.Status(req.Device)))
}

func (s *Server) reply(v any) (*structpb.Struct, error) {
	st, err := encodeStruct(v)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return st, nil
}
