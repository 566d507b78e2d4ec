package rpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalsfoundry/warmsync/internal/portconfig"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client is a typed client for the warm-init service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Begin opens a window on device.
func (c *Client) Begin(ctx context.Context, device string, opts ...grpc.CallOption) (WindowInfo, error) {
	var info WindowInfo
	err := c.call(ctx, WarmInitService_Begin_FullMethodName, BeginRequest{Device: device}, &info, opts...)
	return info, err
}

// Upsert replays spec into the window.
func (c *Client) Upsert(ctx context.Context, windowID string, spec portconfig.PortSpec, opts ...grpc.CallOption) error {
	return c.call(ctx, WarmInitService_Upsert_FullMethodName, UpsertRequest{WindowID: windowID, Port: spec}, nil, opts...)
}

// Remove withdraws port from the window.
func (c *Client) Remove(ctx context.Context, windowID string, port uint32, opts ...grpc.CallOption) error {
	return c.call(ctx, WarmInitService_Remove_FullMethodName, RemoveRequest{WindowID: windowID, Port: port}, nil, opts...)
}

// End reconciles the window.
func (c *Client) End(ctx context.Context, windowID string, opts ...grpc.CallOption) (EndReply, error) {
	var reply EndReply
	err := c.call(ctx, WarmInitService_End_FullMethodName, EndRequest{WindowID: windowID}, &reply, opts...)
	return reply, err
}

// Abort discards the window.
func (c *Client) Abort(ctx context.Context, windowID, reason string, opts ...grpc.CallOption) error {
	return c.call(ctx, WarmInitService_Abort_FullMethodName, AbortRequest{WindowID: windowID, Reason: reason}, nil, opts...)
}

// Status reports the state of device.
func (c *Client) Status(ctx context.Context, device string, opts ...grpc.CallOption) (StatusReply, error) {
	var reply StatusReply
	err := c.call(ctx, WarmInitService_Status_FullMethodName, StatusRequest{Device: device}, &reply, opts...)
	return reply, err
}

// Replay runs a whole warm init for doc: Begin, one Upsert per port, End.
// If any Upsert fails the window is aborted and the error returned.
func (c *Client) Replay(ctx context.Context, doc portconfig.Document, opts ...grpc.CallOption) (EndReply, error) {
	info, err := c.Begin(ctx, doc.Device, opts...)
	if err != nil {
		return EndReply{}, fmt.Errorf("begin %s: %w", doc.Device, err)
	}
	for _, spec := range doc.Ports {
		if err := c.Upsert(ctx, info.WindowID, spec, opts...); err != nil {
			abortErr := c.Abort(context.WithoutCancel(ctx), info.WindowID, "replay failed", opts...)
			return EndReply{}, errors.Join(fmt.Errorf("upsert port %d: %w", spec.Port, err), abortErr)
		}
	}
	reply, err := c.End(ctx, info.WindowID, opts...)
	if err != nil {
		return EndReply{}, fmt.Errorf("end window %s: %w", info.WindowID, err)
	}
	return reply, nil
}

func (c *Client) call(ctx context.Context, method string, req, reply any, opts ...grpc.CallOption) error {
	in, err := encodeStruct(req)
	if err != nil {
		return err
	}
	if reply == nil {
		return c.cc.Invoke(ctx, method, in, &emptypb.Empty{}, opts...)
	}
	out := &structpb.Struct{}
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return err
	}
	if err := decodeStruct(out, reply); err != nil {
		return fmt.Errorf("decode %s reply: %w", method, err)
	}
	return nil
}
