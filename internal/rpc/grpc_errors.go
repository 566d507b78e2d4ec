package rpc

import (
	"context"
	"errors"

	"github.com/signalsfoundry/warmsync/internal/portconfig"
	"github.com/signalsfoundry/warmsync/internal/warminit"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ToStatusError maps reconciliation errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, warminit.ErrWindowNotFound):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, warminit.ErrAlreadyInProgress):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, warminit.ErrWindowClosed):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, portconfig.ErrInvalidPort),
		errors.Is(err, portconfig.ErrInvalidDocument):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, warminit.ErrCaptureFailed):
		return status.Error(codes.Unavailable, err.Error())

	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())

	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
