package grpc

import (
	"context"
	"errors"

	"github.com/jeeves-cluster-organization/cowrite/coreengine/failures"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/session"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ErrorKindKey is the trailer that carries the failure kind of a failed
// call, so clients can branch on it without parsing messages.
const ErrorKindKey = "cowrite-error-kind"

// validateRequired returns InvalidArgument when field is empty.
func validateRequired(field, fieldName string) error {
	if field == "" {
		return status.Errorf(codes.InvalidArgument, "%s is required", fieldName)
	}
	return nil
}

// CodeOf maps a pipeline error to its gRPC code.
//
//	invalid_input                      InvalidArgument
//	stage_violation, lock_violation    FailedPrecondition
//	model_invocation                   Unavailable
//	parse and schema failures          Internal
func CodeOf(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	if st, ok := status.FromError(err); ok {
		return st.Code()
	}
	switch {
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, session.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, session.ErrVersionConflict):
		return codes.Aborted
	}
	switch failures.KindOf(err) {
	case failures.KindInvalidInput:
		return codes.InvalidArgument
	case failures.KindStageViolation, failures.KindLockViolation:
		return codes.FailedPrecondition
	case failures.KindModelInvocation:
		return codes.Unavailable
	}
	return codes.Internal
}

// toStatus converts err for the wire. Caller mistakes keep their message;
// generation failures carry only the generic user message so model output
// never reaches the client. The failure kind goes in the ErrorKindKey
// trailer.
func toStatus(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	code := CodeOf(err)
	if kind := failures.KindOf(err); kind != "" {
		_ = grpc.SetTrailer(ctx, metadata.Pairs(ErrorKindKey, string(kind)))
	}

	msg := err.Error()
	switch code {
	case codes.Internal, codes.Unavailable:
		msg = failures.UserMessage(err)
	}
	return status.Error(code, msg)
}
