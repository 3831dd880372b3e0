package grpcapi

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"sirsi-hub/internal/domain"
)

// statusRules maps error sentinels to gRPC codes. The first match wins.
var statusRules = []struct {
	sentinel error
	code     codes.Code
}{
	{context.DeadlineExceeded, codes.DeadlineExceeded},
	{context.Canceled, codes.Canceled},
	{domain.ErrSessionNotFound, codes.NotFound},
	{domain.ErrAgentNotFound, codes.NotFound},
	{domain.ErrDecisionNotFound, codes.NotFound},
	{domain.ErrAllocationNotFound, codes.NotFound},
	{domain.ErrNotFound, codes.NotFound},
	{domain.ErrDuplicateVote, codes.AlreadyExists},
	{domain.ErrDuplicate, codes.AlreadyExists},
	{domain.ErrRPCInvalidPayload, codes.InvalidArgument},
	{domain.ErrInvalidInput, codes.InvalidArgument},
	{domain.ErrNoViableOptions, codes.FailedPrecondition},
	{domain.ErrSafetyViolation, codes.FailedPrecondition},
	{domain.ErrTimeout, codes.DeadlineExceeded},
	{domain.ErrRateLimit, codes.ResourceExhausted},
	{domain.ErrPortUnavailable, codes.ResourceExhausted},
	{domain.ErrLimitReached, codes.ResourceExhausted},
	{domain.ErrAuthInvalid, codes.Unauthenticated},
	{domain.ErrPermissionDenied, codes.PermissionDenied},
	{domain.ErrCircuitOpen, codes.Unavailable},
	{domain.ErrChannelClosed, codes.Unavailable},
	{domain.ErrUnavailable, codes.Unavailable},
}

// toStatus converts a hub error to a gRPC status error. The domain error
// code is carried as a bracketed prefix of the message so clients can
// recover it with ErrorCode.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	code := codes.Internal
	for _, r := range statusRules {
		if errors.Is(err, r.sentinel) {
			code = r.code
			break
		}
	}
	return status.Error(code, fmt.Sprintf("[%s] %s", domain.ErrorCodeOf(err), err.Error()))
}

// ErrorCode extracts the domain error code from an error returned by Client.
func ErrorCode(err error) domain.ErrorCode {
	st, ok := status.FromError(err)
	if !ok || st == nil {
		return domain.CodeUnknown
	}
	msg := st.Message()
	if !strings.HasPrefix(msg, "[") {
		return domain.CodeUnknown
	}
	end := strings.IndexByte(msg, ']')
	if end < 0 {
		return domain.CodeUnknown
	}
	return domain.ErrorCode(msg[1:end])
}
