package rpcserver

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// =============================================================================
// ADMIN-PLANE ERROR CODES
// =============================================================================
//
// These error builders give the admin control plane a consistent error
// vocabulary across its RPC surface, independent of any one handler's
// business logic.

// validateRequired checks if a field is non-empty, returning InvalidArgument if not.
func validateRequired(field, fieldName string) error {
	if field == "" {
		return status.Errorf(codes.InvalidArgument, "%s is required", fieldName)
	}
	return nil
}

// InvalidArgument returns a gRPC InvalidArgument error for a malformed or
// missing required field.
func InvalidArgument(fieldName string) error {
	return status.Errorf(codes.InvalidArgument, "%s is required", fieldName)
}

// NotFound returns a gRPC NotFound error for an unknown resource.
func NotFound(resourceType, id string) error {
	return status.Errorf(codes.NotFound, "%s not found: %s", resourceType, id)
}

// Internal wraps an unexpected internal error with an operation label.
func Internal(operation string, cause error) error {
	return status.Errorf(codes.Internal, "%s failed: %v", operation, cause)
}

// FailedPrecondition reports an operation that cannot proceed given the
// resource's current state.
func FailedPrecondition(resource, currentState, attemptedAction string) error {
	return status.Errorf(codes.FailedPrecondition,
		"%s in state %s cannot %s", resource, currentState, attemptedAction)
}

// ResourceExhausted reports a quota or limit violation.
func ResourceExhausted(resourceType, limit string) error {
	return status.Errorf(codes.ResourceExhausted,
		"%s limit exceeded: %s", resourceType, limit)
}

// PermissionDenied reports an authorization failure.
func PermissionDenied(operation, reason string) error {
	return status.Errorf(codes.PermissionDenied,
		"%s denied: %s", operation, reason)
}
