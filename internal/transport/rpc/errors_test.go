package rpc

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/docker/model-ops-coordinator/internal/errs"
)

func TestToGRPCError_CircuitOpenMapsToUnavailable(t *testing.T) {
	err := toGRPCError(&errs.CircuitOpen{Operation: "load", FailureCount: 4, RetryAfterSec: 20})
	st, ok := status.FromError(err)
	require.True(t, ok)
	require.Equal(t, codes.Unavailable, st.Code())
}

func TestToGRPCError_BulkheadRejectionMapsToResourceExhausted(t *testing.T) {
	err := toGRPCError(&errs.BulkheadRejection{Operation: "inference", Current: 2, Max: 2})
	st, ok := status.FromError(err)
	require.True(t, ok)
	require.Equal(t, codes.ResourceExhausted, st.Code())
}
