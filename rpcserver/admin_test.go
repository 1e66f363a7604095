package rpcserver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jeeves-cluster-organization/deviceclient/device"
	"github.com/jeeves-cluster-organization/deviceclient/faketransport"
)

func newAdminFixture(t *testing.T) (*AdminServer, *Registry, *device.Client) {
	t.Helper()
	registry := NewRegistry()
	c, err := device.NewFromConnectionString("dev-1", "HostName=h;DeviceId=d;SharedAccessKey=k", faketransport.New(), nil, nil)
	require.NoError(t, err)
	t.Cleanup(c.Destroy)
	registry.Register(c)
	return NewAdminServer(nil, registry), registry, c
}

func TestListClients(t *testing.T) {
	srv, _, _ := newAdminFixture(t)

	resp, err := srv.ListClients(context.Background(), &emptypb.Empty{})
	require.NoError(t, err)

	clients := resp.Fields["clients"].GetListValue().GetValues()
	require.Len(t, clients, 1)
	assert.Equal(t, "dev-1", clients[0].GetStructValue().Fields["id"].GetStringValue())
	assert.False(t, clients[0].GetStructValue().Fields["stopped"].GetBoolValue())
}

func TestGetClientStatus(t *testing.T) {
	srv, _, _ := newAdminFixture(t)

	req, err := structpb.NewStruct(map[string]any{"client_id": "dev-1"})
	require.NoError(t, err)

	resp, err := srv.GetClientStatus(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "dev-1", resp.Fields["id"].GetStringValue())
	assert.False(t, resp.Fields["worker_started"].GetBoolValue())
}

func TestGetClientStatus_UnknownClient(t *testing.T) {
	srv, _, _ := newAdminFixture(t)

	req, err := structpb.NewStruct(map[string]any{"client_id": "nope"})
	require.NoError(t, err)

	_, err = srv.GetClientStatus(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestGetClientStatus_MissingClientID(t *testing.T) {
	srv, _, _ := newAdminFixture(t)

	_, err := srv.GetClientStatus(context.Background(), &structpb.Struct{})
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestListDetachedTasks(t *testing.T) {
	srv, _, _ := newAdminFixture(t)

	req, err := structpb.NewStruct(map[string]any{"client_id": "dev-1"})
	require.NoError(t, err)

	resp, err := srv.ListDetachedTasks(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, float64(0), resp.Fields["tasks_in_flight"].GetNumberValue())
}

func TestSetClientOption(t *testing.T) {
	srv, _, _ := newAdminFixture(t)

	req, err := structpb.NewStruct(map[string]any{
		"client_id": "dev-1",
		"name":      device.OptionDoWorkFreqMS,
		"value":     5,
	})
	require.NoError(t, err)

	resp, err := srv.SetClientOption(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "OK", resp.Fields["result"].GetStringValue())

	// Out-of-range value surfaces as FailedPrecondition, not success.
	req, err = structpb.NewStruct(map[string]any{
		"client_id": "dev-1",
		"name":      device.OptionDoWorkFreqMS,
		"value":     500,
	})
	require.NoError(t, err)

	_, err = srv.SetClientOption(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestUnregisterRemovesClientFromListing(t *testing.T) {
	srv, registry, _ := newAdminFixture(t)
	registry.Unregister("dev-1")

	resp, err := srv.ListClients(context.Background(), &emptypb.Empty{})
	require.NoError(t, err)
	assert.Empty(t, resp.Fields["clients"].GetListValue().GetValues())
}

func TestChainUnaryInterceptorsOrder(t *testing.T) {
	var order []string
	mk := func(name string) grpc.UnaryServerInterceptor {
		return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
			order = append(order, name+"-before")
			resp, err := handler(ctx, req)
			order = append(order, name+"-after")
			return resp, err
		}
	}

	chained := ChainUnaryInterceptors(mk("outer"), mk("inner"))
	info := &grpc.UnaryServerInfo{FullMethod: "/test/Method"}
	resp, err := chained(context.Background(), "req", info, func(ctx context.Context, req any) (any, error) {
		order = append(order, "handler")
		return "resp", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "resp", resp)
	assert.Equal(t, []string{"outer-before", "inner-before", "handler", "inner-after", "outer-after"}, order)
}

func TestRecoveryInterceptorConvertsPanic(t *testing.T) {
	interceptor := RecoveryInterceptor(nopLogger{}, nil)
	info := &grpc.UnaryServerInfo{FullMethod: "/test/Method"}

	_, err := interceptor(context.Background(), "req", info, func(ctx context.Context, req any) (any, error) {
		panic("boom")
	})

	require.Error(t, err)
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestLoggingInterceptorPassesThroughErrors(t *testing.T) {
	interceptor := LoggingInterceptor(nopLogger{})
	info := &grpc.UnaryServerInfo{FullMethod: "/test/Method"}

	wantErr := status.Error(codes.Unavailable, "down")
	_, err := interceptor(context.Background(), "req", info, func(ctx context.Context, req any) (any, error) {
		return nil, wantErr
	})

	require.True(t, errors.Is(err, wantErr) || status.Code(err) == codes.Unavailable)
}
