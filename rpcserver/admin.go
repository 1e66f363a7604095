package rpcserver

import (
	"context"

	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jeeves-cluster-organization/deviceclient/device"
)

// AdminServer answers operator queries about the Clients registered in a
// Registry. There is no .proto file behind it: requests and responses
// are exchanged as google.protobuf.Struct and google.protobuf.Empty, the
// same well-known wrapper types a .proto file would have produced, and
// the RPC surface is wired up by hand in desc.go instead of by protoc.
type AdminServer struct {
	logger   device.Logger
	registry *Registry
}

// NewAdminServer returns an AdminServer reading from registry.
func NewAdminServer(logger device.Logger, registry *Registry) *AdminServer {
	if logger == nil {
		logger = nopLogger{}
	}
	return &AdminServer{logger: logger, registry: registry}
}

// nopLogger discards everything; used when a caller passes a nil Logger.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// ListClients returns a snapshot of every registered Client.
func (s *AdminServer) ListClients(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	snapshots := s.registry.Snapshots()

	items := make([]any, 0, len(snapshots))
	for _, snap := range snapshots {
		items = append(items, snapshotToMap(snap))
	}

	return structpb.NewStruct(map[string]any{"clients": items})
}

// GetClientStatus returns the ClientSnapshot for the single Client named
// by the request's "client_id" field.
func (s *AdminServer) GetClientStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := requiredStringField(req, "client_id")
	if err != nil {
		return nil, err
	}

	c, ok := s.registry.Get(id)
	if !ok {
		return nil, NotFound("client", id)
	}

	return structpb.NewStruct(snapshotToMap(c.Snapshot()))
}

// ListDetachedTasks reports the in-flight Detached Task count for the
// Client named by the request's "client_id" field. The per-task-kind
// breakdown is unavailable without reaching past Client.Snapshot's
// summary view, so this reports the aggregate only; see DESIGN.md.
func (s *AdminServer) ListDetachedTasks(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := requiredStringField(req, "client_id")
	if err != nil {
		return nil, err
	}

	c, ok := s.registry.Get(id)
	if !ok {
		return nil, NotFound("client", id)
	}

	snap := c.Snapshot()
	return structpb.NewStruct(map[string]any{
		"client_id":       snap.ID,
		"tasks_in_flight": float64(snap.TasksInFlight),
	})
}

// SetClientOption retunes a runtime option on the Client named by the
// request's "client_id" field, forwarding "name"/"value" to Client.SetOption.
func (s *AdminServer) SetClientOption(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := requiredStringField(req, "client_id")
	if err != nil {
		return nil, err
	}
	name, err := requiredStringField(req, "name")
	if err != nil {
		return nil, err
	}

	c, ok := s.registry.Get(id)
	if !ok {
		return nil, NotFound("client", id)
	}

	value, ok := req.Fields["value"]
	if !ok {
		return nil, InvalidArgument("value")
	}

	s.logger.Info("admin_set_client_option", "client", id, "name", name)

	result := c.SetOption(name, value.AsInterface())
	if result != device.ResultOK {
		return nil, FailedPrecondition("client_option", name, "set to "+structFieldString(value))
	}

	return structpb.NewStruct(map[string]any{"result": result.String()})
}

func requiredStringField(req *structpb.Struct, field string) (string, error) {
	if req == nil {
		return "", InvalidArgument(field)
	}
	v, ok := req.Fields[field]
	if !ok || v.GetStringValue() == "" {
		return "", InvalidArgument(field)
	}
	return v.GetStringValue(), nil
}

func structFieldString(v *structpb.Value) string {
	if s, ok := v.AsInterface().(string); ok {
		return s
	}
	return v.String()
}

func snapshotToMap(snap device.ClientSnapshot) map[string]any {
	return map[string]any{
		"id":              snap.ID,
		"stopped":         snap.Stopped,
		"worker_started":  snap.WorkerStarted,
		"queue_depth":     float64(snap.QueueDepth),
		"tasks_in_flight": float64(snap.TasksInFlight),
	}
}
