package transport

import (
	"github.com/jeeves-cluster-organization/deviceclient/bus"
)

// ConnectionStatusTopic is the bus topic a multiplexed Client subscribes
// to for connection-status changes observed by the shared LL. The shared
// connection is a single physical link, so one status change concerns
// every Client riding on it; publishing once and fanning out replaces
// each Client polling the Transport.
const ConnectionStatusTopic = "transport/connection_status"

// ConnectionStatusChanged is the fan-out event for a status change on a
// shared transport's single underlying connection.
type ConnectionStatusChanged struct {
	Status ConnectionStatus
	Reason ConnectionStatusReason
}

// Topic implements bus.Message.
func (ConnectionStatusChanged) Topic() string { return ConnectionStatusTopic }

// SendStatusTopic returns the per-client query topic a multiplexed Client
// answers its send-status queries on.
func SendStatusTopic(clientID string) string {
	return "transport/send_status/" + clientID
}

// SendStatusQuery asks a Client behind a shared transport whether its LL
// send path is idle or busy. The response value is a SendStatus.
type SendStatusQuery struct {
	ClientID string
}

// Topic implements bus.Message.
func (q SendStatusQuery) Topic() string { return SendStatusTopic(q.ClientID) }

// IsQuery implements bus.Query.
func (SendStatusQuery) IsQuery() {}

var (
	_ bus.Message = ConnectionStatusChanged{}
	_ bus.Query   = SendStatusQuery{}
)
