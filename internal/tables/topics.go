package tables

import "strings"

const (
	TopicBarTables   = "/topic/bar-tables"
	DestStatusUpdate = "/app/bar-table/status-update"
	DestStatusView   = "/app/bar-table/status-view"
)

// PartitionKey = table id, so every change to one table keeps its order.
func PartitionKey(tableID string) []byte { return []byte(tableID) }

// BrokerName maps a channel topic or destination to a name brokers accept
// ("/topic/bar-tables" -> "topic.bar-tables").
func BrokerName(name string) string {
	return strings.TrimPrefix(strings.ReplaceAll(name, "/", "."), ".")
}
