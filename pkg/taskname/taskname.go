package taskname

const (
	// Entitlement tasks
	EntitlementSync  = "entitlement:sync"
	EntitlementSweep = "entitlement:sweep"
)

// Queues
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)
