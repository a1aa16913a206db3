package bus

// Schedule event topics.
const (
	TopicScheduleFired   = "schedule.fired"
	TopicScheduleCreated = "schedule.created"
	TopicScheduleDeleted = "schedule.deleted"
)

// Panel alert topic, consumed by notification channels.
const (
	TopicPanelAlert = "panel.alert"
)

// ScheduleEvent is published when a schedule is created, deleted, or fires.
type ScheduleEvent struct {
	ScheduleID int64  `json:"schedule_id"`      // Schedule row ID
	Name       string `json:"name,omitempty"`   // Human label for the schedule
	Action     string `json:"action,omitempty"` // "restart", "stop", or "start"
}

// PanelAlert is published when the panel needs to alert operators.
type PanelAlert struct {
	Severity string `json:"severity"` // "info", "warning", or "error"
	Message  string `json:"message"`  // Alert message, already redacted
}
