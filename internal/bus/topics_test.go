package bus

import (
	"testing"
)

// TestEventTopics_Unique verifies topic constants are distinct and non-empty.
func TestEventTopics_Unique(t *testing.T) {
	all := []string{
		TopicGatewayStarted,
		TopicGatewayStopped,
		TopicGatewayExited,
		TopicGatewaySpawnFailed,
		TopicConfigUpdated,
		TopicConfigReload,
		TopicSkillSaved,
		TopicSkillDeleted,
		TopicSkillChanged,
		TopicScheduleFired,
		TopicScheduleCreated,
		TopicScheduleDeleted,
		TopicPanelAlert,
	}
	seen := map[string]bool{}
	for _, topic := range all {
		if topic == "" {
			t.Fatal("empty topic constant")
		}
		if seen[topic] {
			t.Fatalf("duplicate topic %q", topic)
		}
		seen[topic] = true
	}
}

// TestGatewayTopics_SharePrefix verifies lifecycle topics all match the
// "gateway." subscription prefix used by the websocket and telegram consumers.
func TestGatewayTopics_SharePrefix(t *testing.T) {
	b := New()
	sub := b.Subscribe("gateway.")
	defer b.Unsubscribe(sub)

	b.Publish(TopicGatewayStarted, GatewayStartedEvent{PID: 42})
	b.Publish(TopicGatewayStopped, GatewayStoppedEvent{PID: 42})
	b.Publish(TopicGatewayExited, GatewayExitedEvent{PID: 42, ExitCode: 1})
	b.Publish(TopicGatewaySpawnFailed, GatewaySpawnFailedEvent{Command: "x"})

	received := 0
	for {
		select {
		case <-sub.Ch():
			received++
		default:
			if received != 4 {
				t.Fatalf("received %d events, want 4", received)
			}
			return
		}
	}
}
