package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/events"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/logger"
)

// Monitor watches the bus for failures that need a human and forwards them to a sink.
type Monitor struct {
	Bus  *events.Bus
	Sink AlertSink
}

// Run blocks until ctx is done or the subscription closes.
func (m *Monitor) Run(ctx context.Context) error {
	if m.Bus == nil || m.Sink == nil {
		logger.Warnf("monitor not fully configured; skipping")
		return nil
	}
	stream, unsub := m.Bus.SubscribeAll([]events.Event{events.EventOrderOrphaned, events.EventRunnerError}, 64)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-stream:
			if !ok {
				return nil
			}
			if err := m.Sink.Send(formatAlert(msg)); err != nil {
				logger.Errorf("monitor: alert delivery failed: %v", err)
			}
		}
	}
}

func formatAlert(msg any) string {
	return "[" + time.Now().Format(time.RFC3339) + "] " + toString(msg)
}

func toString(v any) string {
	env, ok := v.(events.Envelope)
	if !ok {
		return "alert triggered"
	}
	switch p := env.Payload.(type) {
	case events.OrderEvent:
		return fmt.Sprintf("%s strategy=%s symbol=%s order=%d: %s", env.Topic, p.Strategy, p.Symbol, p.OrderID, p.Reason)
	case events.RunnerErrorEvent:
		return fmt.Sprintf("%s strategy=%s symbol=%s: %s", env.Topic, p.Strategy, p.Symbol, p.Error)
	default:
		return string(env.Topic)
	}
}
