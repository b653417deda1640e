package monitor

import "github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/logger"

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(message string) error
}

// LogSink delivers alerts as warning log lines.
type LogSink struct{}

func (LogSink) Send(message string) error {
	logger.Warnf("ALERT %s", message)
	return nil
}
