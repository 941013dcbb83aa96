package notify

import (
	"context"

	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/digest"
	logx "github.com/rdjerrouf/Chicago-Event-Monitor/pkg/logx"
)

// Log writes the plain-text digest to the structured log. It is used for
// dry runs and when no delivery channel is configured.
type Log struct {
	log logx.Logger
}

func NewLog(log logx.Logger) *Log {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Log{log: log}
}

func (l *Log) Name() string { return "log" }

func (l *Log) Send(_ context.Context, msg digest.Message) error {
	l.log.Info("digest",
		logx.String("subject", msg.Subject),
		logx.Int("new", msg.TotalNew),
		logx.Strings("high", msg.HighSources),
		logx.String("body", msg.Text()),
	)
	return nil
}
