package messaging

import (
	"context"

	"yad2-watcher/utils"
)

// Sender delivers one text message to a fixed destination. Callers keep text
// within the channel's size limit.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// LogSender writes messages to the log instead of a chat. Used when no bot
// token is configured.
type LogSender struct {
	logger *utils.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *utils.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, text string) error {
	s.logger.Info("[notify] (dry run)\n%s", text)
	return nil
}
