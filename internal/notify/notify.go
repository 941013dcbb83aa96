// Package notify delivers composed digests to a channel: Telegram, e-mail
// or the structured log.
//
// Send is attempted once per run. Every failure wraps ErrNotification so the
// caller can tell it apart from storage errors.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/config"
	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/digest"
	logx "github.com/rdjerrouf/Chicago-Event-Monitor/pkg/logx"
)

var ErrNotification = errors.New("notification failed")

// Channel sends one digest. It must accept an empty digest.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg digest.Message) error
}

func failed(channel string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrNotification, channel, err)
}

// New builds the channel selected by cfg.Channel.
func New(cfg config.NotifierConfig, log logx.Logger) (Channel, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout, err := config.ParseDurationOrDefault("notifier.timeout", cfg.Timeout, 30*time.Second)
	if err != nil {
		return nil, err
	}
	log = log.With(logx.String("comp", "notify"))

	switch strings.ToLower(strings.TrimSpace(cfg.Channel)) {
	case config.ChannelTelegram:
		return NewTelegram(TelegramOptions{
			Token:      cfg.Telegram.Token,
			ChatID:     cfg.Telegram.ChatID,
			ThreadID:   cfg.Telegram.ThreadID,
			RatePerSec: cfg.Telegram.RatePerSec,
			Timeout:    timeout,
		}, log)
	case config.ChannelSMTP:
		return NewSMTP(SMTPOptions{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			To:       cfg.SMTP.To,
			Timeout:  timeout,
		}, log)
	case config.ChannelLog, "":
		return NewLog(log), nil
	default:
		return nil, fmt.Errorf("unknown notifier channel %q", cfg.Channel)
	}
}
