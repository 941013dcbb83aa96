package notify

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/digest"
	logx "github.com/rdjerrouf/Chicago-Event-Monitor/pkg/logx"
)

// telegramTextLimit stays under the API's 4096 character cap.
const telegramTextLimit = 4000

type TelegramOptions struct {
	Token    string
	ChatID   int64
	ThreadID int
	// RatePerSec paces the chunks of a long digest. 0 means 1 per second.
	RatePerSec float64
	Timeout    time.Duration
	// APIURL overrides the Bot API endpoint.
	APIURL string
}

// Telegram sends the HTML digest to one chat (and optional forum thread).
type Telegram struct {
	opts    TelegramOptions
	bot     *tele.Bot
	limiter *rate.Limiter
	log     logx.Logger
}

func NewTelegram(opts TelegramOptions, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if opts.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	rps := opts.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	// Offline skips the getMe call; the bot is only used to send.
	b, err := tele.NewBot(tele.Settings{
		Token:   opts.Token,
		URL:     opts.APIURL,
		Offline: true,
		Client:  &http.Client{Timeout: opts.Timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Telegram{
		opts:    opts,
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		log:     log.With(logx.String("channel", "telegram")),
	}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(ctx context.Context, msg digest.Message) error {
	chunks := splitMessage(msg.HTML(), telegramTextLimit, true)
	chat := &tele.Chat{ID: t.opts.ChatID}
	for i, chunk := range chunks {
		if err := t.limiter.Wait(ctx); err != nil {
			return failed(t.Name(), err)
		}
		_, err := t.bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             tele.ModeHTML,
			DisableWebPagePreview: true,
			ThreadID:              t.opts.ThreadID,
		})
		if err != nil {
			t.log.Debug("chunk send failed", logx.Int("chunk", i+1), logx.Int("chunks", len(chunks)), logx.Err(err))
			return failed(t.Name(), err)
		}
	}
	t.log.Info("digest sent", logx.Int("chunks", len(chunks)), logx.Int64("chat_id", t.opts.ChatID))
	return nil
}

// splitMessage cuts s into pieces of at most limit runes, preferring newline
// boundaries. In HTML mode a cut never lands inside a tag.
func splitMessage(s string, limit int, html bool) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, len(rs)/limit+1)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			// last newline in the window, unless it would leave a tiny chunk
			for i := end - 1; i > start+limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}

		if html && end < len(rs) {
			open, closed := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					open = i
				case '>':
					closed = i
				}
			}
			if open > closed && open > start+1 {
				end = open
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
