package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/Aaditya1273/InsightMeet-sub000/internal/transport"
	logx "github.com/Aaditya1273/InsightMeet-sub000/pkg/logx"
)

// textLimit is Telegram's maximum message length in characters.
const textLimit = 4096

type Config struct {
	Token string
	// Endpoint overrides the Bot API base URL.
	Endpoint string
	Timeout  time.Duration
}

// Transport delivers notifications as Telegram messages. Recipients are chat
// ids, optionally with a forum topic: "-100123" or "-100123:42".
type Transport struct {
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Transport, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     strings.TrimRight(cfg.Endpoint, "/"),
		Client:  &http.Client{Timeout: timeout},
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Transport{log: log, bot: b}, nil
}

func (t *Transport) Name() string { return "telegram" }

type target struct {
	chatID   int64
	threadID int
}

func parseTarget(s string) (target, error) {
	chat, thread, hasThread := strings.Cut(strings.TrimSpace(s), ":")
	id, err := strconv.ParseInt(chat, 10, 64)
	if err != nil || id == 0 {
		return target{}, fmt.Errorf("invalid chat id %q", s)
	}
	tg := target{chatID: id}
	if hasThread {
		n, err := strconv.Atoi(thread)
		if err != nil || n < 0 {
			return target{}, fmt.Errorf("invalid thread id in %q", s)
		}
		tg.threadID = n
	}
	return tg, nil
}

// Send posts the message to every recipient chat, splitting long text into
// several messages. A failure stops at the first chat that rejected it.
func (t *Transport) Send(ctx context.Context, p transport.Payload) error {
	rcpts := p.Recipients()
	targets := make([]target, 0, len(rcpts))
	for _, r := range rcpts {
		tg, err := parseTarget(r)
		if err != nil {
			return transport.NoRetry(err)
		}
		targets = append(targets, tg)
	}

	text, mode := render(p)
	chunks := splitText(text, textLimit, mode)

	for _, tg := range targets {
		chat := &tele.Chat{ID: tg.chatID}
		for _, chunk := range chunks {
			if err := ctx.Err(); err != nil {
				return err
			}
			_, err := t.bot.Send(chat, chunk, &tele.SendOptions{
				ParseMode:             mode,
				ThreadID:              tg.threadID,
				DisableWebPagePreview: true,
			})
			if err != nil {
				return classify(err)
			}
		}
		t.log.Debug("telegram delivered", logx.Int64("chat_id", tg.chatID), logx.Int("chunks", len(chunks)))
	}
	return nil
}

// render prefers the plain text body; HTML bodies are passed through in HTML
// parse mode.
func render(p transport.Payload) (string, tele.ParseMode) {
	subject := strings.TrimSpace(p.Subject)
	if p.Text != "" || p.HTML == "" {
		return strings.TrimSpace(subject + "\n\n" + p.Text), tele.ModeDefault
	}
	return "<b>" + html.EscapeString(subject) + "</b>\n\n" + p.HTML, tele.ModeHTML
}

var retryAfterRe = regexp.MustCompile(`retry after (\d+)`)

// classify maps Bot API failures: flood control carries a retry hint, and
// bad requests or forbidden chats are permanent.
func classify(err error) error {
	var flood tele.FloodError
	if errors.As(err, &flood) && flood.RetryAfter > 0 {
		return transport.RetryAfter(err, time.Duration(flood.RetryAfter)*time.Second)
	}
	msg := strings.ToLower(err.Error())
	if m := retryAfterRe.FindStringSubmatch(msg); m != nil {
		if n, convErr := strconv.Atoi(m[1]); convErr == nil && n > 0 {
			return transport.RetryAfter(err, time.Duration(n)*time.Second)
		}
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusBadRequest || apiErr.Code == http.StatusForbidden) {
		return transport.NoRetry(err)
	}
	if strings.Contains(msg, "(400)") || strings.Contains(msg, "(403)") {
		return transport.NoRetry(err)
	}
	return err
}

// splitText cuts s into pieces of at most limit runes, preferring a newline
// in the last two thirds of each window. In HTML mode a cut never lands
// inside a tag.
func splitText(s string, limit int, mode tele.ParseMode) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	var out []string
	for start := 0; start < len(rs); {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i-start >= limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
			if mode == tele.ModeHTML {
				for i := end - 1; i > start; i-- {
					if rs[i] == '>' {
						break
					}
					if rs[i] == '<' {
						end = i
						break
					}
				}
			}
		}

		if chunk := strings.TrimRight(string(rs[start:end]), "\n"); chunk != "" {
			out = append(out, chunk)
		}
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
