package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/Aaditya1273/InsightMeet-sub000/internal/transport"
	logx "github.com/Aaditya1273/InsightMeet-sub000/pkg/logx"
)

type sentMessage struct {
	chatID, threadID, text, parseMode string
}

// fakeBotAPI answers sendMessage. Chat 429 is flood-limited, 400 does not
// exist and 403 blocked the bot.
type fakeBotAPI struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
		http.NotFound(w, r)
		return
	}
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	str := func(k string) string {
		if v, ok := body[k]; ok && v != nil {
			return fmt.Sprint(v)
		}
		return ""
	}
	chat := str("chat_id")
	w.Header().Set("Content-Type", "application/json")
	switch chat {
	case "429":
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 7","parameters":{"retry_after":7}}`)
		return
	case "400":
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
		return
	case "403":
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`)
		return
	}

	f.mu.Lock()
	f.sent = append(f.sent, sentMessage{chatID: chat, threadID: str("message_thread_id"), text: str("text"), parseMode: str("parse_mode")})
	n := len(f.sent)
	f.mu.Unlock()
	fmt.Fprintf(w, `{"ok":true,"result":{"message_id":%d,"date":0,"chat":{"id":%s,"type":"private"}}}`, n, chat)
}

func (f *fakeBotAPI) Sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func newTestTransport(t *testing.T) (*Transport, *fakeBotAPI) {
	t.Helper()
	api := &fakeBotAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	tr, err := New(Config{Token: "123:abc", Endpoint: srv.URL, Timeout: 2 * time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tr, api
}

func TestSendToChatsAndThreads(t *testing.T) {
	t.Parallel()
	tr, api := newTestTransport(t)

	err := tr.Send(context.Background(), transport.Payload{
		To:      []string{"1001", "-1002:42"},
		Subject: "Meeting summary",
		Text:    "Action items attached.",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	sent := api.Sent()
	if len(sent) != 2 {
		t.Fatalf("sent = %+v", sent)
	}
	if sent[0].chatID != "1001" || sent[0].text != "Meeting summary\n\nAction items attached." {
		t.Fatalf("first message = %+v", sent[0])
	}
	if sent[1].chatID != "-1002" || sent[1].threadID != "42" {
		t.Fatalf("threaded message = %+v", sent[1])
	}
}

func TestSendHTMLBody(t *testing.T) {
	t.Parallel()
	tr, api := newTestTransport(t)
	if err := tr.Send(context.Background(), transport.Payload{To: []string{"7"}, Subject: "a<b", HTML: "<i>x</i>"}); err != nil {
		t.Fatal(err)
	}
	sent := api.Sent()
	if len(sent) != 1 || sent[0].parseMode != "HTML" || sent[0].text != "<b>a&lt;b</b>\n\n<i>x</i>" {
		t.Fatalf("sent = %+v", sent)
	}
}

func TestSendChunksLongText(t *testing.T) {
	t.Parallel()
	tr, api := newTestTransport(t)
	body := strings.Repeat("line of text\n", 700)
	if err := tr.Send(context.Background(), transport.Payload{To: []string{"5"}, Subject: "long", Text: body}); err != nil {
		t.Fatal(err)
	}
	sent := api.Sent()
	if len(sent) < 3 {
		t.Fatalf("chunks = %d, want >= 3", len(sent))
	}
	for i, m := range sent {
		if n := len([]rune(m.text)); n > textLimit {
			t.Fatalf("chunk %d has %d runes", i, n)
		}
	}
}

func TestSendClassifiesErrors(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTransport(t)

	err := tr.Send(context.Background(), transport.Payload{To: []string{"429"}, Subject: "s", Text: "b"})
	if hint, ok := transport.RetryAfterHint(err); !ok || hint != 7*time.Second {
		t.Fatalf("flood error hint = (%v, %v), err %v", hint, ok, err)
	}
	if transport.IsNoRetry(err) {
		t.Fatal("flood error classified as permanent")
	}

	for _, chat := range []string{"400", "403", "not-a-chat", "12:x"} {
		err := tr.Send(context.Background(), transport.Payload{To: []string{chat}, Subject: "s", Text: "b"})
		if !transport.IsNoRetry(err) {
			t.Fatalf("chat %s: err = %v, want permanent", chat, err)
		}
	}
}

func TestSendHonoursCancelledContext(t *testing.T) {
	t.Parallel()
	tr, api := newTestTransport(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := tr.Send(ctx, transport.Payload{To: []string{"1"}, Subject: "s"}); err == nil {
		t.Fatal("expected context error")
	}
	if len(api.Sent()) != 0 {
		t.Fatal("message sent after cancellation")
	}
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Token: "  "}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestSplitText(t *testing.T) {
	t.Parallel()
	if got := splitText("short", 10, tele.ModeDefault); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short text = %q", got)
	}

	got := splitText("aaaa\nbbbb\ncccc", 10, tele.ModeDefault)
	if strings.Join(got, "|") != "aaaa\nbbbb|cccc" {
		t.Fatalf("newline split = %q", got)
	}

	got = splitText("abcdefgh<b>bold</b>", 10, tele.ModeHTML)
	if got[0] != "abcdefgh" {
		t.Fatalf("html split cut inside a tag: %q", got)
	}
	if strings.Join(got, "") != "abcdefgh<b>bold</b>" {
		t.Fatalf("html split lost text: %q", got)
	}
}
