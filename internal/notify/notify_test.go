package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/config"
	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/digest"
	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/record"
	logx "github.com/rdjerrouf/Chicago-Event-Monitor/pkg/logx"
)

func sampleDigest() digest.Message {
	return digest.Compose(digest.Input{
		GeneratedAt: time.Date(2025, 12, 6, 7, 0, 0, 0, time.UTC),
		Sources: []digest.SourceResult{{
			SourceID: "venueA",
			Title:    "Venue A",
			Status:   digest.StatusOK,
			New:      []record.Record{{record.FieldEventName: "Expo <2025>", record.FieldStartDate: "2025-12-10"}},
		}},
	})
}

func TestSplitMessage(t *testing.T) {
	t.Parallel()
	if got := splitMessage("short", 10, false); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short = %q", got)
	}

	lines := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		lines = append(lines, "<b>line</b> "+strings.Repeat("x", 20))
	}
	text := strings.Join(lines, "\n")
	chunks := splitMessage(text, 200, true)
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if n := len([]rune(c)); n > 200 {
			t.Fatalf("chunk %d has %d runes", i, n)
		}
		if strings.Count(c, "<b>") != strings.Count(c, "</b>") {
			t.Fatalf("chunk %d splits a tag pair: %q", i, c)
		}
	}
	if strings.Join(chunks, "\n") != text {
		t.Fatal("chunks do not reassemble to the original text")
	}
}

func TestTelegramSend(t *testing.T) {
	t.Parallel()
	var (
		mu    sync.Mutex
		calls []map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
			http.NotFound(w, r)
			return
		}
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		mu.Lock()
		calls = append(calls, payload)
		mu.Unlock()
		if payload["chat_id"] == "13" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"ok": false, "error_code": 400, "description": "Bad Request: chat not found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok": true, "result": {"message_id": 7, "date": 0, "chat": {"id": 42, "type": "group"}}}`))
	}))
	t.Cleanup(srv.Close)

	tg, err := NewTelegram(TelegramOptions{Token: "123:abc", ChatID: 42, ThreadID: 9, RatePerSec: 100, Timeout: 5 * time.Second, APIURL: srv.URL}, logx.Nop())
	if err != nil {
		t.Fatalf("NewTelegram: %v", err)
	}
	if err := tg.Send(context.Background(), sampleDigest()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	mu.Lock()
	if len(calls) != 1 {
		t.Fatalf("calls = %d", len(calls))
	}
	text, _ := calls[0]["text"].(string)
	mode, _ := calls[0]["parse_mode"].(string)
	mu.Unlock()
	if !strings.Contains(text, "Expo &lt;2025&gt;") || mode != "HTML" {
		t.Fatalf("payload text=%q parse_mode=%q", text, mode)
	}

	bad, err := NewTelegram(TelegramOptions{Token: "123:abc", ChatID: 13, RatePerSec: 100, APIURL: srv.URL}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := bad.Send(context.Background(), sampleDigest()); !errors.Is(err, ErrNotification) {
		t.Fatalf("err = %v, want ErrNotification", err)
	}
}

func TestNewTelegramRequiresTokenAndChat(t *testing.T) {
	t.Parallel()
	if _, err := NewTelegram(TelegramOptions{ChatID: 1}, logx.Nop()); err == nil {
		t.Fatal("empty token accepted")
	}
	if _, err := NewTelegram(TelegramOptions{Token: "1:a"}, logx.Nop()); err == nil {
		t.Fatal("missing chat accepted")
	}
}

// fakeSMTP speaks just enough SMTP for one delivery and returns the DATA payload.
func fakeSMTP(t *testing.T, rejectRcpt bool) (addr string, data <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	out := make(chan string, 1)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
		reply := func(s string) { _, _ = rw.WriteString(s + "\r\n"); _ = rw.Flush() }
		reply("220 fake ESMTP")
		for {
			line, err := rw.ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.ToUpper(strings.TrimSpace(line))
			switch {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				reply("250-fake\r\n250 8BITMIME")
			case strings.HasPrefix(cmd, "MAIL"):
				reply("250 OK")
			case strings.HasPrefix(cmd, "RCPT"):
				if rejectRcpt {
					reply("550 no such user")
					continue
				}
				reply("250 OK")
			case cmd == "DATA":
				reply("354 go ahead")
				var b strings.Builder
				for {
					l, err := rw.ReadString('\n')
					if err != nil {
						return
					}
					if l == ".\r\n" {
						break
					}
					b.WriteString(l)
				}
				out <- b.String()
				reply("250 queued")
			case cmd == "QUIT":
				reply("221 bye")
				return
			default:
				reply("250 OK")
			}
		}
	}()
	return ln.Addr().String(), out
}

func newTestSMTP(t *testing.T, addr string) *SMTP {
	t.Helper()
	host, portStr, _ := net.SplitHostPort(addr)
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewSMTP(SMTPOptions{Host: host, Port: port, From: "monitor@example.com", To: []string{"ops@example.com"}, Timeout: 5 * time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("NewSMTP: %v", err)
	}
	s.now = func() time.Time { return time.Date(2025, 12, 6, 7, 0, 0, 0, time.UTC) }
	return s
}

func TestSMTPSendMultipart(t *testing.T) {
	t.Parallel()
	addr, data := fakeSMTP(t, false)
	s := newTestSMTP(t, addr)

	msg := sampleDigest()
	if err := s.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	var body string
	select {
	case body = <-data:
	case <-time.After(3 * time.Second):
		t.Fatal("no DATA received")
	}
	for _, want := range []string{
		"Subject: " + msg.Subject,
		"Content-Type: multipart/alternative; boundary=",
		"text/plain; charset=utf-8",
		"text/html; charset=utf-8",
		"Expo <2025>",
		"Expo &lt;2025&gt;",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("message missing %q:\n%s", want, body)
		}
	}
}

func TestSMTPRejectedRecipientIsNotificationFailure(t *testing.T) {
	t.Parallel()
	addr, _ := fakeSMTP(t, true)
	s := newTestSMTP(t, addr)
	if err := s.Send(context.Background(), sampleDigest()); !errors.Is(err, ErrNotification) {
		t.Fatalf("err = %v, want ErrNotification", err)
	}
}

func TestNewSelectsChannel(t *testing.T) {
	t.Parallel()
	ch, err := New(config.NotifierConfig{Channel: "log"}, logx.Nop())
	if err != nil || ch.Name() != "log" {
		t.Fatalf("log channel: %v %v", ch, err)
	}
	if err := ch.Send(context.Background(), digest.Compose(digest.Input{})); err != nil {
		t.Fatalf("empty digest: %v", err)
	}
	if _, err := New(config.NotifierConfig{Channel: "pigeon"}, logx.Nop()); err == nil {
		t.Fatal("unknown channel accepted")
	}
	if _, err := New(config.NotifierConfig{Channel: "smtp"}, logx.Nop()); err == nil {
		t.Fatal("smtp without host accepted")
	}
}
