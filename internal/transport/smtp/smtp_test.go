package smtp

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	gosmtp "github.com/emersion/go-smtp"

	"github.com/Aaditya1273/InsightMeet-sub000/internal/dkim"
	"github.com/Aaditya1273/InsightMeet-sub000/internal/transport"
	logx "github.com/Aaditya1273/InsightMeet-sub000/pkg/logx"
)

type fakeServer struct {
	ln   net.Listener
	port string

	// rcptReply returns the reply line for RCPT TO; nil accepts everyone.
	rcptReply func(rcpt string) string
	auth      bool

	mu   sync.Mutex
	cmds []string
	data []string
}

func startFakeServer(t *testing.T, configure func(*fakeServer)) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	s := &fakeServer{ln: ln}
	_, s.port, _ = net.SplitHostPort(ln.Addr().String())
	if configure != nil {
		configure(s)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn)
		}
	}()
	return s
}

func (s *fakeServer) serve(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	r := textproto.NewReader(bufio.NewReader(conn))
	w := bufio.NewWriter(conn)
	reply := func(lines ...string) {
		for _, l := range lines {
			fmt.Fprintf(w, "%s\r\n", l)
		}
		_ = w.Flush()
	}

	reply("220 fake ESMTP")
	for {
		line, err := r.ReadLine()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.cmds = append(s.cmds, line)
		s.mu.Unlock()

		verb := strings.ToUpper(strings.SplitN(line, " ", 2)[0])
		switch {
		case verb == "EHLO" && s.auth:
			reply("250-fake", "250 AUTH PLAIN")
		case verb == "EHLO", verb == "HELO", verb == "NOOP", verb == "RSET":
			reply("250 fake")
		case verb == "AUTH":
			reply("235 2.7.0 accepted")
		case strings.HasPrefix(strings.ToUpper(line), "MAIL FROM:"):
			reply("250 OK")
		case strings.HasPrefix(strings.ToUpper(line), "RCPT TO:"):
			rcpt := strings.Trim(line[len("RCPT TO:"):], "<> ")
			if s.rcptReply != nil {
				reply(s.rcptReply(rcpt))
			} else {
				reply("250 OK")
			}
		case verb == "DATA":
			reply("354 End data with <CR><LF>.<CR><LF>")
			lines, err := r.ReadDotLines()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.data = append(s.data, strings.Join(lines, "\n"))
			s.mu.Unlock()
			reply("250 queued")
		case verb == "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 unsupported")
		}
	}
}

func (s *fakeServer) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cmds...)
}

func (s *fakeServer) Data() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.data...)
}

func (s *fakeServer) has(prefix string) bool {
	for _, c := range s.Commands() {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func newRelayTransport(t *testing.T, srv *fakeServer, mutate func(*Config), signer *dkim.Signer) *Transport {
	t.Helper()
	cfg := Config{
		From:        "InsightMeet <noreply@insight.test>",
		Hostname:    "insightmeet.test",
		Relay:       srv.ln.Addr().String(),
		DialTimeout: time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	tr, err := New(cfg, signer, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tr
}

func TestSendViaRelayWithAuth(t *testing.T) {
	t.Parallel()
	srv := startFakeServer(t, func(s *fakeServer) { s.auth = true })
	tr := newRelayTransport(t, srv, func(c *Config) { c.Username, c.Password = "user", "secret" }, nil)

	err := tr.Send(context.Background(), transport.Payload{
		To:      []string{"A@Example.test", "b@example.test"},
		Subject: "Grüße",
		Text:    "plain body",
		HTML:    "<p>html body</p>",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	for _, want := range []string{"EHLO insightmeet.test", "AUTH PLAIN", "MAIL FROM:<noreply@insight.test>", "RCPT TO:<a@example.test>", "RCPT TO:<b@example.test>"} {
		if !srv.has(want) {
			t.Fatalf("missing command %q in %q", want, srv.Commands())
		}
	}
	data := srv.Data()
	if len(data) != 1 {
		t.Fatalf("messages = %d, want 1", len(data))
	}
	for _, want := range []string{"Subject: =?utf-8?q?Gr=C3=BC=C3=9Fe?=", "multipart/alternative", "plain body", "<p>html body</p>", "Message-ID: <"} {
		if !strings.Contains(data[0], want) {
			t.Fatalf("message missing %q:\n%s", want, data[0])
		}
	}
}

func TestSendClassifiesReplies(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		reply     string
		permanent bool
	}{
		{"mailbox unavailable", "550 5.1.1 no such user", true},
		{"greylisted", "451 4.7.1 try again later", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := startFakeServer(t, func(s *fakeServer) {
				s.rcptReply = func(string) string { return tc.reply }
			})
			tr := newRelayTransport(t, srv, nil, nil)
			err := tr.Send(context.Background(), transport.Payload{To: []string{"x@example.test"}, Subject: "s", Text: "b"})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := transport.IsNoRetry(err); got != tc.permanent {
				t.Fatalf("IsNoRetry = %v, want %v (err %v)", got, tc.permanent, err)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{"nil", nil, false},
		{"mailbox unavailable", fmt.Errorf("rcpt to a@b.test: %w", &gosmtp.SMTPError{Code: 550, Message: "no such user"}), true},
		{"policy rejection", &gosmtp.SMTPError{Code: 554, EnhancedCode: gosmtp.EnhancedCode{5, 7, 1}, Message: "rejected"}, true},
		{"greylisted", &gosmtp.SMTPError{Code: 451, Message: "try later"}, false},
		{"network", errors.New("connection reset"), false},
		{"already permanent", transport.NoRetry(errors.New("bad address")), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := classify(tc.err)
			if (got == nil) != (tc.err == nil) {
				t.Fatalf("classify(%v) = %v", tc.err, got)
			}
			if transport.IsNoRetry(got) != tc.permanent {
				t.Fatalf("IsNoRetry(classify(%v)) = %v, want %v", tc.err, !tc.permanent, tc.permanent)
			}
		})
	}
}

func TestSendAuthWithoutServerSupport(t *testing.T) {
	t.Parallel()
	srv := startFakeServer(t, nil)
	tr := newRelayTransport(t, srv, func(c *Config) { c.Username, c.Password = "user", "secret" }, nil)
	err := tr.Send(context.Background(), transport.Payload{To: []string{"x@example.test"}, Subject: "s", Text: "b"})
	if !transport.IsNoRetry(err) {
		t.Fatalf("expected permanent error without AUTH, got %v", err)
	}
	if srv.has("MAIL FROM:") {
		t.Fatalf("envelope sent without authenticating: %q", srv.Commands())
	}
}

func TestSendCanceledContext(t *testing.T) {
	t.Parallel()
	srv := startFakeServer(t, nil)
	tr := newRelayTransport(t, srv, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := tr.Send(ctx, transport.Payload{To: []string{"x@example.test"}, Subject: "s", Text: "b"})
	if err == nil || transport.IsNoRetry(err) {
		t.Fatalf("expected transient error for canceled context, got %v", err)
	}
}

func TestSendRequireTLS(t *testing.T) {
	t.Parallel()
	srv := startFakeServer(t, nil)
	tr := newRelayTransport(t, srv, func(c *Config) { c.RequireTLS = true }, nil)
	err := tr.Send(context.Background(), transport.Payload{To: []string{"x@example.test"}, Subject: "s", Text: "b"})
	if !transport.IsNoRetry(err) {
		t.Fatalf("expected permanent error without STARTTLS, got %v", err)
	}
	if len(srv.Data()) != 0 {
		t.Fatal("message delivered without TLS")
	}
}

func TestSendRejectsInvalidAddresses(t *testing.T) {
	t.Parallel()
	tr, err := New(Config{From: "noreply@insight.test", Relay: "127.0.0.1:1"}, nil, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []transport.Payload{
		{To: []string{"not-an-address"}, Subject: "s"},
		{To: []string{"a@b.test"}, Subject: "s", From: "broken"},
	} {
		if err := tr.Send(context.Background(), p); !transport.IsNoRetry(err) {
			t.Fatalf("Send(%+v) = %v, want permanent", p, err)
		}
	}
}

func TestSendDialFailureIsTransient(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	tr, err := New(Config{From: "noreply@insight.test", Relay: addr, DialTimeout: time.Second}, nil, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	err = tr.Send(context.Background(), transport.Payload{To: []string{"a@b.test"}, Subject: "s"})
	if err == nil || transport.IsNoRetry(err) {
		t.Fatalf("expected transient dial error, got %v", err)
	}
}

func TestSendSignsWithDKIM(t *testing.T) {
	t.Parallel()
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatal(err)
	}
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	signer, err := dkim.New(dkim.Options{Selector: "im", PrivateKey: string(pemKey)})
	if err != nil {
		t.Fatal(err)
	}

	srv := startFakeServer(t, nil)
	tr := newRelayTransport(t, srv, nil, signer)
	if err := tr.Send(context.Background(), transport.Payload{To: []string{"a@b.test"}, Subject: "s", Text: "b"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	data := srv.Data()
	if len(data) != 1 || !strings.HasPrefix(data[0], "DKIM-Signature:") || !strings.Contains(data[0], "d=insight.test") {
		t.Fatalf("message not signed: %q", data)
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{From: "nope"}, nil, logx.Nop()); err == nil {
		t.Fatal("expected error for invalid from")
	}
	if _, err := New(Config{From: "a@b.test", Relay: "no-port"}, nil, logx.Nop()); err == nil {
		t.Fatal("expected error for relay without port")
	}
}

// The MX tests swap package-level seams and so do not run in parallel.

func TestSendDirectMX(t *testing.T) {
	srv := startFakeServer(t, nil)

	oldLookup, oldPort := mxLookup, smtpPort
	t.Cleanup(func() { mxLookup, smtpPort = oldLookup, oldPort })
	smtpPort = srv.port
	var looked []string
	var mu sync.Mutex
	mxLookup = func(_ context.Context, domain string) ([]*net.MX, error) {
		mu.Lock()
		looked = append(looked, domain)
		mu.Unlock()
		return []*net.MX{{Host: "127.0.0.1.", Pref: 10}}, nil
	}

	tr, err := New(Config{From: "noreply@insight.test", Hostname: "im.test"}, nil, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	err = tr.Send(context.Background(), transport.Payload{
		To:      []string{"a@one.test", "b@two.test", "c@one.test"},
		Subject: "digest",
		Text:    "hello",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	mu.Lock()
	slices.Sort(looked)
	mu.Unlock()
	if strings.Join(looked, ",") != "one.test,two.test" {
		t.Fatalf("lookups = %v", looked)
	}
	if got := len(srv.Data()); got != 2 {
		t.Fatalf("sessions with data = %d, want 2 (one per domain)", got)
	}
}

func TestSendDirectMXMixedDomains(t *testing.T) {
	srv := startFakeServer(t, func(s *fakeServer) {
		s.rcptReply = func(rcpt string) string {
			switch {
			case strings.HasSuffix(rcpt, "@gone.test"):
				return "550 5.1.1 no such user"
			case strings.HasSuffix(rcpt, "@busy.test"):
				return "451 4.3.0 try later"
			}
			return "250 OK"
		}
	})

	oldLookup, oldPort := mxLookup, smtpPort
	t.Cleanup(func() { mxLookup, smtpPort = oldLookup, oldPort })
	smtpPort = srv.port
	mxLookup = func(context.Context, string) ([]*net.MX, error) {
		return []*net.MX{{Host: "127.0.0.1.", Pref: 10}}, nil
	}

	tr, err := New(Config{From: "noreply@insight.test"}, nil, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	send := func(to ...string) error {
		return tr.Send(context.Background(), transport.Payload{To: to, Subject: "s", Text: "b"})
	}

	if err := send("a@ok.test", "b@gone.test"); err == nil || !transport.IsNoRetry(err) {
		t.Fatalf("only permanent failures: got %v", err)
	}
	if err := send("b@gone.test", "c@busy.test"); err == nil || transport.IsNoRetry(err) {
		t.Fatalf("transient failure should keep the message retryable: got %v", err)
	}
}

func TestJoinDomainErrors(t *testing.T) {
	t.Parallel()
	perm := transport.NoRetry(errors.New("550"))
	temp := errors.New("451")

	if err := joinDomainErrors([]error{nil, nil}); err != nil {
		t.Fatalf("all ok: %v", err)
	}
	if err := joinDomainErrors([]error{nil, perm, perm}); !transport.IsNoRetry(err) {
		t.Fatalf("all permanent: %v", err)
	}
	err := joinDomainErrors([]error{perm, temp})
	if err == nil || transport.IsNoRetry(err) || !errors.Is(err, temp) {
		t.Fatalf("mixed: %v", err)
	}
}

func TestSendUnknownDomainIsPermanent(t *testing.T) {
	oldLookup := mxLookup
	t.Cleanup(func() { mxLookup = oldLookup })
	mxLookup = func(_ context.Context, domain string) ([]*net.MX, error) {
		return nil, &net.DNSError{Err: "no such host", Name: domain, IsNotFound: true}
	}

	tr, err := New(Config{From: "noreply@insight.test"}, nil, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	err = tr.Send(context.Background(), transport.Payload{To: []string{"a@nowhere.test"}, Subject: "s"})
	if !transport.IsNoRetry(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	var dnsErr *net.DNSError
	if !errors.As(err, &dnsErr) {
		t.Fatalf("expected wrapped DNS error, got %v", err)
	}
}

func TestResolveMX(t *testing.T) {
	oldLookup := mxLookup
	t.Cleanup(func() { mxLookup = oldLookup })

	mxLookup = func(context.Context, string) ([]*net.MX, error) {
		return []*net.MX{
			{Host: "backup.example.test.", Pref: 20},
			{Host: "primary.example.test.", Pref: 10},
		}, nil
	}
	hosts, err := ResolveMX(context.Background(), "example.test")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(hosts, ",") != "primary.example.test,backup.example.test" {
		t.Fatalf("hosts = %v", hosts)
	}

	mxLookup = func(context.Context, string) ([]*net.MX, error) { return nil, nil }
	hosts, err = ResolveMX(context.Background(), "bare.test")
	if err != nil || len(hosts) != 1 || hosts[0] != "bare.test" {
		t.Fatalf("implicit MX = (%v, %v)", hosts, err)
	}

	mxLookup = func(context.Context, string) ([]*net.MX, error) {
		return []*net.MX{{Host: ".", Pref: 0}}, nil
	}
	if _, err := ResolveMX(context.Background(), "nomail.test"); err == nil {
		t.Fatal("expected error for null MX")
	}
}

func TestRender(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	tests := []struct {
		name    string
		p       transport.Payload
		want    []string
		notWant []string
	}{
		{
			name:    "text only",
			p:       transport.Payload{Subject: "Hi", Text: "hello"},
			want:    []string{"Content-Type: text/plain; charset=utf-8", "\r\n\r\nhello"},
			notWant: []string{"multipart"},
		},
		{
			name:    "html only",
			p:       transport.Payload{Subject: "Hi", HTML: "<b>x</b>", ReplyTo: "help@insight.test"},
			want:    []string{"Content-Type: text/html; charset=utf-8", "Reply-To: help@insight.test"},
			notWant: []string{"multipart"},
		},
		{
			name: "alternative",
			p:    transport.Payload{Subject: "Hi", Text: "t", HTML: "<i>h</i>"},
			want: []string{"multipart/alternative; boundary=", "text/plain", "text/html"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			raw, err := Render(tc.p, "noreply@insight.test", []string{"a@b.test", "c@d.test"}, now)
			if err != nil {
				t.Fatal(err)
			}
			out := string(raw)
			common := []string{
				"From: noreply@insight.test\r\n",
				"To: a@b.test, c@d.test\r\n",
				"Date: Mon, 06 May 2024 07:08:09 +0000\r\n",
				"MIME-Version: 1.0\r\n",
				"@insight.test>\r\n",
			}
			for _, want := range append(common, tc.want...) {
				if !strings.Contains(out, want) {
					t.Fatalf("missing %q in:\n%s", want, out)
				}
			}
			for _, bad := range tc.notWant {
				if strings.Contains(out, bad) {
					t.Fatalf("unexpected %q in:\n%s", bad, out)
				}
			}
		})
	}
}
