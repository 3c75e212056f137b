package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"golang.org/x/sync/errgroup"

	"github.com/Aaditya1273/InsightMeet-sub000/internal/dkim"
	"github.com/Aaditya1273/InsightMeet-sub000/internal/email"
	"github.com/Aaditya1273/InsightMeet-sub000/internal/transport"
	logx "github.com/Aaditya1273/InsightMeet-sub000/pkg/logx"
)

const (
	defaultDialTimeout    = 30 * time.Second
	defaultSessionTimeout = 2 * time.Minute
	maxParallelDomains    = 4
)

// smtpPort is the port used for direct MX delivery. Tests point it at a local listener.
var smtpPort = "25"

type Config struct {
	From     string
	Hostname string // HELO/EHLO name; defaults to os.Hostname

	// Relay is host:port of a smarthost. Empty delivers straight to each
	// recipient domain's MX hosts.
	Relay    string
	Username string
	Password string

	// RequireTLS fails delivery when the server does not offer STARTTLS.
	RequireTLS         bool
	InsecureSkipVerify bool
	DialTimeout        time.Duration
}

// Transport delivers rendered e-mail over SMTP.
type Transport struct {
	cfg    Config
	log    logx.Logger
	signer *dkim.Signer
	now    func() time.Time
	dialer *net.Dialer
}

// New validates cfg. signer may be nil.
func New(cfg Config, signer *dkim.Signer, log logx.Logger) (*Transport, error) {
	from, err := email.Normalize(cfg.From)
	if err != nil {
		return nil, fmt.Errorf("smtp from: %w", err)
	}
	cfg.From = from
	if strings.TrimSpace(cfg.Hostname) == "" {
		cfg.Hostname, _ = os.Hostname()
		if cfg.Hostname == "" {
			cfg.Hostname = "localhost"
		}
	}
	if cfg.Relay != "" {
		if _, _, err := net.SplitHostPort(cfg.Relay); err != nil {
			return nil, fmt.Errorf("smtp relay %q: %w", cfg.Relay, err)
		}
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Transport{
		cfg:    cfg,
		log:    log,
		signer: signer,
		now:    time.Now,
		dialer: &net.Dialer{Timeout: cfg.DialTimeout},
	}, nil
}

func (t *Transport) Name() string { return "smtp" }

// Send renders, signs and delivers p. Address and 5xx protocol failures are
// permanent; everything else is left for the retry policy.
func (t *Transport) Send(ctx context.Context, p transport.Payload) error {
	from := t.cfg.From
	if strings.TrimSpace(p.From) != "" {
		f, err := email.Normalize(p.From)
		if err != nil {
			return transport.NoRetry(fmt.Errorf("from: %w", err))
		}
		from = f
	}
	rcpts, err := email.NormalizeList(p.Recipients())
	if err != nil {
		return transport.NoRetry(fmt.Errorf("recipients: %w", err))
	}

	msg, err := Render(p, from, rcpts, t.now())
	if err != nil {
		return transport.NoRetry(fmt.Errorf("render: %w", err))
	}
	if msg, err = t.signer.Sign(msg, from); err != nil {
		return transport.NoRetry(err)
	}

	if t.cfg.Relay != "" {
		host, _, _ := net.SplitHostPort(t.cfg.Relay)
		return classify(t.deliver(ctx, t.cfg.Relay, host, true, from, rcpts, msg))
	}

	domains, byDomain, err := email.GroupByDomain(rcpts)
	if err != nil {
		return transport.NoRetry(err)
	}
	errs := make([]error, len(domains))
	var g errgroup.Group
	g.SetLimit(maxParallelDomains)
	for i, d := range domains {
		g.Go(func() error {
			errs[i] = t.deliverDomain(ctx, d, from, byDomain[d], msg)
			return nil
		})
	}
	_ = g.Wait()
	return joinDomainErrors(errs)
}

// joinDomainErrors is permanent only when every failed domain was rejected
// permanently. Otherwise only the transient errors are returned.
func joinDomainErrors(errs []error) error {
	var permanent, transient []error
	for _, err := range errs {
		switch {
		case err == nil:
		case transport.IsNoRetry(err):
			permanent = append(permanent, err)
		default:
			transient = append(transient, err)
		}
	}
	if len(transient) > 0 {
		return errors.Join(transient...)
	}
	if len(permanent) > 0 {
		return transport.NoRetry(errors.Join(permanent...))
	}
	return nil
}

// deliverDomain tries the domain's MX hosts in preference order.
func (t *Transport) deliverDomain(ctx context.Context, domain, from string, rcpts []string, msg []byte) error {
	hosts, err := ResolveMX(ctx, domain)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return transport.NoRetry(fmt.Errorf("mx lookup %s: %w", domain, err))
		}
		return fmt.Errorf("mx lookup %s: %w", domain, err)
	}

	var lastErr error
	for _, h := range hosts {
		err := classify(t.deliver(ctx, net.JoinHostPort(h, smtpPort), h, false, from, rcpts, msg))
		if err == nil {
			t.log.Debug("smtp delivered", logx.String("domain", domain), logx.String("mx", h))
			return nil
		}
		// A permanent rejection from one MX is authoritative for the domain.
		if transport.IsNoRetry(err) {
			return err
		}
		t.log.Debug("mx attempt failed", logx.String("mx", h), logx.Err(err))
		lastErr = err
	}
	return fmt.Errorf("delivery to %s failed: %w", domain, lastErr)
}

func (t *Transport) deliver(ctx context.Context, addr, host string, relay bool, from string, rcpts []string, msg []byte) error {
	conn, err := t.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	timeout := defaultSessionTimeout
	if d, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(d))
	}
	if timeout <= 0 {
		return context.DeadlineExceeded
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c := gosmtp.NewClient(conn)
	c.CommandTimeout = timeout
	c.SubmissionTimeout = timeout
	defer c.Close()

	if err := c.Hello(t.cfg.Hostname); err != nil {
		return fmt.Errorf("helo: %w", err)
	}
	if ok, _ := c.Extension("STARTTLS"); ok {
		tlsConf := &tls.Config{
			ServerName:         host,
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: t.cfg.InsecureSkipVerify,
		}
		if err := c.StartTLS(tlsConf); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	} else if t.cfg.RequireTLS {
		return transport.NoRetry(fmt.Errorf("%s does not offer STARTTLS", host))
	}

	if relay && t.cfg.Username != "" {
		if ok, _ := c.Extension("AUTH"); !ok {
			return transport.NoRetry(fmt.Errorf("%s does not offer AUTH", host))
		}
		if err := c.Auth(sasl.NewPlainClient("", t.cfg.Username, t.cfg.Password)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := c.Mail(from, nil); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, r := range rcpts {
		if err := c.Rcpt(r, nil); err != nil {
			return fmt.Errorf("rcpt to %s: %w", r, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data start: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("data write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("data close: %w", err)
	}
	if err := c.Quit(); err != nil {
		t.log.Debug("smtp quit failed", logx.String("host", host), logx.Err(err))
	}
	return nil
}

// classify marks 5xx replies permanent and keeps 4xx and network errors transient.
func classify(err error) error {
	if err == nil || transport.IsNoRetry(err) {
		return err
	}
	var smtpErr *gosmtp.SMTPError
	if errors.As(err, &smtpErr) && smtpErr.Code >= 500 && smtpErr.Code < 600 {
		return transport.NoRetry(err)
	}
	return err
}
