package smtp

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"strings"
	"time"

	"github.com/Aaditya1273/InsightMeet-sub000/internal/transport"
	"github.com/google/uuid"
)

// Render builds an RFC 5322 message for p. Text and HTML bodies become a
// multipart/alternative message; a single body is sent as a plain part.
// Line endings are CRLF.
func Render(p transport.Payload, from string, to []string, now time.Time) ([]byte, error) {
	var buf bytes.Buffer
	h := func(k, v string) { fmt.Fprintf(&buf, "%s: %s\r\n", k, v) }

	h("From", from)
	h("To", strings.Join(to, ", "))
	if r := strings.TrimSpace(p.ReplyTo); r != "" {
		h("Reply-To", r)
	}
	h("Subject", mime.QEncoding.Encode("utf-8", p.Subject))
	h("Date", now.Format(time.RFC1123Z))
	h("Message-ID", messageID(from))
	h("MIME-Version", "1.0")

	text, html := p.Text, p.HTML
	switch {
	case text != "" && html != "":
		mw := multipart.NewWriter(&buf)
		h("Content-Type", "multipart/alternative; boundary="+mw.Boundary())
		buf.WriteString("\r\n")
		for _, part := range []struct{ ctype, body string }{
			{"text/plain; charset=utf-8", text},
			{"text/html; charset=utf-8", html},
		} {
			w, err := mw.CreatePart(textproto.MIMEHeader{
				"Content-Type":              {part.ctype},
				"Content-Transfer-Encoding": {"quoted-printable"},
			})
			if err != nil {
				return nil, err
			}
			if err := writeQP(w, part.body); err != nil {
				return nil, err
			}
		}
		if err := mw.Close(); err != nil {
			return nil, err
		}
	case html != "":
		h("Content-Type", "text/html; charset=utf-8")
		h("Content-Transfer-Encoding", "quoted-printable")
		buf.WriteString("\r\n")
		if err := writeQP(&buf, html); err != nil {
			return nil, err
		}
	default:
		h("Content-Type", "text/plain; charset=utf-8")
		h("Content-Transfer-Encoding", "quoted-printable")
		buf.WriteString("\r\n")
		if err := writeQP(&buf, text); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func writeQP(w io.Writer, body string) error {
	qp := quotedprintable.NewWriter(w)
	if _, err := io.WriteString(qp, body); err != nil {
		return err
	}
	if err := qp.Close(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

func messageID(from string) string {
	domain := "localhost"
	if i := strings.LastIndex(from, "@"); i >= 0 && i+1 < len(from) {
		domain = strings.Trim(from[i+1:], "<> ")
	}
	return "<" + uuid.NewString() + "@" + domain + ">"
}
