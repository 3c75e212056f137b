package logx

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Field writes one key onto a log event. Later fields overwrite earlier ones
// with the same key.
type Field func(e *zerolog.Event)

func String(k, v string) Field           { return func(e *zerolog.Event) { e.Str(k, v) } }
func Strings(k string, v []string) Field { return func(e *zerolog.Event) { e.Strs(k, v) } }
func Int(k string, v int) Field          { return func(e *zerolog.Event) { e.Int(k, v) } }
func Int64(k string, v int64) Field      { return func(e *zerolog.Event) { e.Int64(k, v) } }
func Uint64(k string, v uint64) Field    { return func(e *zerolog.Event) { e.Uint64(k, v) } }
func Bool(k string, v bool) Field        { return func(e *zerolog.Event) { e.Bool(k, v) } }
func Time(k string, v time.Time) Field   { return func(e *zerolog.Event) { e.Time(k, v) } }
func Any(k string, v any) Field          { return func(e *zerolog.Event) { e.Interface(k, v) } }

func Duration(k string, v time.Duration) Field {
	return func(e *zerolog.Event) { e.Dur(k, v) }
}

// Err attaches err under "err". A nil error adds nothing.
func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

// redactRecipients is flipped by Service.Apply.
var redactRecipients atomic.Bool

// Recipients logs delivery addresses. With logging.redact_recipients on, the
// local part of an email (or the middle of any other address) is masked.
func Recipients(k string, addrs []string) Field {
	return func(e *zerolog.Event) {
		if !redactRecipients.Load() {
			e.Strs(k, addrs)
			return
		}
		masked := make([]string, len(addrs))
		for i, a := range addrs {
			masked[i] = MaskAddress(a)
		}
		e.Strs(k, masked)
	}
}

// MaskAddress keeps the first character of an email's local part and the
// domain: "alice@example.com" becomes "a***@example.com". Non-email
// addresses keep two characters at each end when long enough.
func MaskAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if at := strings.LastIndexByte(addr, '@'); at > 0 {
		return addr[:1] + "***" + addr[at:]
	}
	if len(addr) <= 6 {
		return "***"
	}
	return addr[:2] + "***" + addr[len(addr)-2:]
}
