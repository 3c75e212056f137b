package dkim

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	msgauthdkim "github.com/emersion/go-msgauth/dkim"
)

// Options configures a Signer. Exactly one of KeyPath or PrivateKey must be set.
type Options struct {
	// Domain overrides the signing domain; empty uses the sender's domain.
	Domain     string
	Selector   string
	KeyPath    string
	PrivateKey string // inline PEM
}

// Signer applies DKIM signatures to rendered messages.
// A nil *Signer is valid and signs nothing.
type Signer struct {
	domain     string
	selector   string
	key        crypto.Signer
	headerKeys []string
}

var defaultHeaderKeys = []string{
	"from",
	"to",
	"reply-to",
	"subject",
	"date",
	"mime-version",
	"content-type",
	"message-id",
}

// New loads the private key and builds a Signer.
func New(opts Options) (*Signer, error) {
	selector := strings.TrimSpace(opts.Selector)
	if selector == "" {
		return nil, errors.New("dkim: selector is required")
	}

	var pemData []byte
	switch {
	case strings.TrimSpace(opts.PrivateKey) != "":
		pemData = []byte(opts.PrivateKey)
	case strings.TrimSpace(opts.KeyPath) != "":
		data, err := os.ReadFile(strings.TrimSpace(opts.KeyPath))
		if err != nil {
			return nil, fmt.Errorf("dkim: read private key: %w", err)
		}
		pemData = data
	default:
		return nil, errors.New("dkim: key_path or private_key is required")
	}

	key, err := parsePrivateKey(pemData)
	if err != nil {
		return nil, fmt.Errorf("dkim: parse private key: %w", err)
	}
	return &Signer{
		domain:     strings.ToLower(strings.TrimSpace(opts.Domain)),
		selector:   selector,
		key:        key,
		headerKeys: defaultHeaderKeys,
	}, nil
}

func (s *Signer) Selector() string {
	if s == nil {
		return ""
	}
	return s.selector
}

func (s *Signer) Domain() string {
	if s == nil {
		return ""
	}
	return s.domain
}

// Sign returns message with a DKIM-Signature header prepended. Messages that
// already carry a signature are returned unchanged.
func (s *Signer) Sign(message []byte, from string) ([]byte, error) {
	if s == nil || s.key == nil {
		return message, nil
	}
	if hasSignature(message) {
		return message, nil
	}

	domain := s.domain
	if domain == "" {
		domain = senderDomain(from)
	}
	if domain == "" {
		return nil, errors.New("dkim: unable to determine signing domain")
	}

	opts := &msgauthdkim.SignOptions{
		Domain:                 domain,
		Selector:               s.selector,
		Signer:                 s.key,
		HeaderCanonicalization: msgauthdkim.CanonicalizationRelaxed,
		BodyCanonicalization:   msgauthdkim.CanonicalizationRelaxed,
		HeaderKeys:             s.headerKeys,
	}

	var signed bytes.Buffer
	if err := msgauthdkim.Sign(&signed, bytes.NewReader(crlf(message)), opts); err != nil {
		return nil, fmt.Errorf("dkim: signing failed: %w", err)
	}
	return signed.Bytes(), nil
}

func parsePrivateKey(pemData []byte) (crypto.Signer, error) {
	for {
		block, rest := pem.Decode(pemData)
		if block == nil {
			break
		}
		switch block.Type {
		case "RSA PRIVATE KEY":
			key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			return key, nil
		case "PRIVATE KEY":
			key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			if signer, ok := key.(crypto.Signer); ok {
				return signer, nil
			}
			return nil, errors.New("unsupported private key type in PKCS#8 container")
		}
		pemData = rest
	}
	return nil, errors.New("no private key found in PEM data")
}

func senderDomain(address string) string {
	address = strings.Trim(strings.TrimSpace(address), "<>")
	if i := strings.LastIndex(address, "@"); i >= 0 && i+1 < len(address) {
		return strings.ToLower(address[i+1:])
	}
	return ""
}

func hasSignature(message []byte) bool {
	upper := bytes.ToUpper(message)
	return bytes.HasPrefix(upper, []byte("DKIM-SIGNATURE:")) || bytes.Contains(upper, []byte("\nDKIM-SIGNATURE:"))
}

// crlf converts bare LF line endings; input already using CRLF is returned as is.
func crlf(data []byte) []byte {
	if bytes.Contains(data, []byte("\r\n")) || !bytes.Contains(data, []byte("\n")) {
		return data
	}
	return bytes.ReplaceAll(data, []byte("\n"), []byte("\r\n"))
}
