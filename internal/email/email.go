package email

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

// ErrInvalidAddress indicates the address failed validation.
var ErrInvalidAddress = errors.New("invalid email address")

// Normalize parses a single address ("Name <user@host>" or a bare address)
// and returns the lower-cased addr-spec.
func Normalize(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", fmt.Errorf("%w: empty address", ErrInvalidAddress)
	}
	if strings.ContainsAny(address, "\r\n") {
		return "", fmt.Errorf("%w: unexpected newline", ErrInvalidAddress)
	}
	parsed, err := mail.ParseAddress(address)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if _, err := Domain(parsed.Address); err != nil {
		return "", err
	}
	return strings.ToLower(parsed.Address), nil
}

// NormalizeList normalizes every address, failing on the first invalid one.
// Duplicates are dropped, keeping first-seen order.
func NormalizeList(addresses []string) ([]string, error) {
	out := make([]string, 0, len(addresses))
	seen := make(map[string]struct{}, len(addresses))
	for _, a := range addresses {
		n, err := Normalize(a)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", a, err)
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out, nil
}

// Domain returns the domain component of a validated email address.
func Domain(address string) (string, error) {
	at := strings.LastIndex(address, "@")
	if at == -1 || at == len(address)-1 {
		return "", fmt.Errorf("%w: missing domain", ErrInvalidAddress)
	}

	domain := strings.TrimSpace(strings.TrimSuffix(address[at+1:], "."))
	if domain == "" {
		return "", fmt.Errorf("%w: empty domain", ErrInvalidAddress)
	}
	if strings.ContainsAny(domain, " \t") {
		return "", fmt.Errorf("%w: whitespace in domain", ErrInvalidAddress)
	}
	return strings.ToLower(domain), nil
}

// GroupByDomain buckets normalized addresses by domain, preserving the order
// in which each domain first appears.
func GroupByDomain(addresses []string) (domains []string, byDomain map[string][]string, err error) {
	byDomain = map[string][]string{}
	for _, a := range addresses {
		d, err := Domain(a)
		if err != nil {
			return nil, nil, err
		}
		if _, ok := byDomain[d]; !ok {
			domains = append(domains, d)
		}
		byDomain[d] = append(byDomain[d], a)
	}
	return domains, byDomain, nil
}
