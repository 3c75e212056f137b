package smtp

import (
	"context"
	"math/rand/v2"
	"net"
	"sort"
	"strings"
)

var mxLookup = net.DefaultResolver.LookupMX

// ResolveMX returns the domain's mail hosts ordered by preference, shuffling
// hosts of equal preference. A domain without MX records is its own mail
// host (RFC 5321 implicit MX).
func ResolveMX(ctx context.Context, domain string) ([]string, error) {
	records, err := mxLookup(ctx, domain)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return []string{domain}, nil
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Pref < records[j].Pref
	})
	for i := 0; i < len(records); {
		j := i + 1
		for j < len(records) && records[j].Pref == records[i].Pref {
			j++
		}
		rand.Shuffle(j-i, func(a, b int) {
			records[i+a], records[i+b] = records[i+b], records[i+a]
		})
		i = j
	}

	hosts := make([]string, 0, len(records))
	for _, mx := range records {
		h := strings.TrimSuffix(mx.Host, ".")
		// "." is a null MX: the domain accepts no mail.
		if h == "" {
			continue
		}
		hosts = append(hosts, h)
	}
	if len(hosts) == 0 {
		return nil, &net.DNSError{Err: "null MX", Name: domain, IsNotFound: true}
	}
	return hosts, nil
}
