package email

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNormalize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "bare", input: "USER@Example.com", want: "user@example.com"},
		{name: "display name", input: "Ops Team <ops@example.com>", want: "ops@example.com"},
		{name: "padded", input: "  a@b.test ", want: "a@b.test"},
		{name: "empty", input: "  ", wantErr: true},
		{name: "no at", input: "invalid", wantErr: true},
		{name: "header injection", input: "a@b.test\r\nBcc: x@y.test", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Normalize(tc.input)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidAddress) {
					t.Fatalf("expected ErrInvalidAddress, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNormalizeListDropsDuplicates(t *testing.T) {
	t.Parallel()
	got, err := NormalizeList([]string{"a@x.test", "A@X.test", "b@y.test"})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a@x.test", "b@y.test"}, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if _, err := NormalizeList([]string{"a@x.test", "nope"}); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestDomain(t *testing.T) {
	t.Parallel()
	if d, err := Domain("user@Example.COM."); err != nil || d != "example.com" {
		t.Fatalf("Domain = (%q, %v)", d, err)
	}
	for _, bad := range []string{"user", "user@", "user@ex ample.com"} {
		if _, err := Domain(bad); !errors.Is(err, ErrInvalidAddress) {
			t.Fatalf("Domain(%q) err = %v", bad, err)
		}
	}
}

func TestGroupByDomain(t *testing.T) {
	t.Parallel()
	domains, by, err := GroupByDomain([]string{"a@y.test", "b@x.test", "c@y.test"})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"y.test", "x.test"}, domains); diff != "" {
		t.Fatalf("domains (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a@y.test", "c@y.test"}, by["y.test"]); diff != "" {
		t.Fatalf("y.test (-want +got):\n%s", diff)
	}
}
