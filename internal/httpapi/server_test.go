package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logx "github.com/Aaditya1273/InsightMeet-sub000/pkg/logx"
)

func waitForHTTP(ctx context.Context, url string) (int, error) {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
		if err != nil {
			return 0, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			return resp.StatusCode, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

func TestServerReconfigure(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h := NewHandler(Deps{Dispatch: newDispatch()})
	srv := NewServer(Config{}, h, logx.Nop())
	t.Cleanup(func() { srv.Stop(context.Background()) })

	srv.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0", Token: "s3cret"})
	select {
	case <-srv.Ready():
	case <-ctx.Done():
		t.Fatal("server never bound")
	}
	base := "http://" + srv.Addr()

	code, err := waitForHTTP(ctx, base+"/healthz")
	if err != nil || code != http.StatusOK {
		t.Fatalf("healthz: %d %v", code, err)
	}
	if code, _ := waitForHTTP(ctx, base+"/v1/queue"); code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", code)
	}
	if code, _ := waitForHTTP(ctx, base+"/v1/queue?token=s3cret"); code != http.StatusOK {
		t.Fatalf("query token: %d", code)
	}
	if code, _ := waitForHTTP(ctx, base+"/debug/pprof/"); code == http.StatusOK {
		t.Fatal("pprof mounted without being enabled")
	}

	srv.Reconfigure(ctx, Config{Enabled: false})
	if addr := srv.Addr(); addr != "" {
		t.Fatalf("addr after disable = %q", addr)
	}
	if _, err := http.Get(base + "/healthz"); err == nil {
		t.Fatal("listener still accepting after disable")
	}
}

func TestServerPprof(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv := NewServer(Config{Enabled: true, Addr: "127.0.0.1:0", Pprof: true}, NewHandler(Deps{Dispatch: newDispatch()}), logx.Nop())
	srv.Start(ctx)
	t.Cleanup(func() { srv.Stop(context.Background()) })
	select {
	case <-srv.Ready():
	case <-ctx.Done():
		t.Fatal("server never bound")
	}
	if code, err := waitForHTTP(ctx, "http://"+srv.Addr()+"/debug/pprof/"); err != nil || code != http.StatusOK {
		t.Fatalf("pprof index: %d %v", code, err)
	}
}

func TestServerRefusesPublicBindWithoutToken(t *testing.T) {
	t.Parallel()
	srv := NewServer(Config{Enabled: true, Addr: "0.0.0.0:0"}, http.NotFoundHandler(), logx.Nop())
	if err := srv.serveOnce(context.Background()); err != nil {
		t.Fatalf("serveOnce = %v, want nil (refused, not retried)", err)
	}
	if srv.Addr() != "" {
		t.Fatal("listener bound despite missing token")
	}
}

func TestWithAuth(t *testing.T) {
	t.Parallel()
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := withAuth("tok", ok)

	tests := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{name: "bearer", target: "/v1/queue", header: "Bearer tok", want: http.StatusNoContent},
		{name: "query", target: "/v1/queue?token=tok", want: http.StatusNoContent},
		{name: "wrong bearer", target: "/v1/queue", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "wrong query wins over good header", target: "/v1/queue?token=nope", header: "Bearer tok", want: http.StatusUnauthorized},
		{name: "missing", target: "/v1/queue", want: http.StatusUnauthorized},
		{name: "basic scheme", target: "/v1/queue", header: "Basic tok", want: http.StatusUnauthorized},
		{name: "healthz open", target: "/healthz", want: http.StatusNoContent},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(http.MethodGet, tc.target, http.NoBody)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s: status = %d, want %d", tc.name, rec.Code, tc.want)
		}
	}

	rec := httptest.NewRecorder()
	withAuth("", ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/queue", http.NoBody))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("no token configured: status = %d", rec.Code)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"127.0.0.1:8089": true,
		"localhost:80":   true,
		"[::1]:9000":     true,
		"0.0.0.0:8089":   false,
		":8089":          false,
		"10.0.0.5:80":    false,
		"example.com:80": false,
		"garbage":        false,
	}
	for addr, want := range tests {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}
