package openhab_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bdobrica/openhabot/internal/openhabot/openhab"
)

func TestValidateURL(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr error
	}{
		{in: "", wantErr: openhab.ErrEmptyInput},
		{in: "  \t", wantErr: openhab.ErrEmptyInput},
		{in: "not a url", wantErr: openhab.ErrNotAURL},
		{in: "myopenhab.org", wantErr: openhab.ErrNotAURL},
		{in: "ftp://myopenhab.org", wantErr: openhab.ErrNotAURL},
		{in: "https://", wantErr: openhab.ErrNotAURL},
		{in: "https://myopenhab.org:443/rest", wantErr: openhab.ErrReservedSuffix},
		{in: "http://10.0.0.5:8080/REST/", wantErr: openhab.ErrReservedSuffix},
		{in: "https://myopenhab.org:443", want: "https://myopenhab.org:443"},
		{in: " https://myopenhab.org:443/ ", want: "https://myopenhab.org:443"},
		{in: "HTTP://10.0.0.5:8080/openhab/", want: "http://10.0.0.5:8080/openhab"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := openhab.ValidateURL(tc.in)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateURL: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestCheckReachable_AnyStatusIsReachable(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		http.Redirect(w, r, "https://elsewhere.invalid/", http.StatusFound)
	}))
	defer srv.Close()

	if err := openhab.NewProber(time.Second).CheckReachable(context.Background(), srv.URL); err != nil {
		t.Fatalf("CheckReachable: %v", err)
	}
	if gotMethod != http.MethodHead {
		t.Errorf("method = %q, want HEAD", gotMethod)
	}
}

func TestCheckReachable_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	err := openhab.NewProber(time.Second).CheckReachable(context.Background(), addr)
	if !errors.Is(err, openhab.ErrUnreachable) {
		t.Fatalf("err = %v, want ErrUnreachable", err)
	}
}

func TestCheckReachable_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	start := time.Now()
	err := openhab.NewProber(50*time.Millisecond).CheckReachable(context.Background(), srv.URL)
	if !errors.Is(err, openhab.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("probe took %s, want it bounded by the timeout", elapsed)
	}
}

func TestCheckCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "alice" || pass != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/rest/" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"version":"4"}`))
	}))
	defer srv.Close()

	p := openhab.NewProber(time.Second)
	if err := p.CheckCredentials(context.Background(), srv.URL, "alice", "s3cret"); err != nil {
		t.Fatalf("valid credentials: %v", err)
	}
	err := p.CheckCredentials(context.Background(), srv.URL, "alice", "wrong")
	if !errors.Is(err, openhab.ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
	if errors.Is(err, openhab.ErrUnreachable) {
		t.Error("credential failure must be distinct from ErrUnreachable")
	}
}
