package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/torosent/breakpoint/internal/auth"
	"github.com/torosent/breakpoint/internal/config"
	"github.com/torosent/breakpoint/internal/feeder"
	"github.com/torosent/breakpoint/internal/placeholders"
)

type staticFeeder struct {
	records []feeder.Record
	next    int
}

func (f *staticFeeder) Next(ctx context.Context) (feeder.Record, error) {
	rec := f.records[f.next%len(f.records)]
	f.next++
	return rec, nil
}

func (f *staticFeeder) Close() error { return nil }
func (f *staticFeeder) Len() int     { return len(f.records) }

func TestNewRequestBuilderValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  *config.Config
	}{
		{"nil config", nil},
		{"missing base url", &config.Config{Path: "/x"}},
		{"header key with newline", &config.Config{BaseURL: "http://x", Headers: map[string]string{"X-A\n": "v"}}},
		{"header value with newline", &config.Config{BaseURL: "http://x", Headers: map[string]string{"X-A": "v\r\n"}}},
		{"header key with trailing carriage return", &config.Config{BaseURL: "http://x", Headers: map[string]string{"X-A\r": "v"}}},
		{"header key with inner space", &config.Config{BaseURL: "http://x", Headers: map[string]string{"X A": "v"}}},
		{"header value with control byte", &config.Config{BaseURL: "http://x", Headers: map[string]string{"X-A": "v\x00"}}},
		{"empty header key", &config.Config{BaseURL: "http://x", Headers: map[string]string{" ": "v"}}},
		{"body and file", &config.Config{BaseURL: "http://x", Body: "a", BodyFile: "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRequestBuilder(tt.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestBuildJoinsBaseURLAndPath(t *testing.T) {
	b, err := NewRequestBuilder(&config.Config{
		BaseURL: "http://api.local/",
		Path:    "orders",
		Method:  "post",
		Headers: map[string]string{"x-trace": "static"},
	})
	if err != nil {
		t.Fatalf("NewRequestBuilder() error = %v", err)
	}
	req, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if req.URL.String() != "http://api.local/orders" {
		t.Errorf("URL = %q", req.URL.String())
	}
	if req.Method != http.MethodPost {
		t.Errorf("Method = %q, want POST", req.Method)
	}
	if got := req.Header.Get("X-Trace"); got != "static" {
		t.Errorf("X-Trace = %q, want static", got)
	}
	if b.URL() != "http://api.local/orders" || b.Method() != http.MethodPost {
		t.Errorf("URL(), Method() = %q, %q", b.URL(), b.Method())
	}
}

func TestBuildExpandsPlaceholders(t *testing.T) {
	b, err := NewRequestBuilder(&config.Config{
		BaseURL: "http://api.local",
		Path:    "/users/{{user_id}}",
		Method:  http.MethodPut,
		Headers: map[string]string{"X-Stage": "{{stage}}", "X-User": "{{user_id}}"},
		Body:    `{"email":"{{email}}","tier":"{{tier|free}}"}`,
	})
	if err != nil {
		t.Fatalf("NewRequestBuilder() error = %v", err)
	}
	b.WithFeeder(&staticFeeder{records: []feeder.Record{
		{"user_id": "7", "email": "a@x.io"},
		{"user_id": "8", "email": "b@x.io"},
	}})

	ctx := placeholders.WithStage(context.Background(), 2)
	for _, want := range []struct{ path, body, user string }{
		{"/users/7", `{"email":"a@x.io","tier":"free"}`, "7"},
		{"/users/8", `{"email":"b@x.io","tier":"free"}`, "8"},
	} {
		req, err := b.Build(ctx)
		if err != nil {
			t.Fatalf("Build() error = %v", err)
		}
		if req.URL.Path != want.path {
			t.Errorf("path = %q, want %q", req.URL.Path, want.path)
		}
		if got := req.Header.Get("X-Stage"); got != "2" {
			t.Errorf("X-Stage = %q, want 2", got)
		}
		if got := req.Header.Get("X-User"); got != want.user {
			t.Errorf("X-User = %q, want %q", got, want.user)
		}
		body, _ := io.ReadAll(req.Body)
		if string(body) != want.body {
			t.Errorf("body = %s, want %s", body, want.body)
		}
		if req.ContentLength != int64(len(want.body)) {
			t.Errorf("ContentLength = %d, want %d", req.ContentLength, len(want.body))
		}
		again, err := req.GetBody()
		if err != nil {
			t.Fatalf("GetBody() error = %v", err)
		}
		replay, _ := io.ReadAll(again)
		if string(replay) != want.body {
			t.Errorf("GetBody() = %s, want %s", replay, want.body)
		}
	}
}

func TestBuildInjectsAuth(t *testing.T) {
	b, err := NewRequestBuilder(&config.Config{BaseURL: "http://api.local"})
	if err != nil {
		t.Fatalf("NewRequestBuilder() error = %v", err)
	}
	b.WithAuth(auth.NewStaticTokenProvider("secret"))
	req, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer secret" {
		t.Errorf("Authorization = %q, want %q", got, "Bearer secret")
	}
}

func TestClientTimeoutApplied(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(20 * time.Millisecond)
	resp, err := client.Get(server.URL)
	if err == nil {
		resp.Body.Close()
		t.Fatal("expected timeout error")
	}
}

func TestNewClientNegativeTimeout(t *testing.T) {
	if c := NewClient(-time.Second); c.Timeout != 0 {
		t.Fatalf("Timeout = %v, want 0", c.Timeout)
	}
}
