package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	logx "compdb/pkg/logx"
)

func chatReply(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		t.Errorf("encode reply: %v", err)
	}
}

func TestFetchCandidates(t *testing.T) {
	t.Parallel()
	const batch = `[{"name":"Red Ridge","commodity":"Copper","total_resource_mt":120.5,"overall_score":72},
		{"name":"Dry Gulch","commodity":"Gold","grade":4.2,"grade_unit":"g/t"}]`

	var gotAuth string
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		chatReply(t, w, batch)
	}))
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL, APIKey: "sk-test", Model: "gpt-4o-mini", BatchSize: 2}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := c.FetchCandidates(context.Background())
	if err != nil {
		t.Fatalf("FetchCandidates: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if got[0].Name != "Red Ridge" || got[0].TotalResourceMt != 120.5 || got[0].OverallScore != 72 {
		t.Errorf("unexpected first candidate: %+v", got[0])
	}
	if got[1].GradeUnit != "g/t" {
		t.Errorf("grade unit = %q, want g/t", got[1].GradeUnit)
	}

	if gotAuth != "Bearer sk-test" {
		t.Errorf("authorization header = %q", gotAuth)
	}
	if gotReq.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", gotReq.Model)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" {
		t.Fatalf("unexpected messages: %+v", gotReq.Messages)
	}
	if !strings.Contains(gotReq.Messages[1].Content, "2 real or realistic mining projects") {
		t.Errorf("prompt does not carry the batch size:\n%s", gotReq.Messages[1].Content)
	}
}

func TestFetchCandidatesFencedContent(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chatReply(t, w, "```json\n[{\"name\":\"Blue Creek\"}]\n```")
	}))
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := c.FetchCandidates(context.Background())
	if err != nil {
		t.Fatalf("FetchCandidates: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Blue Creek" {
		t.Fatalf("unexpected candidates: %+v", got)
	}
}

func TestFetchCandidatesUpstreamErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantSub string
	}{
		{
			name: "http error status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "upstream down", http.StatusBadGateway)
			},
			wantSub: "unexpected status 502",
		},
		{
			name: "api error payload",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded"}}`))
			},
			wantSub: "research API error: quota exceeded",
		},
		{
			name: "no choices",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"choices":[]}`))
			},
			wantSub: "no choices",
		},
		{
			name: "malformed candidates",
			handler: func(w http.ResponseWriter, r *http.Request) {
				resp := map[string]any{"choices": []map[string]any{{"message": map[string]any{"content": "not json"}}}}
				_ = json.NewEncoder(w).Encode(resp)
			},
			wantSub: "decode candidates",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c, err := New(Config{Endpoint: srv.URL}, logx.Nop())
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			_, err = c.FetchCandidates(context.Background())
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not contain %q", err, tt.wantSub)
			}
		})
	}
}

func TestNewRequiresEndpoint(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}

func TestStripFence(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "no fence", in: `[{"a":1}]`, want: `[{"a":1}]`},
		{name: "json fence", in: "```json\n[1,2]\n```", want: "[1,2]"},
		{name: "bare fence", in: "```\n[1,2]\n```", want: "[1,2]"},
		{name: "unterminated fence", in: "```json\n[1,2]", want: "[1,2]"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := stripFence(tt.in); got != tt.want {
				t.Errorf("stripFence(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	if got := truncate("short", 200); got != "short" {
		t.Errorf("truncate short = %q", got)
	}
	long := strings.Repeat("x", 300)
	got := truncate(long, 200)
	if len(got) != 200 || !strings.HasSuffix(got, "...") {
		t.Errorf("truncate long: len=%d suffix=%q", len(got), got[len(got)-3:])
	}
}
