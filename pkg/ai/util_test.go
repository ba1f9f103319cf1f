package ai

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"
)

type mentionOut struct {
	Mentions []struct {
		Text    string `json:"text"`
		ClassID string `json:"class_id"`
	} `json:"mentions"`
}

func TestUnmarshalFlexible_Variants(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "valid json object",
			input: `{"mentions":[{"text":"Alice"}]}`,
			want:  []string{"Alice"},
		},
		{
			name:  "unquoted key and single quotes",
			input: `{mentions: [{text: 'Alice'}, {text: 'Acme Corp'}]}`,
			want:  []string{"Alice", "Acme Corp"},
		},
		{
			name:  "trailing comma",
			input: `{"mentions":[{"text":"Alice"},],}`,
			want:  []string{"Alice"},
		},
		{
			name:  "missing endbracket",
			input: `{"mentions":[{"text":"Alice"`,
			want:  []string{"Alice"},
		},
		{
			name:  "stringified object",
			input: `"{\"mentions\":[{\"text\":\"Alice\"}]}"`,
			want:  []string{"Alice"},
		},
		{
			name:  "duplicate leading brace",
			input: "{\n{\n  \"mentions\": [{\"text\": \"Alice\"}]\n}\n",
			want:  []string{"Alice"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got mentionOut
			if err := UnmarshalFlexible(tc.input, &got); err != nil {
				t.Fatalf("UnmarshalFlexible() error = %v", err)
			}
			texts := make([]string, 0, len(got.Mentions))
			for _, m := range got.Mentions {
				texts = append(texts, m.Text)
			}
			if !reflect.DeepEqual(texts, tc.want) {
				t.Fatalf("UnmarshalFlexible() got = %v, want %v", texts, tc.want)
			}
		})
	}
}

func TestDecodeStructured(t *testing.T) {
	var out mentionOut
	if err := DecodeStructured("detect_mentions", `{"mentions":[]}`, &out); err != nil {
		t.Fatalf("DecodeStructured() error = %v", err)
	}

	for _, input := range []string{"", "   ", "hello"} {
		err := DecodeStructured("detect_mentions", input, &out)
		var sv *SchemaValidationError
		if !errors.As(err, &sv) {
			t.Fatalf("DecodeStructured(%q) expected SchemaValidationError, got %v", input, err)
		}
		if sv.Schema != "detect_mentions" {
			t.Fatalf("schema name = %q", sv.Schema)
		}
	}
}

func TestRestrictEnum(t *testing.T) {
	schema := GenerateSchema(&mentionOut{})
	if !RestrictEnum(schema, []string{"mentions", "class_id"}, []string{"ex:Person", "ex:Organization"}) {
		t.Fatal("RestrictEnum() returned false for existing path")
	}

	mentions, _ := schema.Properties.Get("mentions")
	classID, _ := mentions.Items.Properties.Get("class_id")
	want := []any{"ex:Person", "ex:Organization"}
	if !reflect.DeepEqual(classID.Enum, want) {
		t.Fatalf("enum = %v, want %v", classID.Enum, want)
	}

	if RestrictEnum(schema, []string{"mentions", "missing"}, []string{"x"}) {
		t.Fatal("RestrictEnum() returned true for missing path")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "plain", err: errors.New("boom"), want: false},
		{name: "schema", err: &SchemaValidationError{Schema: "s"}, want: true},
		{name: "rate limit wrapped", err: fmt.Errorf("call: %w", &RateLimitError{Err: errors.New("429")}), want: true},
		{name: "timeout", err: &TimeoutError{Op: "chat", Err: context.DeadlineExceeded}, want: true},
		{name: "unavailable", err: &UnavailableError{StatusCode: 503}, want: true},
		{name: "canceled", err: fmt.Errorf("x: %w", context.Canceled), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Fatalf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyCallError(t *testing.T) {
	ctx := context.Background()
	base := errors.New("upstream")

	var rl *RateLimitError
	if err := ClassifyCallError(ctx, "chat", 429, base); !errors.As(err, &rl) {
		t.Fatalf("429 not classified as rate limit: %v", err)
	}
	var to *TimeoutError
	if err := ClassifyCallError(ctx, "chat", 0, fmt.Errorf("wrapped: %w", context.DeadlineExceeded)); !errors.As(err, &to) {
		t.Fatalf("deadline not classified as timeout: %v", err)
	}
	var un *UnavailableError
	if err := ClassifyCallError(ctx, "chat", 502, base); !errors.As(err, &un) {
		t.Fatalf("502 not classified as unavailable: %v", err)
	}
	if err := ClassifyCallError(ctx, "chat", 400, base); err != base {
		t.Fatalf("400 should pass through, got %v", err)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if err := ClassifyCallError(canceled, "chat", 429, base); !errors.Is(err, context.Canceled) {
		t.Fatalf("canceled parent should win, got %v", err)
	}

	if got := RetryAfter(&RateLimitError{RetryAfter: 2 * time.Second}); got != 2*time.Second {
		t.Fatalf("RetryAfter() = %v", got)
	}
}
