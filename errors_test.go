package recall

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"transient", &TransientError{Op: "kv", Err: errors.New("timeout")}, true},
		{"wrapped transient", fmt.Errorf("search: %w", &TransientError{Op: "kv", Err: errors.New("x")}), true},
		{"deadline", context.DeadlineExceeded, true},
		{"permanent", &PermanentError{Op: "llm", Err: errors.New("auth")}, false},
		{"not found", &NotFoundError{Resource: "job", ID: "j1"}, false},
		{"plain", errors.New("x"), false},
	}
	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Errorf("%s: IsTransient = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestIsPermanent(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"permanent", &PermanentError{Op: "llm", Err: errors.New("auth")}, true},
		{"validation", &ValidationError{Field: "limit", Message: "out of range"}, true},
		{"not found", &NotFoundError{Resource: "job", ID: "j1"}, true},
		{"wrapped not found", fmt.Errorf("worker: %w", &NotFoundError{Resource: "job", ID: "j1"}), true},
		{"transient", &TransientError{Op: "kv", Err: errors.New("timeout")}, false},
		{"plain", errors.New("x"), false},
	}
	for _, tc := range cases {
		if got := IsPermanent(tc.err); got != tc.want {
			t.Errorf("%s: IsPermanent = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestJobStatusRank(t *testing.T) {
	if JobPending.Rank() >= JobProcessing.Rank() {
		t.Error("pending must rank below processing")
	}
	if JobProcessing.Rank() >= JobCompleted.Rank() {
		t.Error("processing must rank below completed")
	}
	if JobCompleted.Rank() != JobFailed.Rank() {
		t.Error("terminal states must share a rank")
	}
	if !JobCompleted.Terminal() || !JobFailed.Terminal() {
		t.Error("completed and failed must be terminal")
	}
	if JobPending.Terminal() || JobProcessing.Terminal() {
		t.Error("pending and processing must not be terminal")
	}
}

func TestSearchQueryValidate(t *testing.T) {
	ok := SearchQuery{UserID: "u1", Query: "pizza", Limit: 10}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bad := []SearchQuery{
		{Query: "pizza", Limit: 10},
		{UserID: "u1", Limit: 10},
		{UserID: "u1", Query: "pizza", Limit: 0},
		{UserID: "u1", Query: "pizza", Limit: 101},
	}
	for i, q := range bad {
		err := q.Validate()
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("case %d: got %v, want ValidationError", i, err)
		}
	}
}

func TestExtractionRequestValidate(t *testing.T) {
	ok := ExtractionRequest{
		UserID:       "u1",
		Conversation: []ConversationTurn{{Role: "user", Content: "hi"}},
	}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (ExtractionRequest{UserID: "u1"}).Validate(); err == nil {
		t.Error("expected error for empty conversation")
	}
	withBadRole := ExtractionRequest{
		UserID:       "u1",
		Conversation: []ConversationTurn{{Role: "narrator", Content: "hi"}},
	}
	if err := withBadRole.Validate(); err == nil {
		t.Error("expected error for unknown role")
	}
}
