package board

import (
	"errors"
	"strings"
	"testing"
)

func TestMentions(t *testing.T) {
	tests := []struct {
		name    string
		content string
		target  string
		want    bool
	}{
		{"simple mention", "hey @Alice, can you review?", "Alice", true},
		{"no mention", "hey everyone", "Alice", false},
		{"mention of someone else", "hey @Bob", "Alice", false},
		{"mid-word match still counts", "email me@Alice.example", "Alice", true},
		{"case sensitive", "hey @alice", "Alice", false},
		{"empty display name never matches", "just an @ sign", "", false},
		{"mention at end", "ping @Alice", "Alice", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := ChatMessage{Content: tt.content}
			if got := m.Mentions(tt.target); got != tt.want {
				t.Errorf("Mentions(%q) on %q = %v, want %v", tt.target, tt.content, got, tt.want)
			}
		})
	}
}

func TestTaskStatusValid(t *testing.T) {
	for _, s := range []TaskStatus{StatusToDo, StatusInProgress, StatusDone} {
		if !s.Valid() {
			t.Errorf("expected %q to be valid", s)
		}
	}
	for _, s := range []TaskStatus{"", "archived", "TODO"} {
		if s.Valid() {
			t.Errorf("expected %q to be invalid", s)
		}
	}
}

func TestValidateMessage(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{"ok", "hello world", false},
		{"empty", "", true},
		{"at byte limit", strings.Repeat("a", MaxMessageBytes), true}, // 4096 ASCII chars also exceed the char limit
		{"over byte limit", strings.Repeat("a", MaxMessageBytes+1), true},
		{"at char limit", strings.Repeat("a", MaxMessageChars), false},
		{"over char limit", strings.Repeat("a", MaxMessageChars+1), true},
		{"multibyte within char limit", strings.Repeat("é", MaxMessageChars), false},
		{"invalid utf8", "abc\xff\xfe", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessage(tt.text)
			if tt.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err != nil && !errors.Is(err, ErrInvalid) {
				t.Errorf("error %v does not wrap ErrInvalid", err)
			}
		})
	}
}

func TestValidateTask(t *testing.T) {
	tests := []struct {
		name    string
		content string
		status  TaskStatus
		wantErr bool
	}{
		{"ok", "write release notes", StatusToDo, false},
		{"empty content", "", StatusToDo, true},
		{"over char limit", strings.Repeat("x", MaxTaskChars+1), StatusDone, true},
		{"bad status", "valid content", "someday", true},
		{"invalid utf8", "bad\xffcontent", StatusInProgress, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTask(tt.content, tt.status)
			if tt.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err != nil && !errors.Is(err, ErrInvalid) {
				t.Errorf("error %v does not wrap ErrInvalid", err)
			}
		})
	}
}
