package chat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pulsecast/internal/hls"
)

func newTestFileLog(t *testing.T) *FileLog {
	t.Helper()
	store, err := hls.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("hls.NewStore: %v", err)
	}
	return NewFileLog(store)
}

func TestNewMessageValidation(t *testing.T) {
	if _, err := NewMessage("u1", "Alice", "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	message, err := NewMessage("u1", "Alice", "  hello  ")
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if message.Text != "hello" {
		t.Fatalf("Text = %q, want trimmed", message.Text)
	}
	if message.ID == "" || message.CreatedAt.IsZero() {
		t.Fatalf("message missing id or timestamp: %+v", message)
	}

	long, err := NewMessage("u1", "Alice", strings.Repeat("x", MaxTextLength+100))
	if err != nil {
		t.Fatalf("NewMessage long: %v", err)
	}
	if len(long.Text) != MaxTextLength {
		t.Fatalf("long text length = %d, want %d", len(long.Text), MaxTextLength)
	}
}

func TestFileLogAppendAndList(t *testing.T) {
	log := newTestFileLog(t)
	ctx := context.Background()

	messages, err := log.List(ctx, "streamkey")
	if err != nil {
		t.Fatalf("List empty: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("expected empty history, got %d entries", len(messages))
	}

	for i := 0; i < 3; i++ {
		message, err := NewMessage("u1", "Alice", fmt.Sprintf("message %d", i))
		if err != nil {
			t.Fatalf("NewMessage: %v", err)
		}
		if err := log.Append(ctx, "streamkey", message); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	messages, err = log.List(ctx, "streamkey")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("len = %d, want 3", len(messages))
	}
	if messages[0].Text != "message 0" || messages[2].Text != "message 2" {
		t.Fatalf("ordering wrong: %+v", messages)
	}
}

func TestFileLogCapsRetention(t *testing.T) {
	log := newTestFileLog(t)
	ctx := context.Background()
	for i := 0; i < MaxMessages+10; i++ {
		message, err := NewMessage("u1", "Alice", fmt.Sprintf("message %d", i))
		if err != nil {
			t.Fatalf("NewMessage: %v", err)
		}
		if err := log.Append(ctx, "streamkey", message); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	messages, err := log.List(ctx, "streamkey")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(messages) != MaxMessages {
		t.Fatalf("len = %d, want %d", len(messages), MaxMessages)
	}
	if messages[0].Text != "message 10" {
		t.Fatalf("oldest retained = %q, want message 10", messages[0].Text)
	}
}

func TestFileLogDiscardsCorruptFile(t *testing.T) {
	store, err := hls.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("hls.NewStore: %v", err)
	}
	log := NewFileLog(store)
	dir, err := store.EnsureDir("streamkey")
	if err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "chat.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	messages, err := log.List(context.Background(), "streamkey")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("corrupt log should read as empty, got %d entries", len(messages))
	}
}

func TestFileLogRejectsTraversalKey(t *testing.T) {
	log := newTestFileLog(t)
	if _, err := log.List(context.Background(), "../escape"); err == nil {
		t.Fatal("expected error for traversal stream key")
	}
}
