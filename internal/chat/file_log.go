package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"pulsecast/internal/hls"
	"pulsecast/internal/models"
)

const logFileName = "chat.json"

// FileLog stores each stream's chat history as a JSON file next to its
// segments. Reads and writes serialize through a single mutex, which is fine
// for the single-node deployments this driver targets.
type FileLog struct {
	mu    sync.Mutex
	store *hls.Store
}

// NewFileLog constructs a file-backed chat log rooted in the segment store.
func NewFileLog(store *hls.Store) *FileLog {
	return &FileLog{store: store}
}

// List returns the retained messages for the stream, oldest first. A missing
// log file is an empty history, not an error.
func (l *FileLog) List(ctx context.Context, streamKey string) ([]models.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readLocked(streamKey)
}

// Append adds a message to the stream's log, dropping the oldest entries past
// the retention cap.
func (l *FileLog) Append(ctx context.Context, streamKey string, message models.ChatMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	messages, err := l.readLocked(streamKey)
	if err != nil {
		return err
	}
	messages = append(messages, message)
	if len(messages) > MaxMessages {
		messages = messages[len(messages)-MaxMessages:]
	}
	return l.writeLocked(streamKey, messages)
}

func (l *FileLog) logPath(streamKey string) (string, error) {
	dir, err := l.store.StreamDir(streamKey)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, logFileName), nil
}

func (l *FileLog) readLocked(streamKey string) ([]models.ChatMessage, error) {
	path, err := l.logPath(streamKey)
	if err != nil {
		return nil, err
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []models.ChatMessage{}, nil
		}
		return nil, fmt.Errorf("read chat log: %w", err)
	}
	var messages []models.ChatMessage
	if err := json.Unmarshal(payload, &messages); err != nil {
		// A corrupt log is discarded rather than wedging the stream's chat.
		return []models.ChatMessage{}, nil
	}
	return messages, nil
}

func (l *FileLog) writeLocked(streamKey string, messages []models.ChatMessage) error {
	if _, err := l.store.EnsureDir(streamKey); err != nil {
		return err
	}
	path, err := l.logPath(streamKey)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "chat-*.json")
	if err != nil {
		return fmt.Errorf("create chat temp file: %w", err)
	}
	encoder := json.NewEncoder(tmp)
	if err := encoder.Encode(messages); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("encode chat log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace chat log: %w", err)
	}
	return nil
}

var _ Log = (*FileLog)(nil)
