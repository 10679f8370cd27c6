// Package chat stores the per-stream chat log. Two drivers are provided: a
// JSON file alongside the stream's segments, and Redis for multi-replica
// deployments.
package chat

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"pulsecast/internal/models"
)

// MaxMessages bounds the retained log per stream; older entries are dropped.
const MaxMessages = 200

// MaxTextLength bounds a single message. Longer submissions are truncated,
// not rejected.
const MaxTextLength = 500

// ErrEmptyMessage is returned when a submission is blank after trimming.
var ErrEmptyMessage = errors.New("message text is required")

// Log is the persistence contract for a stream's chat history.
type Log interface {
	List(ctx context.Context, streamKey string) ([]models.ChatMessage, error)
	Append(ctx context.Context, streamKey string, message models.ChatMessage) error
}

// NewMessage validates and normalizes a submission into a stored message.
func NewMessage(userID, userName, text string) (models.ChatMessage, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return models.ChatMessage{}, ErrEmptyMessage
	}
	if runes := []rune(trimmed); len(runes) > MaxTextLength {
		trimmed = string(runes[:MaxTextLength])
	}
	id, err := messageID()
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("generate message id: %w", err)
	}
	return models.ChatMessage{
		ID:        id,
		UserID:    userID,
		UserName:  userName,
		Text:      trimmed,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func messageID() (string, error) {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
