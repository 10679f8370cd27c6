// Package models defines the persistent entities shared across the Pulsecast
// services: accounts, categories, stream metadata, and chat messages.
package models

import "time"

// User is a platform account. StreamKey is empty until the account requests
// one; once assigned it doubles as the RTMP ingest path component and the
// stream's public identifier.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName,omitempty"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	StreamKey    string    `json:"streamKey,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Category is a directory grouping for streams.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// StreamMetadata is the catalog row keyed by stream key. Rows are upserted at
// ingest start and never deleted; a regenerated key simply strands the old
// row, which is acceptable because keys are high-entropy and never reused.
type StreamMetadata struct {
	StreamKey   string    `json:"streamKey"`
	OwnerID     string    `json:"ownerId"`
	CategoryID  string    `json:"categoryId,omitempty"`
	DisplayName string    `json:"displayName,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ChatMessage is a single entry in a stream's chat log.
type ChatMessage struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}
