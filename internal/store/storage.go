package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"pulsecast/internal/models"
)

type dataset struct {
	Users      map[string]models.User           `json:"users"`
	Categories map[string]models.Category       `json:"categories"`
	Streams    map[string]models.StreamMetadata `json:"streams"`
}

// Storage is the JSON-file catalog driver. Reads are served from memory;
// every mutation clones the dataset, persists it with a temp-file rename, and
// only then replaces the in-memory copy, so a failed write never leaves the
// snapshot and the file out of sync.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
}

var defaultCategories = []models.Category{
	{ID: "gaming", Name: "Gaming"},
	{ID: "music", Name: "Music"},
	{ID: "talk", Name: "Talk Shows"},
	{ID: "creative", Name: "Creative"},
}

func newDataset() dataset {
	return dataset{
		Users:      make(map[string]models.User),
		Categories: make(map[string]models.Category),
		Streams:    make(map[string]models.StreamMetadata),
	}
}

// NewStorage opens or creates the JSON datastore at path. A fresh store is
// seeded with the default category set.
func NewStorage(path string) (*Storage, error) {
	store := &Storage{filePath: path}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		s.seedCategoriesLocked()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = newDataset()
			s.seedCategoriesLocked()
			return nil
		}
		return fmt.Errorf("decode store file: %w", err)
	}

	if s.data.Users == nil {
		s.data.Users = make(map[string]models.User)
	}
	if s.data.Categories == nil {
		s.data.Categories = make(map[string]models.Category)
	}
	if s.data.Streams == nil {
		s.data.Streams = make(map[string]models.StreamMetadata)
	}
	if len(s.data.Categories) == 0 {
		s.seedCategoriesLocked()
	}
	return nil
}

func (s *Storage) seedCategoriesLocked() {
	for _, category := range defaultCategories {
		s.data.Categories[category.ID] = category
	}
}

func (s *Storage) persistDataset(data dataset) error {
	if s.persistOverride != nil {
		return s.persistOverride(data)
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}

	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

func cloneDataset(src dataset) dataset {
	clone := newDataset()
	for id, user := range src.Users {
		clone.Users[id] = user
	}
	for id, category := range src.Categories {
		clone.Categories[id] = category
	}
	for key, stream := range src.Streams {
		clone.Streams[key] = stream
	}
	return clone
}

// Ping always reports success for the file-backed store.
func (s *Storage) Ping(context.Context) error {
	return nil
}

// Close is a no-op for the file-backed store.
func (s *Storage) Close(context.Context) error {
	return nil
}

// CreateUser registers an account with a freshly hashed password. Emails are
// normalised to lowercase and must be unique.
func (s *Storage) CreateUser(email, displayName, password string) (models.User, error) {
	normalized := normalizeEmail(email)
	if normalized == "" || !strings.Contains(normalized, "@") {
		return models.User{}, fmt.Errorf("valid email is required")
	}
	if len(password) < 6 {
		return models.User{}, fmt.Errorf("password must be at least 6 characters")
	}
	hashed, err := hashPassword(password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}
	id, err := generateID()
	if err != nil {
		return models.User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.data.Users {
		if normalizeEmail(existing.Email) == normalized {
			return models.User{}, ErrEmailTaken
		}
	}

	user := models.User{
		ID:           id,
		Email:        normalized,
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: hashed,
		CreatedAt:    time.Now().UTC(),
	}

	updated := cloneDataset(s.data)
	updated.Users[user.ID] = user
	if err := s.persistDataset(updated); err != nil {
		return models.User{}, err
	}
	s.data = updated
	return user, nil
}

// AuthenticateUser verifies credentials and returns the matching user.
func (s *Storage) AuthenticateUser(email, password string) (models.User, error) {
	if password == "" {
		return models.User{}, ErrInvalidCredentials
	}
	user, ok := s.FindUserByEmail(email)
	if !ok {
		return models.User{}, ErrInvalidCredentials
	}
	if err := verifyPassword(user.PasswordHash, password); err != nil {
		return models.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// GetUser returns the account with the provided id.
func (s *Storage) GetUser(id string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.data.Users[id]
	return user, ok
}

// FindUserByEmail returns the account registered under the email, if any.
func (s *Storage) FindUserByEmail(email string) (models.User, bool) {
	normalized := normalizeEmail(email)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.data.Users {
		if normalizeEmail(user.Email) == normalized {
			return user, true
		}
	}
	return models.User{}, false
}

// UpdateDisplayName sets the account's display name, enforcing uniqueness
// across accounts. An empty name clears it.
func (s *Storage) UpdateDisplayName(id, displayName string) (models.User, error) {
	trimmed := strings.TrimSpace(displayName)

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.data.Users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	if trimmed != "" {
		for otherID, other := range s.data.Users {
			if otherID != id && strings.EqualFold(other.DisplayName, trimmed) {
				return models.User{}, ErrDisplayNameTaken
			}
		}
	}

	user.DisplayName = trimmed
	updated := cloneDataset(s.data)
	updated.Users[id] = user
	if err := s.persistDataset(updated); err != nil {
		return models.User{}, err
	}
	s.data = updated
	return user, nil
}

// EnsureStreamKey returns the user's stream key, generating one on first use.
func (s *Storage) EnsureStreamKey(userID string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.data.Users[userID]
	if !ok {
		return models.User{}, ErrNotFound
	}
	if user.StreamKey != "" {
		return user, nil
	}
	return s.assignStreamKeyLocked(user)
}

// RotateStreamKey replaces the user's stream key unconditionally. A worker
// still running under the old key keeps running until explicitly stopped;
// its output directory is orphaned, not migrated.
func (s *Storage) RotateStreamKey(userID string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.data.Users[userID]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return s.assignStreamKeyLocked(user)
}

func (s *Storage) assignStreamKeyLocked(user models.User) (models.User, error) {
	key, err := generateStreamKey()
	if err != nil {
		return models.User{}, err
	}
	user.StreamKey = key
	updated := cloneDataset(s.data)
	updated.Users[user.ID] = user
	if err := s.persistDataset(updated); err != nil {
		return models.User{}, err
	}
	s.data = updated
	return user, nil
}

// FindUserByStreamKey resolves the account that owns the provided key.
func (s *Storage) FindUserByStreamKey(streamKey string) (models.User, bool) {
	if streamKey == "" {
		return models.User{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.data.Users {
		if user.StreamKey == streamKey {
			return user, true
		}
	}
	return models.User{}, false
}

// UpsertStreamMetadata creates or updates the catalog row for a stream key.
// OwnerID is bound on create only.
func (s *Storage) UpsertStreamMetadata(params UpsertStreamParams) (models.StreamMetadata, error) {
	if strings.TrimSpace(params.StreamKey) == "" {
		return models.StreamMetadata{}, fmt.Errorf("stream key is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meta, exists := s.data.Streams[params.StreamKey]
	if !exists {
		meta = models.StreamMetadata{
			StreamKey: params.StreamKey,
			OwnerID:   params.OwnerID,
		}
	}
	meta.CategoryID = strings.TrimSpace(params.CategoryID)
	meta.DisplayName = strings.TrimSpace(params.DisplayName)
	meta.UpdatedAt = time.Now().UTC()

	updated := cloneDataset(s.data)
	updated.Streams[params.StreamKey] = meta
	if err := s.persistDataset(updated); err != nil {
		return models.StreamMetadata{}, err
	}
	s.data = updated
	return meta, nil
}

// GetStreamMetadata returns the catalog row for the stream key, if any.
func (s *Storage) GetStreamMetadata(streamKey string) (models.StreamMetadata, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.data.Streams[streamKey]
	return meta, ok, nil
}

// ListCategories returns the categories sorted by name.
func (s *Storage) ListCategories() ([]models.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	categories := make([]models.Category, 0, len(s.data.Categories))
	for _, category := range s.data.Categories {
		categories = append(categories, category)
	}
	sort.Slice(categories, func(i, j int) bool {
		return categories[i].Name < categories[j].Name
	})
	return categories, nil
}

// GetCategory returns the category with the provided id.
func (s *Storage) GetCategory(id string) (models.Category, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	category, ok := s.data.Categories[id]
	return category, ok, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
