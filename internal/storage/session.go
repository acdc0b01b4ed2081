package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/maltedev/supplier-scraper/internal/models"
	"github.com/maltedev/supplier-scraper/internal/rules"
	"github.com/redis/go-redis/v9"
)

// SessionDocument is the saved form of a working session.
type SessionDocument struct {
	Rows           []models.InputRow `json:"rows"`
	Results        []models.Record   `json:"results"`
	RuleSet        *rules.RuleSet    `json:"ruleSet"`
	ActiveSupplier string            `json:"activeSupplier"`
	ProxyTemplate  string            `json:"proxyTemplate,omitempty"`
	SavedAt        time.Time         `json:"savedAt,omitempty"`
}

// NewSessionDocument returns an empty session with the built-in rule set.
func NewSessionDocument() *SessionDocument {
	d := &SessionDocument{}
	d.applyDefaults()
	return d
}

// DecodeSession parses a saved session. Missing keys fall back to empty
// collections, the built-in rule set and the default supplier.
func DecodeSession(data []byte) (*SessionDocument, error) {
	var d SessionDocument
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse session: %w", err)
	}
	d.applyDefaults()
	return &d, nil
}

func (d *SessionDocument) applyDefaults() {
	if d.Rows == nil {
		d.Rows = []models.InputRow{}
	}
	if d.Results == nil {
		d.Results = []models.Record{}
	}
	if d.RuleSet == nil || len(d.RuleSet.Suppliers) == 0 {
		d.RuleSet = rules.Default()
	}
	if d.ActiveSupplier == "" {
		d.ActiveSupplier = rules.DefaultSupplier
	}
}

// SessionStore persists a whole working session.
type SessionStore interface {
	Save(ctx context.Context, doc *SessionDocument) error
	Load(ctx context.Context) (*SessionDocument, error)
}

// FileSessionStore keeps the session as a JSON file.
type FileSessionStore struct {
	filename string
}

func NewFileSessionStore(filename string) *FileSessionStore {
	return &FileSessionStore{filename: filename}
}

func (s *FileSessionStore) Save(ctx context.Context, doc *SessionDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	if dir := filepath.Dir(s.filename); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create session dir: %w", err)
		}
	}

	// Write to temp file first for atomicity
	tmpFile := s.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return fmt.Errorf("write session: %w", err)
	}

	return os.Rename(tmpFile, s.filename)
}

// Load returns defaults when the file does not exist yet.
func (s *FileSessionStore) Load(ctx context.Context) (*SessionDocument, error) {
	data, err := os.ReadFile(s.filename)
	if errors.Is(err, os.ErrNotExist) {
		return NewSessionDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	return DecodeSession(data)
}

// RedisClient is the subset of *redis.Client used for sessions (for testing).
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisSessionStore keeps the session document under a single Redis key.
type RedisSessionStore struct {
	client RedisClient
	key    string
	ttl    time.Duration
}

func NewRedisSessionStore(client RedisClient, key string, ttl time.Duration) *RedisSessionStore {
	if key == "" {
		key = "supplier-scraper:session"
	}
	return &RedisSessionStore{client: client, key: key, ttl: ttl}
}

func (s *RedisSessionStore) Save(ctx context.Context, doc *SessionDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session to redis: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Load(ctx context.Context) (*SessionDocument, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return NewSessionDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session from redis: %w", err)
	}
	return DecodeSession(data)
}
