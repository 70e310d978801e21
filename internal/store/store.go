// Package store provides storage backends for ZapDesk.
//
// It implements the persistence gateway for training examples and per-user
// context, with in-memory, SQLite and PostgreSQL backends.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zapdesk/zapdesk/internal/models"
)

// Store defines the persistence gateway used by the decision engine.
// All operations are synchronous single-row operations.
type Store interface {
	// GetTrainingData returns approved training examples ordered by creation time.
	GetTrainingData() ([]models.TrainingExample, error)
	// GetAllTrainingData returns every training example, approved or not.
	GetAllTrainingData() ([]models.TrainingExample, error)
	// SaveTrainingData persists a new training example and returns its ID.
	SaveTrainingData(input, output string, confidence float64, approved bool) (string, error)
	// UpdateTrainingUsage increments the usage counter of a training example.
	UpdateTrainingUsage(id string) error
	// ApproveTrainingExample marks a training example as approved.
	ApproveTrainingExample(id string) error
	// DeleteTrainingExample removes a training example.
	DeleteTrainingExample(id string) error
	// GetUserContext returns the saved context fields for an identity.
	GetUserContext(identity string) (map[string]string, error)
	// SaveUserContext merges the given fields into the identity's saved context.
	SaveUserContext(identity string, fields map[string]string) error
	// Close releases any underlying resources.
	Close() error
}

// InMemoryStore is a simple in-memory store for tests and development.
type InMemoryStore struct {
	mu       sync.RWMutex
	training map[string]models.TrainingExample
	contexts map[string]map[string]string
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		training: make(map[string]models.TrainingExample),
		contexts: make(map[string]map[string]string),
	}
}

func (s *InMemoryStore) GetTrainingData() ([]models.TrainingExample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.TrainingExample
	for _, ex := range s.training {
		if ex.Approved {
			out = append(out, ex)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) GetAllTrainingData() ([]models.TrainingExample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.TrainingExample, 0, len(s.training))
	for _, ex := range s.training {
		out = append(out, ex)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) SaveTrainingData(input, output string, confidence float64, approved bool) (string, error) {
	ex := models.TrainingExample{
		ID:         uuid.NewString(),
		Input:      input,
		Output:     output,
		Confidence: confidence,
		Approved:   approved,
		CreatedAt:  time.Now(),
	}
	if err := ex.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.training[ex.ID] = ex
	return ex.ID, nil
}

func (s *InMemoryStore) UpdateTrainingUsage(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ex, ok := s.training[id]
	if !ok {
		return ErrNotFound
	}
	ex.UsageCount++
	s.training[id] = ex
	return nil
}

func (s *InMemoryStore) ApproveTrainingExample(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ex, ok := s.training[id]
	if !ok {
		return ErrNotFound
	}
	ex.Approved = true
	s.training[id] = ex
	return nil
}

func (s *InMemoryStore) DeleteTrainingExample(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.training[id]; !ok {
		return ErrNotFound
	}
	delete(s.training, id)
	return nil
}

func (s *InMemoryStore) GetUserContext(identity string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	saved, ok := s.contexts[identity]
	if !ok {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(saved))
	for k, v := range saved {
		out[k] = v
	}
	return out, nil
}

func (s *InMemoryStore) SaveUserContext(identity string, fields map[string]string) error {
	if identity == "" {
		return models.ErrEmptyIdentity
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	saved, ok := s.contexts[identity]
	if !ok {
		saved = make(map[string]string)
		s.contexts[identity] = saved
	}
	for k, v := range fields {
		saved[k] = v
	}
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
