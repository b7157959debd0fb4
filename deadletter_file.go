package stepsaga

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// FileDeadLetterStore provides a file-based implementation of DeadLetterStore
// that persists each dead letter as a JSON file on disk.
type FileDeadLetterStore struct {
	basePath string
	mu       sync.Mutex // Protects file operations
}

// NewFileDeadLetterStore creates a new file-based store that writes dead
// letters to the specified directory.
func NewFileDeadLetterStore(basePath string) (*FileDeadLetterStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create dead-letter directory: %w", err)
	}

	return &FileDeadLetterStore{
		basePath: basePath,
	}, nil
}

// Put writes the dead letter to a JSON file. The file is written to a
// temporary name first and renamed so readers never see a partial record.
func (f *FileDeadLetterStore) Put(_ context.Context, letter DeadLetter) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(letter, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	filename := f.filename(letter.ID)
	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write dead-letter file: %w", err)
	}
	if err := os.Rename(tmp, filename); err != nil {
		return fmt.Errorf("failed to commit dead-letter file: %w", err)
	}

	return nil
}

// Get reads a dead letter from its JSON file.
func (f *FileDeadLetterStore) Get(_ context.Context, id uuid.UUID) (*DeadLetter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.read(f.filename(id))
}

// List reads every dead letter in the directory, oldest first.
func (f *FileDeadLetterStore) List(_ context.Context) ([]DeadLetter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read dead-letter directory: %w", err)
	}

	letters := make([]DeadLetter, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		letter, err := f.read(filepath.Join(f.basePath, entry.Name()))
		if err != nil {
			return nil, err
		}
		letters = append(letters, *letter)
	}

	sort.Slice(letters, func(i, j int) bool {
		if letters[i].RecordedAt.Equal(letters[j].RecordedAt) {
			return letters[i].ID.String() < letters[j].ID.String()
		}
		return letters[i].RecordedAt.Before(letters[j].RecordedAt)
	})
	return letters, nil
}

// Delete removes the dead-letter file.
func (f *FileDeadLetterStore) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.filename(id)); err != nil {
		if os.IsNotExist(err) {
			// Already deleted, not an error
			return nil
		}
		return fmt.Errorf("failed to delete dead-letter file: %w", err)
	}

	return nil
}

func (f *FileDeadLetterStore) read(filename string) (*DeadLetter, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrDeadLetterNotFound, strings.TrimSuffix(filepath.Base(filename), ".json"))
		}
		return nil, fmt.Errorf("failed to read dead-letter file: %w", err)
	}

	var letter DeadLetter
	if err := json.Unmarshal(data, &letter); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dead letter: %w", err)
	}
	return &letter, nil
}

// filename returns the full path for a dead letter's file.
func (f *FileDeadLetterStore) filename(id uuid.UUID) string {
	return filepath.Join(f.basePath, id.String()+".json")
}
