package threshold

import (
	"context"
	"fmt"
	"sync"

	"github.com/servicedesk-io/sla-engine/internal/models"
)

// BoardDirectory resolves a board's manager user. The surrounding application
// owns board membership; the engine only needs the one lookup. A missing
// manager is models.ErrNotFound and the recipient is skipped.
type BoardDirectory interface {
	BoardManager(ctx context.Context, tenantID string, boardID int64) (int64, error)
}

// BoardDirectoryFunc adapts a function to the BoardDirectory interface.
type BoardDirectoryFunc func(ctx context.Context, tenantID string, boardID int64) (int64, error)

// BoardManager implements BoardDirectory.
func (f BoardDirectoryFunc) BoardManager(ctx context.Context, tenantID string, boardID int64) (int64, error) {
	return f(ctx, tenantID, boardID)
}

// MemoryBoardDirectory is a map-backed directory for tests and embedding.
type MemoryBoardDirectory struct {
	mu       sync.RWMutex
	managers map[string]int64
}

// NewMemoryBoardDirectory creates an empty directory.
func NewMemoryBoardDirectory() *MemoryBoardDirectory {
	return &MemoryBoardDirectory{managers: make(map[string]int64)}
}

// SetManager assigns a manager user to a board.
func (d *MemoryBoardDirectory) SetManager(tenantID string, boardID, userID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.managers[boardKey(tenantID, boardID)] = userID
}

// BoardManager implements BoardDirectory.
func (d *MemoryBoardDirectory) BoardManager(ctx context.Context, tenantID string, boardID int64) (int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	userID, ok := d.managers[boardKey(tenantID, boardID)]
	if !ok {
		return 0, fmt.Errorf("board %d manager: %w", boardID, models.ErrNotFound)
	}
	return userID, nil
}

func boardKey(tenantID string, boardID int64) string {
	return fmt.Sprintf("%s|%d", tenantID, boardID)
}
