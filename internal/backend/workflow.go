package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/servicedesk-io/sla-engine/internal/models"
)

// Timer command actions understood by the external workflow engine.
const (
	TimerActionSchedule = "schedule"
	TimerActionCancel   = "cancel"
)

// TimerCommand asks the workflow engine to arm or disarm a durable timer for
// one (ticket, SLA type) deadline. The engine calls back into
// OrchestratedBackend.HandleTimerFired when the timer elapses.
type TimerCommand struct {
	Action   string         `json:"action"`
	TenantID string         `json:"tenant_id"`
	TicketID int64          `json:"ticket_id"`
	SlaType  models.SlaType `json:"sla_type,omitempty"`
	FireAt   *time.Time     `json:"fire_at,omitempty"`
}

// WorkflowClient publishes durable-timer commands to the workflow engine.
type WorkflowClient interface {
	Publish(ctx context.Context, cmd TimerCommand) error
}

// RedisWorkflowClient publishes timer commands onto a Redis stream consumed
// by the workflow engine.
type RedisWorkflowClient struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisWorkflowClient wraps an existing Redis client. Stream entries are
// trimmed to maxLen (approximate); zero disables trimming.
func NewRedisWorkflowClient(client *redis.Client, stream string, maxLen int64) *RedisWorkflowClient {
	return &RedisWorkflowClient{client: client, stream: stream, maxLen: maxLen}
}

// Publish appends the command to the stream as a single JSON payload field.
func (c *RedisWorkflowClient) Publish(ctx context.Context, cmd TimerCommand) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode timer command: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: c.stream,
		Values: map[string]interface{}{"command": payload},
	}
	if c.maxLen > 0 {
		args.MaxLen = c.maxLen
		args.Approx = true
	}
	if err := c.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("publish timer command: %w", err)
	}
	return nil
}

// MemoryWorkflowClient records commands in memory, for tests.
type MemoryWorkflowClient struct {
	mu       sync.Mutex
	commands []TimerCommand
	// FailNext makes the next Publish call fail once.
	FailNext error
}

// NewMemoryWorkflowClient creates an empty in-memory client.
func NewMemoryWorkflowClient() *MemoryWorkflowClient {
	return &MemoryWorkflowClient{}
}

// Publish records the command.
func (c *MemoryWorkflowClient) Publish(ctx context.Context, cmd TimerCommand) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailNext != nil {
		err := c.FailNext
		c.FailNext = nil
		return err
	}
	c.commands = append(c.commands, cmd)
	return nil
}

// Commands returns a copy of everything published so far.
func (c *MemoryWorkflowClient) Commands() []TimerCommand {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]TimerCommand(nil), c.commands...)
}
