// Package redis provides the Redis-backed run queue handed to the
// downstream run executor.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/virtbench/virtbench/internal/config"
	"github.com/virtbench/virtbench/internal/scheduler"
)

// ErrQueueEmpty indicates there is no queued run to hand out.
var ErrQueueEmpty = errors.New("queue is empty")

// Queue holds one FIFO run queue per scheduling target, plus a priority
// table that weights queue selection in favor of high-priority subjects.
type Queue struct {
	client       *redis.Client
	logger       *zap.Logger
	keyPrefix    string
	eventChannel string
}

// QueuedRun is one run as it sits in a queue.
type QueuedRun struct {
	RunID        string    `json:"run_id"`
	Queue        string    `json:"queue"`
	Host         string    `json:"host"`
	Precondition []byte    `json:"precondition"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}

// Event is published on the event channel whenever a run changes hands.
type Event struct {
	Type      string    `json:"type"` // "run.enqueued", "run.dequeued"
	RunID     string    `json:"run_id"`
	Queue     string    `json:"queue"`
	Timestamp time.Time `json:"timestamp"`
}

// NewQueue creates a new Redis run queue connection.
func NewQueue(cfg config.RedisConfig, qcfg config.QueueConfig, logger *zap.Logger) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis", zap.String("addr", cfg.Address()))

	return &Queue{
		client:       client,
		logger:       logger.With(zap.String("component", "queue")),
		keyPrefix:    qcfg.KeyPrefix,
		eventChannel: qcfg.EventChannel,
	}, nil
}

// Close closes the Redis connection.
func (q *Queue) Close() error {
	return q.client.Close()
}

// Health checks if Redis is reachable.
func (q *Queue) Health(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// QueueName returns the queue a run belongs to. Subject-keyed runs share a
// queue per (subject, bitness); host-keyed runs get a queue per host.
func QueueName(run *scheduler.Run) string {
	if run.Subject != nil {
		return fmt.Sprintf("subject:%s-%s", run.Subject.Name, run.Subject.Bitness)
	}
	return "host:" + run.Host.Name
}

func (q *Queue) queueKey(name string) string {
	return q.keyPrefix + ":" + name
}

func (q *Queue) priorityKey() string {
	return q.keyPrefix + ":priority"
}

// Enqueue appends a planned run with its precondition payload to its queue
// and publishes a run.enqueued event.
func (q *Queue) Enqueue(ctx context.Context, run *scheduler.Run, precondition []byte) error {
	name := QueueName(run)
	item := QueuedRun{
		RunID:        run.ID,
		Queue:        name,
		Host:         run.Host.Name,
		Precondition: precondition,
		EnqueuedAt:   time.Now(),
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal queued run: %w", err)
	}

	pipe := q.client.Pipeline()
	pipe.ZAdd(ctx, q.queueKey(name), redis.Z{
		Score:  float64(item.EnqueuedAt.UnixNano()),
		Member: data,
	})
	if run.Subject != nil {
		pipe.HSet(ctx, q.priorityKey(), name, run.Subject.Priority)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue run: %w", err)
	}

	q.publish(ctx, Event{Type: "run.enqueued", RunID: run.ID, Queue: name})
	q.logger.Info("Enqueued run",
		zap.String("run_id", run.ID),
		zap.String("queue", name),
		zap.Int("guests", len(run.Guests)),
	)
	return nil
}

// Dequeue pops the oldest run from the named queue.
func (q *Queue) Dequeue(ctx context.Context, name string) (*QueuedRun, error) {
	members, err := q.client.ZPopMin(ctx, q.queueKey(name), 1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to pop run: %w", err)
	}
	if len(members) == 0 {
		return nil, ErrQueueEmpty
	}

	var item QueuedRun
	if err := json.Unmarshal([]byte(members[0].Member.(string)), &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal queued run: %w", err)
	}

	q.publish(ctx, Event{Type: "run.dequeued", RunID: item.RunID, Queue: name})
	return &item, nil
}

// PickQueue selects one non-empty subject queue at random, weighted by
// subject priority, so high-priority subjects get proportionally more of
// the executor's bandwidth.
func (q *Queue) PickQueue(ctx context.Context, rng *rand.Rand) (string, error) {
	priorities, err := q.client.HGetAll(ctx, q.priorityKey()).Result()
	if err != nil {
		return "", fmt.Errorf("failed to read queue priorities: %w", err)
	}

	type weighted struct {
		name   string
		weight int
	}
	var queues []weighted
	total := 0
	for name, p := range priorities {
		pending, err := q.client.ZCard(ctx, q.queueKey(name)).Result()
		if err != nil {
			return "", fmt.Errorf("failed to check queue length: %w", err)
		}
		if pending == 0 {
			continue
		}
		weight, err := strconv.Atoi(p)
		if err != nil || weight <= 0 {
			weight = 1
		}
		queues = append(queues, weighted{name: name, weight: weight})
		total += weight
	}
	if len(queues) == 0 {
		return "", ErrQueueEmpty
	}

	n := rng.Intn(total)
	for _, w := range queues {
		n -= w.weight
		if n < 0 {
			return w.name, nil
		}
	}
	return queues[len(queues)-1].name, nil
}

// Pending returns the number of queued runs in the named queue.
func (q *Queue) Pending(ctx context.Context, name string) (int64, error) {
	return q.client.ZCard(ctx, q.queueKey(name)).Result()
}

// Subscribe subscribes to run events and returns a message channel.
func (q *Queue) Subscribe(ctx context.Context) <-chan Event {
	pubsub := q.client.Subscribe(ctx, q.eventChannel)
	events := make(chan Event, 100)

	go func() {
		defer close(events)
		defer pubsub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-pubsub.Channel():
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					q.logger.Warn("Failed to unmarshal event", zap.Error(err))
					continue
				}
				events <- event
			}
		}
	}()

	return events
}

func (q *Queue) publish(ctx context.Context, event Event) {
	event.Timestamp = time.Now()
	data, err := json.Marshal(event)
	if err != nil {
		q.logger.Warn("Failed to marshal event", zap.Error(err))
		return
	}
	if err := q.client.Publish(ctx, q.eventChannel, data).Err(); err != nil {
		q.logger.Warn("Failed to publish event", zap.String("type", event.Type), zap.Error(err))
	}
}
