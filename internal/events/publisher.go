// Package events publishes task progress to NATS.
//
// Every progress report of a run is published to
//
//	{prefix}.tasks.{task_id}.{phase}
//
// so subscribers can follow one task (`storyforge.tasks.<id>.>`) or one
// phase across tasks (`storyforge.tasks.*.done`).
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/storyforge/internal/logging"
	"github.com/fyrsmithlabs/storyforge/internal/orchestrator"
)

// DefaultSubjectPrefix is used when no prefix is configured
const DefaultSubjectPrefix = "storyforge"

// Event is the payload published for each progress report
type Event struct {
	orchestrator.PhaseProgress
	Timestamp time.Time `json:"timestamp"`
}

// Publisher sends progress events to NATS
type Publisher struct {
	nc     *nats.Conn
	prefix string
	owned  bool
	now    func() time.Time
	logger *logging.Logger
}

// Connect dials url and returns a publisher owning the connection
func Connect(url, prefix string, logger *logging.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("storyforge"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	p := NewPublisher(nc, prefix, logger)
	p.owned = true
	return p, nil
}

// NewPublisher wraps an existing connection. The caller keeps ownership.
func NewPublisher(nc *nats.Conn, prefix string, logger *logging.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Publisher{nc: nc, prefix: prefix, now: time.Now, logger: logger.Named("events")}
}

// Subject returns the subject for a task's phase
func (p *Publisher) Subject(taskID string, phase orchestrator.Phase) string {
	return fmt.Sprintf("%s.tasks.%s.%s", p.prefix, taskID, phase)
}

// Publish sends one progress report
func (p *Publisher) Publish(progress orchestrator.PhaseProgress) error {
	if progress.TaskID == "" {
		return errors.New("progress without task id")
	}
	data, err := json.Marshal(Event{PhaseProgress: progress, Timestamp: p.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := p.Subject(progress.TaskID, progress.Phase)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Callback adapts the publisher to an orchestrator progress callback.
// Publish failures are logged and never interrupt the run.
func (p *Publisher) Callback() orchestrator.ProgressCallback {
	return func(progress orchestrator.PhaseProgress) {
		if err := p.Publish(progress); err != nil {
			p.logger.Warn(context.Background(), "progress event dropped",
				zap.String("phase", string(progress.Phase)),
				zap.Error(err))
		}
	}
}

// Close flushes pending events. A connection passed to NewPublisher is
// left open.
func (p *Publisher) Close() error {
	if err := p.nc.Flush(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("flush events: %w", err)
	}
	if p.owned {
		p.nc.Close()
	}
	return nil
}
