package events

import (
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/storyforge/internal/orchestrator"
	"github.com/fyrsmithlabs/storyforge/internal/task"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:           "127.0.0.1",
		Port:           -1, // Random port
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 2048,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func TestPublisher_PublishesToTaskPhaseSubject(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync("storyforge.tasks.abc.>")
	require.NoError(t, err)

	p := NewPublisher(nc, "", nil)
	p.Callback()(orchestrator.PhaseProgress{
		TaskID:  "abc",
		RunID:   "run-1",
		Phase:   orchestrator.PhaseGeneratingFiles,
		Status:  orchestrator.StatusCompleted,
		File:    "Patient.php",
		Outcome: task.OutcomeCodeProduced,
	})
	require.NoError(t, p.Close())

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "storyforge.tasks.abc.generating_files", msg.Subject)

	var ev Event
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, "Patient.php", ev.File)
	assert.Equal(t, task.OutcomeCodeProduced, ev.Outcome)
	assert.Equal(t, "run-1", ev.RunID)
	assert.False(t, ev.Timestamp.IsZero())

	// borrowed connections stay open
	assert.False(t, nc.IsClosed())
}

func TestPublisher_RequiresTaskID(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	err = NewPublisher(nc, "x", nil).Publish(orchestrator.PhaseProgress{Phase: orchestrator.PhaseDone})
	assert.Error(t, err)
}

func TestConnect_OwnsConnection(t *testing.T) {
	server := startTestNATSServer(t)

	p, err := Connect(server.ClientURL(), "custom", nil)
	require.NoError(t, err)
	assert.Equal(t, "custom.tasks.abc.done", p.Subject("abc", orchestrator.PhaseDone))

	require.NoError(t, p.Close())
	assert.True(t, p.nc.IsClosed())
}
