package watch

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/clirelay/internal/events"
)

func intptr(i int) *int { return &i }

// publish round-trips payloads through a real hub so events carry the same
// JSON the gateway streams.
func publish(h *events.Hub, typ string, data any) events.Event {
	return h.Publish(typ, data)
}

func TestTrackerLifecycle(t *testing.T) {
	h := events.NewHub(10)
	tr := newTracker()

	tr.apply(publish(h, events.TypeInvocationStarted, events.InvocationStarted{
		InvocationID: "inv-1", CommandID: "echo", Args: []string{"hi"}, StartedAt: time.Now(),
	}))
	tr.apply(publish(h, events.TypeInvocationStarted, events.InvocationStarted{
		InvocationID: "inv-2", CommandID: "echo",
	}))

	require.Len(t, tr.inFlight, 2)
	assert.Equal(t, 2, tr.commands["echo"].Running)

	tr.apply(publish(h, events.TypeInvocationCompleted, events.InvocationFinished{
		InvocationID: "inv-1", CommandID: "echo", Status: "succeeded", ExitCode: intptr(0), DurationMS: 12,
	}))
	tr.apply(publish(h, events.TypeInvocationFailed, events.InvocationFinished{
		InvocationID: "inv-2", CommandID: "echo", Status: "spawn_failed", Error: "not found",
	}))
	tr.apply(publish(h, events.TypeInvocationRejected, events.InvocationRejected{
		CommandID: "echo", Reason: "busy",
	}))

	c := tr.commands["echo"]
	assert.Empty(t, tr.inFlight)
	assert.Equal(t, 0, c.Running)
	assert.Equal(t, 2, c.Runs)
	assert.Equal(t, 1, c.Failures)
	assert.Equal(t, 1, c.Rejected)
	assert.Equal(t, "spawn_failed", c.LastStatus)
	assert.Nil(t, c.LastExitCode)
}

func TestTrackerIgnoresUnknownAndMalformed(t *testing.T) {
	tr := newTracker()
	tr.apply(events.Event{Type: "other.thing", Data: []byte(`{"command_id":"x"}`)})
	tr.apply(events.Event{Type: events.TypeInvocationStarted, Data: []byte(`not json`)})
	tr.apply(events.Event{Type: events.TypeInvocationCompleted, Data: []byte(`{}`)})
	assert.Empty(t, tr.commands)
	assert.Empty(t, tr.inFlight)
}

func TestCompletionWithoutStartDoesNotUnderflow(t *testing.T) {
	h := events.NewHub(10)
	tr := newTracker()
	tr.apply(publish(h, events.TypeInvocationCompleted, events.InvocationFinished{
		InvocationID: "late", CommandID: "uptime", Status: "succeeded",
	}))
	assert.Equal(t, 0, tr.commands["uptime"].Running)
	assert.Equal(t, 1, tr.commands["uptime"].Runs)
}

func TestReadSSE(t *testing.T) {
	stream := strings.Join([]string{
		": keep-alive",
		"",
		"id: 7",
		"event: invocation.started",
		`data: {"command_id":"echo"}`,
		"",
		"id: 8",
		"data: line1",
		"data: line2",
		"",
		"",
	}, "\n")

	var got []events.Event
	readSSE(strings.NewReader(stream), func(e events.Event) { got = append(got, e) })

	require.Len(t, got, 2)
	assert.Equal(t, int64(7), got[0].ID)
	assert.Equal(t, events.TypeInvocationStarted, got[0].Type)
	assert.JSONEq(t, `{"command_id":"echo"}`, string(got[0].Data))
	assert.Equal(t, int64(8), got[1].ID)
	assert.Equal(t, "line1\nline2", string(got[1].Data))
}

func TestExtractEventDesc(t *testing.T) {
	h := events.NewHub(10)
	e := publish(h, events.TypeInvocationCompleted, events.InvocationFinished{
		InvocationID: "0123456789abcdef", CommandID: "grep", Status: "failed", ExitCode: intptr(2), Summary: "no match",
	})
	assert.Equal(t, `[01234567] grep failed exit=2 "no match"`, extractEventDesc(e))

	raw := events.Event{Data: []byte(`{"x":1}`)}
	assert.Equal(t, `{"x":1}`, extractEventDesc(raw))
}

func TestPulseDecay(t *testing.T) {
	var p Pulse
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p.OnEvent(start)
	assert.Equal(t, pulseDots, p.lit)

	p.Decay(start.Add(4 * time.Second))
	assert.Equal(t, 3, p.lit)

	p.Decay(start.Add(time.Minute))
	assert.Equal(t, 0, p.lit)
}

func TestModelUpdateAndView(t *testing.T) {
	m := New("http://127.0.0.1:0")
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	h := events.NewHub(10)
	var model tea.Model = *m
	model, _ = model.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	model, _ = model.Update(eventMsg(publish(h, events.TypeInvocationStarted, events.InvocationStarted{
		InvocationID: "inv-1", CommandID: "uptime", StartedAt: fixed,
	})))
	model, _ = model.Update(healthMsg{Status: "ok", Version: "v9", CommandsLoaded: 3, InFlight: 1})

	got := model.(Model)
	assert.Equal(t, int64(1), got.lastID)
	assert.True(t, got.health.Connected)
	assert.Len(t, got.eventLog, 1)

	view := got.View()
	for _, needle := range []string{"CLIRELAY WATCH", "v9", "COMMANDS", "IN FLIGHT (1)", "uptime", "EVENT STREAM"} {
		assert.Contains(t, view, needle)
	}

	model, cmd := got.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	_ = model
}

func TestModelDisconnectKeepsLastID(t *testing.T) {
	m := New("http://127.0.0.1:0")
	m.lastID = 42

	model, cmd := m.Update(sseDisconnectedMsg{})
	require.NotNil(t, cmd)
	got := model.(Model)
	assert.False(t, got.health.Connected)
	assert.Contains(t, got.lastError, "reconnecting")
	assert.Equal(t, int64(42), got.lastID)
}
