package wire

import (
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipkeep/internal/events"
	"go.klb.dev/clipkeep/internal/message"
)

func TestReadWrite(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	ca, cb := New(a), New(b)

	go func() {
		_ = ca.WriteMsg(&message.Message{Type: message.TypeEvent, Event: &events.Event{Topic: events.TopicCaptured, ClipID: 7}})
	}()

	msg, err := cb.ReadMsg()
	require.NoError(t, err)
	assert.Equal(t, message.TypeEvent, msg.Type)
	require.NotNil(t, msg.Event)
	assert.Equal(t, uint(7), msg.Event.ClipID)
}

func TestReadRejectsOversizedLine(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	go func() {
		_, _ = a.Write([]byte(strings.Repeat("x", MaxMessageSize+10) + "\n"))
	}()

	_, err := New(b).ReadMsg()
	assert.ErrorContains(t, err, "too large")
}

func TestDecodeRequiresType(t *testing.T) {
	_, err := message.Decode([]byte(`{"count":1}`))
	assert.Error(t, err)

	m, err := message.Decode([]byte(`{"type":"ERROR","error":"boom"}`))
	require.NoError(t, err)
	assert.EqualError(t, m.Err(), "daemon: boom")
}
