package nsqd

import (
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/flowmq/flowmq/protocol"
)

func newTestChannel(t *testing.T, topic, name string) *Channel {
	t.Helper()
	dir, err := os.MkdirTemp("", "nsqd-channel-test-")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	ch, err := newChannel(topic, name, false, dir, 10, 1024*1024, 1, 1024*1024, zap.NewNop())
	if err != nil {
		t.Fatalf("newChannel: %v", err)
	}
	t.Cleanup(func() { ch.Close() })
	return ch
}

func TestChannelRequeueAfterTimeout(t *testing.T) {
	ch := newTestChannel(t, "topic", "chan")

	m := protocol.NewMessage([]byte("payload"))
	if err := ch.PutMessage(m); err != nil {
		t.Fatalf("PutMessage: %v", err)
	}

	var delivered *protocol.Message
	select {
	case delivered = <-ch.clientMsgChan:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	ch.StartInFlight("client-1", delivered, 30*time.Millisecond)

	// No FIN/TOUCH arrives; the in-flight timeout should fire and
	// requeue the message with its attempt count incremented.
	select {
	case redelivered := <-ch.clientMsgChan:
		if redelivered.ID != m.ID {
			t.Fatalf("redelivered id %s, want %s", redelivered.ID, m.ID)
		}
		if redelivered.Attempts != 2 {
			t.Fatalf("redelivered attempts = %d, want 2", redelivered.Attempts)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for timeout-driven redelivery")
	}
}

func TestChannelFinishRemovesInFlight(t *testing.T) {
	ch := newTestChannel(t, "topic", "chan")

	m := protocol.NewMessage([]byte("payload"))
	ch.StartInFlight("client-1", m, time.Second)

	if err := ch.FinishMessage("client-1", m.ID); err != nil {
		t.Fatalf("FinishMessage: %v", err)
	}
	if err := ch.FinishMessage("client-1", m.ID); err == nil {
		t.Fatal("second FinishMessage should fail: already finished")
	}
}

func TestChannelTouchDoesNotResetAttempts(t *testing.T) {
	ch := newTestChannel(t, "topic", "chan")

	m := protocol.NewMessage([]byte("payload"))
	m.Attempts = 2
	ch.StartInFlight("client-1", m, 50*time.Millisecond)

	if err := ch.TouchMessage("client-1", m.ID, 200*time.Millisecond); err != nil {
		t.Fatalf("TouchMessage: %v", err)
	}
	// Give the original (pre-touch) deadline a chance to have fired if
	// Touch had not taken effect.
	time.Sleep(100 * time.Millisecond)

	select {
	case redelivered := <-ch.clientMsgChan:
		t.Fatalf("message was redelivered despite touch: attempts=%d", redelivered.Attempts)
	default:
	}
	if m.Attempts != 2 {
		t.Fatalf("attempts after touch = %d, want 2", m.Attempts)
	}
}

func TestChannelRemoveClientRequeuesOwnedMessages(t *testing.T) {
	ch := newTestChannel(t, "topic", "chan")

	m := protocol.NewMessage([]byte("payload"))
	ch.StartInFlight("client-1", m, time.Second)

	ch.RemoveClient("client-1")

	select {
	case redelivered := <-ch.clientMsgChan:
		if redelivered.ID != m.ID {
			t.Fatalf("redelivered id %s, want %s", redelivered.ID, m.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for requeue on client removal")
	}
}

func TestChannelPauseStopsDelivery(t *testing.T) {
	ch := newTestChannel(t, "topic", "chan")
	ch.Pause()

	if err := ch.PutMessage(protocol.NewMessage([]byte("x"))); err != nil {
		t.Fatalf("PutMessage while paused: %v", err)
	}

	select {
	case <-ch.clientMsgChan:
		t.Fatal("message delivered while channel paused")
	case <-time.After(100 * time.Millisecond):
	}

	ch.Unpause()
	select {
	case <-ch.clientMsgChan:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery after unpause")
	}
}
