package nsqd

import (
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/flowmq/flowmq/protocol"
)

func newTestTopic(t *testing.T, name string) *Topic {
	t.Helper()
	dir, err := os.MkdirTemp("", "nsqd-topic-test-")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	topic, err := newTopic(name, false, dir, 10, 1024*1024, 1, 1024*1024, zap.NewNop())
	if err != nil {
		t.Fatalf("newTopic: %v", err)
	}
	t.Cleanup(func() { topic.Close() })
	return topic
}

func TestTopicFansOutToAllChannels(t *testing.T) {
	topic := newTestTopic(t, "orders")

	chanA, err := topic.GetChannel("a")
	if err != nil {
		t.Fatalf("GetChannel a: %v", err)
	}
	chanB, err := topic.GetChannel("b")
	if err != nil {
		t.Fatalf("GetChannel b: %v", err)
	}

	if err := topic.PutMessage(protocol.NewMessage([]byte("hello"))); err != nil {
		t.Fatalf("PutMessage: %v", err)
	}

	deadline := time.After(2 * time.Second)
	var gotA, gotB bool
	for !gotA || !gotB {
		select {
		case m := <-chanA.clientMsgChan:
			if string(m.Body) != "hello" {
				t.Fatalf("chanA got %q, want hello", m.Body)
			}
			gotA = true
		case m := <-chanB.clientMsgChan:
			if string(m.Body) != "hello" {
				t.Fatalf("chanB got %q, want hello", m.Body)
			}
			gotB = true
		case <-deadline:
			t.Fatalf("timed out: gotA=%v gotB=%v", gotA, gotB)
		}
	}
}

func TestTopicPauseAccumulatesThenDeliversOnUnpause(t *testing.T) {
	topic := newTestTopic(t, "orders")

	ch, err := topic.GetChannel("a")
	if err != nil {
		t.Fatalf("GetChannel a: %v", err)
	}

	topic.Pause()
	if err := topic.PutMessage(protocol.NewMessage([]byte("hello"))); err != nil {
		t.Fatalf("PutMessage: %v", err)
	}

	select {
	case m := <-ch.clientMsgChan:
		t.Fatalf("message delivered while paused: %q", m.Body)
	case <-time.After(150 * time.Millisecond):
	}

	topic.Unpause()

	select {
	case m := <-ch.clientMsgChan:
		if string(m.Body) != "hello" {
			t.Fatalf("delivered body = %q, want hello", m.Body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message published during pause was never delivered after unpause")
	}
}

func TestEphemeralTopicUsesDummyQueue(t *testing.T) {
	dir, err := os.MkdirTemp("", "nsqd-topic-test-")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)

	topic, err := newTopic("tmp#ephemeral", true, dir, 10, 1024*1024, 1, 1024*1024, zap.NewNop())
	if err != nil {
		t.Fatalf("newTopic: %v", err)
	}
	defer topic.Close()

	if topic.backlog != nil {
		t.Fatal("ephemeral topic should not have a disk-backed backlog")
	}
	if err := topic.PutMessage(protocol.NewMessage([]byte("x"))); err != nil {
		t.Fatalf("PutMessage: %v", err)
	}
}

func TestValidateNameRules(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
	}{
		{"orders", true},
		{"orders.events_1-2", true},
		{"orders#ephemeral", true},
		{"", false},
		{"has a space", false},
		{"semi;colon", false},
	}
	for _, c := range cases {
		err := validateName(c.name)
		if c.ok && err != nil {
			t.Errorf("validateName(%q) = %v, want nil", c.name, err)
		}
		if !c.ok && err == nil {
			t.Errorf("validateName(%q) = nil, want error", c.name)
		}
	}
}
