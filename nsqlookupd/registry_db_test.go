package nsqlookupd

import (
	"testing"
	"time"
)

func TestAddAndFindTopicProducer(t *testing.T) {
	db := NewRegistrationDB(time.Minute, time.Minute)
	p := &Producer{BroadcastAddress: "broker-1", TCPPort: 4150, HTTPPort: 4151}
	db.AddTopicProducer("orders", p)

	found := db.FindProducers("orders", "")
	if len(found) != 1 || found[0].BroadcastAddress != "broker-1" {
		t.Fatalf("FindProducers = %+v, want [broker-1]", found)
	}
}

func TestChannelRegistrationImpliesTopic(t *testing.T) {
	db := NewRegistrationDB(time.Minute, time.Minute)
	p := &Producer{BroadcastAddress: "broker-1"}
	db.AddChannelProducer("orders", "billing", p)

	if len(db.FindProducers("orders", "")) != 1 {
		t.Fatal("registering a channel should imply the topic registration")
	}
	if len(db.FindProducers("orders", "billing")) != 1 {
		t.Fatal("channel registration not found")
	}
}

func TestTombstoneHidesProducerFromTopicLookup(t *testing.T) {
	db := NewRegistrationDB(100*time.Millisecond, time.Minute)
	p := &Producer{BroadcastAddress: "broker-1"}
	db.AddTopicProducer("orders", p)

	db.TombstoneTopicProducer("orders", "broker-1")
	if len(db.FindProducers("orders", "")) != 0 {
		t.Fatal("tombstoned producer should be hidden from topic lookup")
	}

	time.Sleep(150 * time.Millisecond)
	if len(db.FindProducers("orders", "")) != 1 {
		t.Fatal("expired tombstone should no longer hide producer")
	}
}

func TestExpireInactiveRemovesStaleProducers(t *testing.T) {
	db := NewRegistrationDB(time.Minute, 50*time.Millisecond)
	p := &Producer{BroadcastAddress: "broker-1"}
	db.AddTopicProducer("orders", p)

	time.Sleep(100 * time.Millisecond)
	expired := db.ExpireInactive()
	if len(expired) != 1 || expired[0] != "broker-1" {
		t.Fatalf("ExpireInactive = %v, want [broker-1]", expired)
	}
	if len(db.FindProducers("orders", "")) != 0 {
		t.Fatal("expired producer should no longer be found")
	}
}

func TestTouchRefreshesLastSeen(t *testing.T) {
	db := NewRegistrationDB(time.Minute, 80*time.Millisecond)
	p := &Producer{BroadcastAddress: "broker-1"}
	db.AddTopicProducer("orders", p)

	time.Sleep(50 * time.Millisecond)
	db.Touch("broker-1")
	time.Sleep(50 * time.Millisecond)

	if len(db.FindProducers("orders", "")) != 1 {
		t.Fatal("touched producer should still be considered active")
	}
}

func TestIndexProducerFoundByRemoteAddr(t *testing.T) {
	db := NewRegistrationDB(time.Minute, time.Minute)
	p := &Producer{BroadcastAddress: "broker-1", RemoteAddress: "10.0.0.1:51000"}
	db.IndexProducer(p)

	found := db.LookupByRemoteAddr("10.0.0.1:51000")
	if found == nil || found.BroadcastAddress != "broker-1" {
		t.Fatalf("LookupByRemoteAddr = %+v, want broker-1", found)
	}
	if db.LookupByRemoteAddr("10.0.0.1:51999") != nil {
		t.Fatal("unrelated remote address should not resolve to a producer")
	}
}

func TestRemoveProducerClearsIndex(t *testing.T) {
	db := NewRegistrationDB(time.Minute, time.Minute)
	p := &Producer{BroadcastAddress: "broker-1", RemoteAddress: "10.0.0.1:51000"}
	db.AddTopicProducer("orders", p)
	db.IndexProducer(p)

	db.RemoveProducer("broker-1")
	if db.LookupByRemoteAddr("10.0.0.1:51000") != nil {
		t.Fatal("removed producer should no longer be indexed by remote address")
	}
}

func TestRemoveProducerClearsAllRegistrations(t *testing.T) {
	db := NewRegistrationDB(time.Minute, time.Minute)
	p := &Producer{BroadcastAddress: "broker-1"}
	db.AddTopicProducer("orders", p)
	db.AddChannelProducer("orders", "billing", p)
	db.AddTopicProducer("payments", p)

	db.RemoveProducer("broker-1")

	if len(db.FindProducers("orders", "")) != 0 {
		t.Fatal("orders topic registration should be gone")
	}
	if len(db.FindProducers("orders", "billing")) != 0 {
		t.Fatal("orders/billing channel registration should be gone")
	}
	if len(db.FindProducers("payments", "")) != 0 {
		t.Fatal("payments topic registration should be gone")
	}
}
