package lookup

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLookupUnionsAcrossRegistries(t *testing.T) {
	srvA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(lookupResponse{
			Channels:  []string{"billing"},
			Producers: []Producer{{BroadcastAddress: "broker-1", TCPPort: 4150}},
		})
	}))
	defer srvA.Close()

	srvB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(lookupResponse{
			Channels:  []string{"shipping"},
			Producers: []Producer{{BroadcastAddress: "broker-2", TCPPort: 4150}},
		})
	}))
	defer srvB.Close()

	c := New([]string{srvA.Listener.Addr().String(), srvB.Listener.Addr().String()})
	producers, channels, err := c.Lookup("orders")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(producers) != 2 {
		t.Fatalf("got %d producers, want 2", len(producers))
	}
	if len(channels) != 2 {
		t.Fatalf("got %d channels, want 2", len(channels))
	}
}

func TestLookupToleratesOneRegistryFailing(t *testing.T) {
	srvA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srvA.Close()

	srvB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(lookupResponse{
			Producers: []Producer{{BroadcastAddress: "broker-2", TCPPort: 4150}},
		})
	}))
	defer srvB.Close()

	c := New([]string{srvA.Listener.Addr().String(), srvB.Listener.Addr().String()})
	producers, _, err := c.Lookup("orders")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(producers) != 1 {
		t.Fatalf("got %d producers, want 1", len(producers))
	}
}

func TestLookupFailsWhenAllRegistriesUnreachable(t *testing.T) {
	c := New([]string{"127.0.0.1:1"})
	if _, _, err := c.Lookup("orders"); err == nil {
		t.Fatal("expected error when no registry is reachable")
	}
}
