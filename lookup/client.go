// Package lookup implements the consumer-side half of discovery:
// querying one or more registry addresses for the brokers currently
// hosting a topic and merging the results into a single deduplicated
// view, so a consumer never needs to know which registry answered.
package lookup

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Producer is a broker's address as reported by a registry.
type Producer struct {
	BroadcastAddress string `json:"broadcast_address"`
	TCPPort          int    `json:"tcp_port"`
	HTTPPort         int    `json:"http_port"`
	Version          string `json:"version"`
}

func (p Producer) key() string {
	return fmt.Sprintf("%s:%d", p.BroadcastAddress, p.TCPPort)
}

type lookupResponse struct {
	Channels  []string   `json:"channels"`
	Producers []Producer `json:"producers"`
}

// Client queries a fixed set of registry HTTP addresses.
type Client struct {
	registryAddrs []string
	httpClient    *http.Client
}

// New builds a Client querying the given registry HTTP addresses
// (host:port, no scheme).
func New(registryAddrs []string) *Client {
	return &Client{
		registryAddrs: registryAddrs,
		httpClient:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Lookup queries every configured registry for topic and returns the
// union of producers and channels they report, deduplicated by broker
// address. A registry that fails to answer is skipped rather than
// failing the whole lookup, since any single live registry has enough
// information to proceed.
func (c *Client) Lookup(topic string) ([]Producer, []string, error) {
	var (
		mu        sync.Mutex
		producers = make(map[string]Producer)
		channels  = make(map[string]bool)
		lastErr   error
		succeeded bool
	)

	var wg sync.WaitGroup
	for _, addr := range c.registryAddrs {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			resp, err := c.queryOne(addr, topic)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				lastErr = err
				return
			}
			succeeded = true
			for _, p := range resp.Producers {
				producers[p.key()] = p
			}
			for _, ch := range resp.Channels {
				channels[ch] = true
			}
		}(addr)
	}
	wg.Wait()

	if !succeeded {
		return nil, nil, fmt.Errorf("lookup: no registry answered for topic %q: %w", topic, lastErr)
	}

	outProducers := make([]Producer, 0, len(producers))
	for _, p := range producers {
		outProducers = append(outProducers, p)
	}
	outChannels := make([]string, 0, len(channels))
	for ch := range channels {
		outChannels = append(outChannels, ch)
	}
	return outProducers, outChannels, nil
}

func (c *Client) queryOne(registryAddr, topic string) (*lookupResponse, error) {
	url := fmt.Sprintf("http://%s/lookup?topic=%s", registryAddr, topic)
	resp, err := c.httpClient.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lookup: registry %s returned status %d", registryAddr, resp.StatusCode)
	}
	var out lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("lookup: decode response from %s: %w", registryAddr, err)
	}
	return &out, nil
}
