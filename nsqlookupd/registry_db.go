// Package nsqlookupd implements the discovery registry: brokers
// register the topics and channels they host, and consumers query it to
// find which brokers currently serve a given topic. State lives only in
// memory — rebuilt from brokers re-announcing on reconnect — since the
// registry treats itself as a cache of broker-reported truth, never a
// source of it.
package nsqlookupd

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Producer is one broker's identity as seen by the registry: where to
// reach it, and when it was last heard from.
type Producer struct {
	BroadcastAddress string
	RemoteAddress    string
	TCPPort          int
	HTTPPort         int
	Version          string

	registeredAt time.Time
	lastSeenAt   time.Time
}

func (p *Producer) isExpired(inactiveTimeout time.Duration) bool {
	return time.Since(p.lastSeenAt) > inactiveTimeout
}

// registrationKey identifies a distinct (topic) or (topic, channel)
// registration.
type registrationKey struct {
	category string // "topic" or "channel"
	topic    string
	channel  string
}

// RegistrationDB is the in-memory store mapping registrations to the
// producers that have announced them, plus a tombstone set hiding
// producers from lookups without forgetting they exist.
type RegistrationDB struct {
	mu sync.RWMutex

	// registrations maps a key to the set of producer broadcast
	// addresses currently announcing it.
	registrations map[registrationKey]map[string]*Producer

	// tombstones maps a producer broadcast address to the time a
	// tombstone was placed on it for a given topic; a tombstoned
	// producer is excluded from lookups for that topic until the
	// tombstone expires.
	tombstones map[string]map[string]time.Time

	// producerIndex maps an xxhash fingerprint of a connection's remote
	// address to the Producer record for that connection, so a
	// reconnecting broker's IDENTIFY can find and reuse its existing
	// record instead of every registry walk doing string comparisons
	// against RemoteAddress.
	producerIndex map[uint64]*Producer

	tombstoneLifetime time.Duration
	inactiveTimeout   time.Duration
}

// NewRegistrationDB builds an empty registry database.
func NewRegistrationDB(tombstoneLifetime, inactiveTimeout time.Duration) *RegistrationDB {
	return &RegistrationDB{
		registrations:     make(map[registrationKey]map[string]*Producer),
		tombstones:        make(map[string]map[string]time.Time),
		producerIndex:     make(map[uint64]*Producer),
		tombstoneLifetime: tombstoneLifetime,
		inactiveTimeout:   inactiveTimeout,
	}
}

// remoteAddrFingerprint hashes a connection's remote address into the
// producerIndex key space.
func remoteAddrFingerprint(remoteAddress string) uint64 {
	return xxhash.Sum64String(remoteAddress)
}

// LookupByRemoteAddr returns the Producer previously indexed under
// remoteAddress, if any. Used on IDENTIFY to recognize a reconnecting
// broker before any topic/channel registration has been re-announced.
func (db *RegistrationDB) LookupByRemoteAddr(remoteAddress string) *Producer {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.producerIndex[remoteAddrFingerprint(remoteAddress)]
}

// IndexProducer records p under its remote address fingerprint.
func (db *RegistrationDB) IndexProducer(p *Producer) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.producerIndex[remoteAddrFingerprint(p.RemoteAddress)] = p
}

// AddTopicProducer registers producer as hosting topic.
func (db *RegistrationDB) AddTopicProducer(topic string, p *Producer) {
	db.addRegistration(registrationKey{category: "topic", topic: topic}, p)
}

// RemoveTopicProducer removes producer's registration for topic.
func (db *RegistrationDB) RemoveTopicProducer(topic, broadcastAddress string) {
	db.removeRegistration(registrationKey{category: "topic", topic: topic}, broadcastAddress)
}

// AddChannelProducer registers producer as hosting channel under topic.
func (db *RegistrationDB) AddChannelProducer(topic, channel string, p *Producer) {
	db.addRegistration(registrationKey{category: "channel", topic: topic, channel: channel}, p)
	// A broker hosting a channel necessarily hosts the topic too.
	db.addRegistration(registrationKey{category: "topic", topic: topic}, p)
}

// RemoveChannelProducer removes producer's registration for the channel.
func (db *RegistrationDB) RemoveChannelProducer(topic, channel, broadcastAddress string) {
	db.removeRegistration(registrationKey{category: "channel", topic: topic, channel: channel}, broadcastAddress)
}

func (db *RegistrationDB) addRegistration(key registrationKey, p *Producer) {
	db.mu.Lock()
	defer db.mu.Unlock()
	set, ok := db.registrations[key]
	if !ok {
		set = make(map[string]*Producer)
		db.registrations[key] = set
	}
	p.lastSeenAt = time.Now()
	if existing, ok := set[p.BroadcastAddress]; ok {
		existing.RemoteAddress = p.RemoteAddress
		existing.TCPPort = p.TCPPort
		existing.HTTPPort = p.HTTPPort
		existing.Version = p.Version
		existing.lastSeenAt = p.lastSeenAt
		return
	}
	p.registeredAt = p.lastSeenAt
	set[p.BroadcastAddress] = p
}

func (db *RegistrationDB) removeRegistration(key registrationKey, broadcastAddress string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	set, ok := db.registrations[key]
	if !ok {
		return
	}
	delete(set, broadcastAddress)
	if len(set) == 0 {
		delete(db.registrations, key)
	}
}

// Touch refreshes broadcastAddress's last-seen time across every
// registration it holds, in response to a PING.
func (db *RegistrationDB) Touch(broadcastAddress string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	now := time.Now()
	for _, set := range db.registrations {
		if p, ok := set[broadcastAddress]; ok {
			p.lastSeenAt = now
		}
	}
}

// RemoveProducer removes every registration held by broadcastAddress,
// e.g. when the broker's connection closes.
func (db *RegistrationDB) RemoveProducer(broadcastAddress string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for key, set := range db.registrations {
		if p, ok := set[broadcastAddress]; ok {
			delete(db.producerIndex, remoteAddrFingerprint(p.RemoteAddress))
		}
		delete(set, broadcastAddress)
		if len(set) == 0 {
			delete(db.registrations, key)
		}
	}
}

// TombstoneTopicProducer hides broadcastAddress from lookups for topic
// for this registry's tombstone lifetime, without removing its
// registration: the broker is assumed to be deleting the topic locally
// and will re-announce if that's wrong.
func (db *RegistrationDB) TombstoneTopicProducer(topic, broadcastAddress string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	set, ok := db.tombstones[broadcastAddress]
	if !ok {
		set = make(map[string]time.Time)
		db.tombstones[broadcastAddress] = set
	}
	set[topic] = time.Now()
}

func (db *RegistrationDB) isTombstoned(topic, broadcastAddress string) bool {
	set, ok := db.tombstones[broadcastAddress]
	if !ok {
		return false
	}
	at, ok := set[topic]
	if !ok {
		return false
	}
	return time.Since(at) < db.tombstoneLifetime
}

// FindProducers returns every non-expired, non-tombstoned producer
// registered for the given topic (channel == "") or topic+channel pair.
func (db *RegistrationDB) FindProducers(topic, channel string) []*Producer {
	db.mu.RLock()
	defer db.mu.RUnlock()

	key := registrationKey{category: "topic", topic: topic}
	if channel != "" {
		key = registrationKey{category: "channel", topic: topic, channel: channel}
	}
	set, ok := db.registrations[key]
	if !ok {
		return nil
	}
	out := make([]*Producer, 0, len(set))
	for addr, p := range set {
		if p.isExpired(db.inactiveTimeout) {
			continue
		}
		if channel == "" && db.isTombstoned(topic, addr) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Topics returns every distinct topic name with at least one live
// registration.
func (db *RegistrationDB) Topics() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	seen := make(map[string]bool)
	for key := range db.registrations {
		if key.category == "topic" {
			seen[key.topic] = true
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	return out
}

// Channels returns every channel name registered under topic.
func (db *RegistrationDB) Channels(topic string) []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []string
	for key := range db.registrations {
		if key.category == "channel" && key.topic == topic {
			out = append(out, key.channel)
		}
	}
	return out
}

// Nodes returns every distinct producer currently registered for any
// topic, deduplicated by broadcast address.
func (db *RegistrationDB) Nodes() []*Producer {
	db.mu.RLock()
	defer db.mu.RUnlock()
	seen := make(map[string]*Producer)
	for key, set := range db.registrations {
		if key.category != "topic" {
			continue
		}
		for addr, p := range set {
			seen[addr] = p
		}
	}
	out := make([]*Producer, 0, len(seen))
	for _, p := range seen {
		out = append(out, p)
	}
	return out
}

// ExpireInactive removes every registration belonging to a producer
// that has not been seen within the inactive timeout. Called
// periodically from the registry's tick loop.
func (db *RegistrationDB) ExpireInactive() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	expired := make(map[string]bool)
	for key, set := range db.registrations {
		for addr, p := range set {
			if p.isExpired(db.inactiveTimeout) {
				delete(set, addr)
				expired[addr] = true
			}
		}
		if len(set) == 0 {
			delete(db.registrations, key)
		}
	}
	out := make([]string, 0, len(expired))
	for addr := range expired {
		out = append(out, addr)
	}
	return out
}
