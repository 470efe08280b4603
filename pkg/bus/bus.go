package bus

import (
	"sync"

	"github.com/aurbuild/aurbuild/pkg/log"
	"github.com/aurbuild/aurbuild/pkg/types"
)

// Capacity of the broker inbox and of each subscriber queue. Soft bound:
// a subscriber that falls further behind loses messages, loudly.
const queueCapacity = 128

// Message is a value broadcast to every subscriber. Subscribers ignore
// message kinds they do not care about.
type Message interface {
	message()
}

// AddPackages asks the scheduler to start tracking the named AUR packages.
type AddPackages struct {
	Packages []string
}

// AddDependencies is AddPackages for transitively discovered dependencies.
type AddDependencies struct {
	Packages []string
}

// AddPackageURL asks the scheduler to track a package served from a
// clonable source-tree URL, with the probe result already in hand.
type AddPackageURL struct {
	URL  string
	Data types.PackageData
}

// RemovePackages asks every component to forget the named packages.
// Files carries the artifact filenames recorded for them, snapshotted by
// the publisher: the scheduler drops the state records on receipt, so
// consumers must not re-read the file list from state.
type RemovePackages struct {
	Packages []string
	Files    []string
}

// BuildPackage enqueues one package for a container build.
type BuildPackage struct {
	Package string
}

// BuildSuccess reports that a package's artifacts landed in the repository.
type BuildSuccess struct {
	Package string
}

// BuildFailure reports a non-zero build container exit.
type BuildFailure struct {
	Package string
}

// ArtifactsUploaded reports that a worker's artifact files are on disk in
// the repository directory and ready to be indexed.
type ArtifactsUploaded struct {
	Package   string
	Files     []string
	BuildTime int64
}

func (AddPackages) message()       {}
func (AddDependencies) message()   {}
func (AddPackageURL) message()     {}
func (RemovePackages) message()    {}
func (BuildPackage) message()      {}
func (BuildSuccess) message()      {}
func (BuildFailure) message()      {}
func (ArtifactsUploaded) message() {}

// Subscriber is one consumer's cursor into the broadcast stream.
type Subscriber struct {
	name string
	ch   chan Message
}

// C returns the channel messages are delivered on.
func (s *Subscriber) C() <-chan Message {
	return s.ch
}

// Broker fans every published message out to all subscribers.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]bool
	inbox       chan Message
	stopCh      chan struct{}
}

// NewBroker creates a new message broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[*Subscriber]bool),
		inbox:       make(chan Message, queueCapacity),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker. Pending messages are dropped.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe registers a named consumer and returns its cursor. The name is
// only used to attribute lag.
func (b *Broker) Subscribe(name string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscriber{name: name, ch: make(chan Message, queueCapacity)}
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub.ch)
}

// Publish broadcasts a message to all subscribers.
func (b *Broker) Publish(message Message) {
	select {
	case b.inbox <- message:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case message := <-b.inbox:
			b.broadcast(message)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(message Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub.ch <- message:
		default:
			// Build outcomes must never vanish silently; the subscriber
			// resynchronizes from state on its next sweep.
			log.Logger.Error().
				Str("subscriber", sub.name).
				Type("message", message).
				Msg("Subscriber lagging, dropping message")
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
