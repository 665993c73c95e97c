package replica

import (
	"sync"
	"sync/atomic"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"

	"library/lwwset/clock"
	"library/lwwset/communication"
	"library/lwwset/crdt"
	"library/lwwset/utils"
)

// ErrUnknownPeer is returned by Sync for a peer without a channel.
var ErrUnknownPeer = errors.New("unknown peer")

type settings struct {
	logger  log.Logger
	metrics *Metrics
	clock   clockwork.Clock
	setOpts []crdt.Option
}

// Option configures a Replica.
type Option func(*settings)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger log.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics the replica reports to.
func WithMetrics(m *Metrics) Option {
	return func(s *settings) {
		s.metrics = m
	}
}

// WithClock sets the wall clock underneath the replica's
// monotonic timestamp source.
func WithClock(c clockwork.Clock) Option {
	return func(s *settings) {
		s.clock = c
	}
}

// WithSetOptions passes options to every element set the replica
// creates or decodes.
func WithSetOptions(opts ...crdt.Option) Option {
	return func(s *settings) {
		s.setOpts = append(s.setOpts, opts...)
	}
}

// Replica owns one element set and exchanges full states with its
// peers. Local operations are stamped with a monotonic clock that
// is kept ahead of every merged remote timestamp.
type Replica[T comparable] struct {
	id       string
	mu       sync.RWMutex
	set      *crdt.ElementSet[T]
	clock    *clock.Monotonic
	channels map[string]chan communication.Message
	logger   log.Logger
	metrics  *Metrics
	setOpts  []crdt.Option
	pending  atomic.Int64
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewReplica starts a replica that receives on channels[id] and
// sends to every other channel. An empty id is replaced by a
// random UUID; such a replica only sends.
func NewReplica[T comparable](id string, channels map[string]chan communication.Message, opts ...Option) *Replica[T] {
	cfg := settings{
		logger: log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.metrics == nil {
		cfg.metrics = NewMetrics()
	}
	if id == "" {
		id = uuid.NewString()
	}

	r := &Replica[T]{
		id:       id,
		clock:    clock.NewMonotonic(cfg.clock),
		channels: channels,
		logger:   log.With(cfg.logger, "replica", id),
		metrics:  cfg.metrics.For(id),
		setOpts:  cfg.setOpts,
		done:     make(chan struct{}),
	}
	r.set = crdt.New[T](r.setOptions()...)

	r.wg.Add(1)
	go r.receive()

	return r
}

func (r *Replica[T]) setOptions() []crdt.Option {
	return append([]crdt.Option{crdt.WithClock(r.clock)}, r.setOpts...)
}

// GetID returns the replica's id.
func (r *Replica[T]) GetID() string {
	return r.id
}

// Peers returns the ids of all other replicas, sorted.
func (r *Replica[T]) Peers() []string {
	peers := make([]string, 0, len(r.channels))
	for _, id := range utils.SortedKeys(r.channels) {
		if id != r.id {
			peers = append(peers, id)
		}
	}
	return peers
}

// Add adds v to the local set.
func (r *Replica[T]) Add(v T) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.set.AddAt(v, r.clock.Now())
	r.metrics.Adds.Add(1)
}

// Remove removes v from the local set. It fails with
// crdt.ErrPreconditionViolation if v is not present locally.
func (r *Replica[T]) Remove(v T) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.set.RemoveAt(v, r.clock.Now()); err != nil {
		r.metrics.RejectedRemoves.Add(1)
		level.Debug(r.logger).Log("msg", "rejected remove", "value", v, "err", err)
		return err
	}
	r.metrics.Removes.Add(1)
	return nil
}

// Lookup reports whether v is in the local set.
func (r *Replica[T]) Lookup(v T) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.set.Lookup(v)
}

// Values returns the values in the local set.
func (r *Replica[T]) Values() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.set.Values()
}

// Snapshot returns an independent copy of the local set.
func (r *Replica[T]) Snapshot() *crdt.ElementSet[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.set.Clone()
}

// Merge folds a remote state into the local set.
func (r *Replica[T]) Merge(remote *crdt.ElementSet[T]) {
	r.clock.Witness(remote.Latest())

	r.mu.Lock()
	r.set = r.set.Merge(remote)
	r.mu.Unlock()

	r.metrics.Merges.Add(1)
}

// Broadcast pushes the full local state to every peer.
func (r *Replica[T]) Broadcast() error {
	msg, err := communication.NewStateMessage(r.id, r.Snapshot())
	if err != nil {
		return err
	}
	peers := r.Peers()
	for _, peer := range peers {
		r.send(peer, msg)
	}
	r.metrics.Broadcasts.Add(1)
	level.Debug(r.logger).Log("msg", "broadcasted state", "peers", len(peers), "bytes", len(msg.Payload))
	return nil
}

// Sync pushes the local state to peer and asks it to answer with
// its own state.
func (r *Replica[T]) Sync(peer string) error {
	if _, ok := r.channels[peer]; !ok || peer == r.id {
		return errors.Wrapf(ErrUnknownPeer, "sync with %q", peer)
	}
	msg, err := communication.NewSyncMessage(r.id, r.Snapshot())
	if err != nil {
		return err
	}
	r.send(peer, msg)
	return nil
}

// send delivers msg asynchronously so a slow peer never blocks
// the caller. Pending sends are abandoned on Stop.
func (r *Replica[T]) send(peer string, msg communication.Message) {
	ch := r.channels[peer]
	r.wg.Add(1)
	r.pending.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.pending.Add(-1)
		select {
		case ch <- msg:
		case <-r.done:
		}
	}()
}

// Pending returns the number of sends not yet delivered.
func (r *Replica[T]) Pending() int {
	return int(r.pending.Load())
}

func (r *Replica[T]) receive() {
	defer r.wg.Done()
	inbox := r.channels[r.id]
	for {
		select {
		case <-r.done:
			return
		case msg := <-inbox:
			r.handle(msg)
		}
	}
}

func (r *Replica[T]) handle(msg communication.Message) {
	remote, err := communication.Decode[T](msg.Payload, r.setOpts...)
	if err != nil {
		r.metrics.DecodeFailures.Add(1)
		level.Warn(r.logger).Log("msg", "dropping undecodable state", "origin", msg.OriginID, "err", err)
		return
	}

	r.Merge(remote)
	level.Debug(r.logger).Log("msg", "merged remote state", "origin", msg.OriginID, "type", msg.Type)

	if msg.Type == communication.SYNC && msg.OriginID != r.id {
		if _, ok := r.channels[msg.OriginID]; !ok {
			level.Warn(r.logger).Log("msg", "cannot answer sync", "origin", msg.OriginID, "err", ErrUnknownPeer)
			return
		}
		reply, err := communication.NewStateMessage(r.id, r.Snapshot())
		if err != nil {
			level.Error(r.logger).Log("msg", "cannot answer sync", "origin", msg.OriginID, "err", err)
			return
		}
		r.send(msg.OriginID, reply)
	}
}

// Stop terminates the receive loop and abandons pending sends.
func (r *Replica[T]) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
}
