package replica

import (
	"bytes"
	"math/rand"
	"reflect"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"testing/quick"
	"time"

	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library/lwwset/communication"
	"library/lwwset/crdt"
)

// counter ignores labels so tests can read back what replicas report.
type counter struct {
	n atomic.Int64
}

func (c *counter) With(...string) metrics.Counter { return c }
func (c *counter) Add(delta float64)               { c.n.Add(int64(delta)) }
func (c *counter) Value() int64                    { return c.n.Load() }

func newCountingMetrics() (*Metrics, map[string]*counter) {
	counters := map[string]*counter{
		"adds": {}, "removes": {}, "rejected": {}, "broadcasts": {}, "merges": {}, "decode": {},
	}
	return &Metrics{
		Adds:            counters["adds"],
		Removes:         counters["removes"],
		RejectedRemoves: counters["rejected"],
		Broadcasts:      counters["broadcasts"],
		Merges:          counters["merges"],
		DecodeFailures:  counters["decode"],
	}, counters
}

func newChannels(n int) map[string]chan communication.Message {
	channels := map[string]chan communication.Message{}
	for i := 0; i < n; i++ {
		channels[strconv.Itoa(i)] = make(chan communication.Message)
	}
	return channels
}

func startReplicas(t *testing.T, n int, opts ...Option) []*Replica[int] {
	t.Helper()
	channels := newChannels(n)
	replicas := make([]*Replica[int], n)
	for i := 0; i < n; i++ {
		replicas[i] = NewReplica[int](strconv.Itoa(i), channels, opts...)
	}
	t.Cleanup(func() {
		for _, r := range replicas {
			r.Stop()
		}
	})
	return replicas
}

func converged(replicas []*Replica[int]) bool {
	for i := 1; i < len(replicas); i++ {
		a, b := replicas[0].Snapshot(), replicas[i].Snapshot()
		if !a.Compare(b) || !b.Compare(a) {
			return false
		}
	}
	return true
}

func sorted(values []int) []int {
	sort.Ints(values)
	return values
}

func TestLocalOperations(t *testing.T) {
	m, counters := newCountingMetrics()
	r := startReplicas(t, 1, WithMetrics(m))[0]

	r.Add(1)
	r.Add(2)
	require.NoError(t, r.Remove(1))
	assert.ErrorIs(t, r.Remove(3), crdt.ErrPreconditionViolation)

	assert.False(t, r.Lookup(1))
	assert.True(t, r.Lookup(2))
	assert.Equal(t, []int{2}, r.Values())
	assert.Equal(t, int64(2), counters["adds"].Value())
	assert.Equal(t, int64(1), counters["removes"].Value())
	assert.Equal(t, int64(1), counters["rejected"].Value())
}

func TestRemoveRightAfterAddSucceeds(t *testing.T) {
	r := startReplicas(t, 1)[0]
	for i := 0; i < 100; i++ {
		r.Add(i)
		require.NoError(t, r.Remove(i))
		assert.False(t, r.Lookup(i))
	}
}

func TestBroadcastConverges(t *testing.T) {
	m, counters := newCountingMetrics()
	replicas := startReplicas(t, 3, WithMetrics(m))

	replicas[0].Add(1)
	replicas[1].Add(2)
	replicas[2].Add(3)
	require.NoError(t, replicas[2].Remove(3))

	for _, r := range replicas {
		require.NoError(t, r.Broadcast())
	}

	assert.Eventually(t, func() bool { return converged(replicas) }, 5*time.Second, 10*time.Millisecond)
	for _, r := range replicas {
		assert.Equal(t, []int{1, 2}, sorted(r.Values()))
	}
	assert.Equal(t, int64(3), counters["broadcasts"].Value())
	assert.Eventually(t, func() bool { return counters["merges"].Value() == 6 }, 5*time.Second, 10*time.Millisecond)
}

func TestSyncPullsPeerState(t *testing.T) {
	replicas := startReplicas(t, 2)

	replicas[0].Add(10)
	replicas[1].Add(20)

	require.NoError(t, replicas[0].Sync("1"))

	assert.Eventually(t, func() bool {
		return replicas[0].Lookup(20) && replicas[1].Lookup(10)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSyncUnknownPeer(t *testing.T) {
	r := startReplicas(t, 2)[0]
	assert.ErrorIs(t, r.Sync("42"), ErrUnknownPeer)
	assert.ErrorIs(t, r.Sync(r.GetID()), ErrUnknownPeer)
	assert.Equal(t, []string{"1"}, r.Peers())
}

func TestMergeKeepsClockAhead(t *testing.T) {
	r := startReplicas(t, 1)[0]

	future := time.Now().Add(time.Hour)
	remote := crdt.New[int]()
	remote.AddAt(5, future)
	r.Merge(remote)
	require.True(t, r.Lookup(5))

	// A local remove issued after the merge must win over the
	// remote add even though the wall clock is behind it.
	require.NoError(t, r.Remove(5))
	assert.False(t, r.Lookup(5))
}

func TestUndecodablePayloadIsDropped(t *testing.T) {
	m, counters := newCountingMetrics()
	channels := newChannels(1)
	r := NewReplica[int]("0", channels, WithMetrics(m))
	defer r.Stop()

	channels["0"] <- communication.NewMessage(communication.STATE, "x", []byte("{"))

	assert.Eventually(t, func() bool { return counters["decode"].Value() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Empty(t, r.Values())
}

func TestEmptyIDGetsUUID(t *testing.T) {
	r := NewReplica[int]("", newChannels(2))
	defer r.Stop()
	assert.Len(t, r.GetID(), 36)
	assert.Equal(t, []string{"0", "1"}, r.Peers())
}

func TestSnapshotIsIndependent(t *testing.T) {
	r := startReplicas(t, 1)[0]
	r.Add(1)
	snap := r.Snapshot()
	snap.Add(2)
	assert.False(t, r.Lookup(2))
}

func TestReplicasConvergeUnderConcurrentOperations(t *testing.T) {

	// Define property to test
	property := func(values []int, numReplicas int) bool {
		channels := newChannels(numReplicas)
		replicas := make([]*Replica[int], numReplicas)
		for i := 0; i < numReplicas; i++ {
			replicas[i] = NewReplica[int](strconv.Itoa(i), channels)
		}
		defer func() {
			for _, r := range replicas {
				r.Stop()
			}
		}()

		// Every replica adds and removes concurrently with the others.
		var wg sync.WaitGroup
		for i := range replicas {
			wg.Add(1)
			go func(r *Replica[int]) {
				defer wg.Done()
				for j, v := range values {
					if j%3 == 2 && r.Lookup(v) {
						_ = r.Remove(v)
					} else {
						r.Add(v)
					}
					if j%10 == 0 {
						_ = r.Broadcast()
					}
				}
			}(replicas[i])
		}
		wg.Wait()

		for _, r := range replicas {
			if err := r.Broadcast(); err != nil {
				return false
			}
		}

		deadline := time.Now().Add(10 * time.Second)
		for !converged(replicas) {
			if time.Now().After(deadline) {
				return false
			}
			time.Sleep(10 * time.Millisecond)
		}

		want := sorted(replicas[0].Values())
		for _, r := range replicas[1:] {
			if !reflect.DeepEqual(want, sorted(r.Values())) {
				t.Log("Replica ", r.GetID(), ": ", r.Values())
				return false
			}
		}
		return true
	}

	// Define generator to limit input size
	gen := func(vals []reflect.Value, rnd *rand.Rand) {
		values := make([]int, 60)
		for i := range values {
			values[i] = rnd.Intn(10)
		}
		vals[0] = reflect.ValueOf(values)
		vals[1] = reflect.ValueOf(rnd.Intn(3) + 2)
	}

	config := &quick.Config{
		MaxCount: 5,
		Values:   gen,
	}

	if err := quick.Check(property, config); err != nil {
		t.Error(err)
	}
}

func TestPendingTracksUndeliveredSends(t *testing.T) {
	channels := newChannels(2)
	r := NewReplica[int]("0", channels)
	defer r.Stop()

	require.NoError(t, r.Broadcast())
	require.NoError(t, r.Sync("1"))
	assert.Equal(t, 2, r.Pending())

	<-channels["1"]
	<-channels["1"]
	assert.Eventually(t, func() bool { return r.Pending() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestStopAbandonsPendingSends(t *testing.T) {
	r := NewReplica[int]("0", newChannels(2))
	require.NoError(t, r.Broadcast())
	r.Stop()
	assert.Equal(t, 0, r.Pending())
}

func TestBroadcastLogsPeerCountOfSendOnlyReplica(t *testing.T) {
	var buf bytes.Buffer
	r := NewReplica[int]("", newChannels(2), WithLogger(log.NewLogfmtLogger(log.NewSyncWriter(&buf))))
	defer r.Stop()

	require.NoError(t, r.Broadcast())
	assert.Contains(t, buf.String(), "peers=2")
}
