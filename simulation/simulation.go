// Package simulation drives a group of replicas through random
// concurrent operations and gossip until their sets converge.
package simulation

import (
	"context"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"library/lwwset/communication"
	"library/lwwset/config"
	"library/lwwset/replica"
)

// ErrNotConverged is returned when the replicas still disagree
// once the timeout has passed.
var ErrNotConverged = errors.New("replicas did not converge")

// Report summarizes a simulation run.
type Report struct {
	Replicas  map[string][]int `json:"replicas"`
	Adds      int64            `json:"adds"`
	Removes   int64            `json:"removes"`
	Rejected  int64            `json:"rejected"`
	Rounds    int              `json:"rounds"`
	Converged bool             `json:"converged"`
	Elapsed   time.Duration    `json:"elapsed"`
}

type operation struct {
	value  int
	remove bool
}

// script draws every replica's operations up front so the run
// only depends on the seed, not on goroutine scheduling.
func script(cfg *config.Config) [][]operation {
	rnd := rand.New(rand.NewSource(cfg.Seed))
	ops := make([][]operation, cfg.Replicas)
	for i := range ops {
		ops[i] = make([]operation, cfg.Operations)
		for j := range ops[i] {
			ops[i][j] = operation{
				value:  rnd.Intn(cfg.MaxValue),
				remove: rnd.Float64() < cfg.RemoveRatio,
			}
		}
	}
	return ops
}

// Run starts cfg.Replicas replicas, applies the random operations
// concurrently while gossiping, and then gossips until all replicas
// hold equivalent states or the timeout expires.
func Run(ctx context.Context, cfg *config.Config, logger log.Logger, metrics *replica.Metrics) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if metrics == nil {
		metrics = replica.NewMetrics()
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	channels := map[string]chan communication.Message{}
	for i := 0; i < cfg.Replicas; i++ {
		channels[strconv.Itoa(i)] = make(chan communication.Message)
	}
	replicas := make([]*replica.Replica[int], cfg.Replicas)
	for i := range replicas {
		replicas[i] = replica.NewReplica[int](strconv.Itoa(i), channels,
			replica.WithLogger(logger),
			replica.WithMetrics(metrics),
		)
	}
	defer func() {
		for _, r := range replicas {
			r.Stop()
		}
	}()

	began := time.Now()
	report := &Report{Replicas: map[string][]int{}}
	ops := script(cfg)

	gossipDone := make(chan struct{})
	var gossip sync.WaitGroup
	gossip.Add(1)
	go func() {
		defer gossip.Done()
		ticker := time.NewTicker(cfg.GossipInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gossipDone:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				broadcastAll(logger, replicas)
			}
		}
	}()

	var adds, removes, rejected atomic.Int64
	var wg sync.WaitGroup
	for i, r := range replicas {
		wg.Add(1)
		go func(r *replica.Replica[int], ops []operation) {
			defer wg.Done()
			for _, op := range ops {
				if !op.remove {
					r.Add(op.value)
					adds.Add(1)
					continue
				}
				if err := r.Remove(op.value); err != nil {
					rejected.Add(1)
					continue
				}
				removes.Add(1)
			}
		}(r, ops[i])
	}
	wg.Wait()
	close(gossipDone)
	gossip.Wait()
	report.Adds, report.Removes, report.Rejected = adds.Load(), removes.Load(), rejected.Load()

	level.Info(logger).Log("msg", "operations applied", "adds", report.Adds, "removes", report.Removes, "rejected", report.Rejected)

	ticker := time.NewTicker(cfg.GossipInterval)
	defer ticker.Stop()
	for !Converged(replicas) {
		broadcastAll(logger, replicas)
		report.Rounds++
		select {
		case <-ctx.Done():
			report.Elapsed = time.Since(began)
			collect(report, replicas)
			return report, errors.Wrapf(ErrNotConverged, "after %d rounds", report.Rounds)
		case <-ticker.C:
		}
	}

	report.Converged = true
	report.Elapsed = time.Since(began)
	collect(report, replicas)
	level.Info(logger).Log("msg", "replicas converged", "rounds", report.Rounds, "elapsed", report.Elapsed)
	return report, nil
}

// broadcastAll skips replicas whose previous round is still in
// flight; a newer full state supersedes it anyway.
func broadcastAll(logger log.Logger, replicas []*replica.Replica[int]) {
	for _, r := range replicas {
		if n := r.Pending(); n > 0 {
			level.Debug(logger).Log("msg", "skipping broadcast", "replica", r.GetID(), "pending", n)
			continue
		}
		if err := r.Broadcast(); err != nil {
			level.Error(logger).Log("msg", "broadcast failed", "replica", r.GetID(), "err", err)
		}
	}
}

func collect(report *Report, replicas []*replica.Replica[int]) {
	for _, r := range replicas {
		values := r.Values()
		sort.Ints(values)
		report.Replicas[r.GetID()] = values
	}
}

// Converged reports whether all replicas hold mutually
// contained states.
func Converged[T comparable](replicas []*replica.Replica[T]) bool {
	if len(replicas) == 0 {
		return true
	}
	first := replicas[0].Snapshot()
	for _, r := range replicas[1:] {
		other := r.Snapshot()
		if !first.Compare(other) || !other.Compare(first) {
			return false
		}
	}
	return true
}
