// Package worker implements the Worker Directory: registration and
// liveness tracking for the fleet of processes sharing one frontier, so
// each process can determine its partition index and the current fleet
// size without any leader election.
package worker

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/cuemby/ddfrontier/pkg/log"
	"github.com/cuemby/ddfrontier/pkg/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Directory tracks this process's membership in the worker fleet sharing
// one spider's queue prefix.
type Directory struct {
	gw     store.Gateway
	prefix string
	id     int64
	// token identifies this process instance's own heartbeat writes,
	// distinguishing a restarted process from the one that last held its
	// worker id, for diagnostics.
	token string

	aliveTimeout time.Duration

	log zerolog.Logger
}

// Config configures a Directory.
type Config struct {
	Prefix       string
	AliveTimeout time.Duration
}

func workersKey(prefix string) string  { return prefix + ":workers" }
func workerIDKey(prefix string) string { return prefix + ":worker-id" }
func workerKey(prefix string, id int64) string {
	return fmt.Sprintf("%s:worker-%d", prefix, id)
}

// WorkersKey returns the worker-set key for prefix, exported for callers
// (notably queue.Clear) that need to enumerate or delete it directly.
func WorkersKey(prefix string) string { return workersKey(prefix) }

// IDCounterKey returns the worker-id allocation counter key for prefix.
func IDCounterKey(prefix string) string { return workerIDKey(prefix) }

// HeartbeatKey returns the heartbeat key for the given worker id.
func HeartbeatKey(prefix string, id int64) string { return workerKey(prefix, id) }

// Register allocates a new worker id from the shared counter and
// publishes an initial heartbeat. The returned Directory's id is stable
// for its lifetime; Heartbeat must be called periodically to stay live.
func Register(ctx context.Context, gw store.Gateway, cfg Config) (*Directory, error) {
	id, err := gw.Incr(ctx, workerIDKey(cfg.Prefix))
	if err != nil {
		return nil, fmt.Errorf("worker: allocate id: %w", err)
	}
	d := &Directory{
		gw:           gw,
		prefix:       cfg.Prefix,
		id:           id,
		token:        uuid.New().String(),
		aliveTimeout: cfg.AliveTimeout,
		log:          log.WithWorkerID(id),
	}
	if err := d.Heartbeat(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// ID returns this worker's allocated id.
func (d *Directory) ID() int64 { return d.id }

// Heartbeat publishes this worker's id to the worker set and refreshes its
// heartbeat key's expiry. Called at the start of every selection round, as
// well as once at registration — there is no independent background
// ticker, since Discover calls Heartbeat itself before reading the worker
// set.
func (d *Directory) Heartbeat(ctx context.Context) error {
	err := d.gw.Pipeline(ctx, func(p store.Pipeline) error {
		p.SAdd(workersKey(d.prefix), strconv.FormatInt(d.id, 10))
		p.SetWithExpiry(workerKey(d.prefix, d.id), d.token, d.aliveTimeout)
		return nil
	})
	if err != nil {
		return fmt.Errorf("worker: heartbeat: %w", err)
	}
	return nil
}

// Discover reports this worker's index and the current live fleet size.
// It first reaps any worker id whose heartbeat key has expired, then
// locates this worker's id among the survivors. If this worker's own id
// has dropped out — which should not happen since Heartbeat is called
// first — it logs a warning and returns (0, 1), treating itself as the
// sole owner of every key.
func (d *Directory) Discover(ctx context.Context) (myIndex, nWorkers int, err error) {
	if err := d.Heartbeat(ctx); err != nil {
		return 0, 1, err
	}

	rawIDs, err := d.gw.SMembers(ctx, workersKey(d.prefix))
	if err != nil {
		return 0, 1, fmt.Errorf("worker: list workers: %w", err)
	}

	live := make([]int64, 0, len(rawIDs))
	for _, raw := range rawIDs {
		id, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil {
			continue
		}
		_, ok, getErr := d.gw.Get(ctx, workerKey(d.prefix, id))
		if getErr != nil {
			return 0, 1, fmt.Errorf("worker: probe heartbeat: %w", getErr)
		}
		if !ok {
			if _, err := d.gw.SRem(ctx, workersKey(d.prefix), raw); err != nil {
				return 0, 1, fmt.Errorf("worker: reap dead worker: %w", err)
			}
			continue
		}
		live = append(live, id)
	}
	sort.Slice(live, func(i, j int) bool { return live[i] < live[j] })

	for i, id := range live {
		if id == d.id {
			return i, len(live), nil
		}
	}

	d.log.Warn().Msg("no live workers found including self: selecting self as sole owner")
	return 0, 1, nil
}
