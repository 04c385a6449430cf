// Package guard tracks acquisition of exclusive host resources and
// force-frees them on demand.
//
// Resources (ports, network namespaces, process sessions, PID files) are
// exclusively owned by the currently-running trial. Acquisition verifies the
// resource is free and force-reclaims it if not; release is idempotent and
// best-effort. At trial end ReleaseAll tears down everything acquired during
// the trial in reverse-acquisition order.
package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oranbench/gridrunner/log"
	"github.com/oranbench/gridrunner/metrics"
	"github.com/oranbench/gridrunner/trialerr"
	"github.com/oranbench/gridrunner/types"
)

// Kind classifies a host-exclusive resource.
type Kind string

// Resource kinds.
const (
	KindPort    Kind = "port"
	KindNetns   Kind = "netns"
	KindSession Kind = "session"
	KindPIDFile Kind = "pidfile"
)

// reclaimAttempts bounds the force-reclaim retry loop inside Acquire.
const reclaimAttempts = 3

// reclaimWait is the settle time between a forced free and re-verification.
const reclaimWait = 500 * time.Millisecond

// ManagedResource is a host-exclusive handle: at most one live
// ManagedResource exists per (kind, identifier) at any time.
type ManagedResource struct {
	// Kind classifies the resource.
	Kind Kind
	// ID identifies the resource within its kind (port number, netns name,
	// session name, or PID file path).
	ID string
	// Owner is the trial that acquired the resource.
	Owner types.TrialKey
	// PID is the process backing a session or pidfile resource, 0 otherwise.
	PID int
}

func (r ManagedResource) String() string {
	return fmt.Sprintf("%s:%s", r.Kind, r.ID)
}

// Handle references a live acquisition. Safe to release more than once.
type Handle struct {
	res      ManagedResource
	released bool
}

// Resource returns the resource this handle references.
func (h *Handle) Resource() ManagedResource { return h.res }

// Guard tracks live resource acquisitions for the running trial.
// Not safe for concurrent acquisition from multiple trials; the grid is
// strictly sequential, so a single mutex suffices for fan-out within a phase.
type Guard struct {
	ops     HostOps
	logger  *log.Logger
	metrics *metrics.Collector

	mu    sync.Mutex
	live  map[string]*Handle // key: kind + ":" + id
	order []*Handle          // acquisition order for reverse release
}

// New creates a Guard over the given host operations. The collector may be
// nil; reclaim counters are then dropped.
func New(ops HostOps, logger *log.Logger, m *metrics.Collector) *Guard {
	return &Guard{
		ops:     ops,
		logger:  logger,
		metrics: m,
		live:    make(map[string]*Handle),
	}
}

func liveKey(kind Kind, id string) string { return string(kind) + ":" + id }

// Acquire obtains exclusive ownership of (kind, id) for owner.
// If the resource is held on the host, it is force-reclaimed and acquisition
// retried up to a fixed small bound before failing with ErrResourceBusy.
// Acquiring an identifier already live in this Guard is always ErrResourceBusy.
func (g *Guard) Acquire(ctx context.Context, kind Kind, id string, owner types.TrialKey) (*Handle, error) {
	return g.acquire(ctx, kind, id, owner, 0)
}

// AcquireProcess registers a process-backed resource (session or pidfile).
// The PID is used for graceful termination at release time.
func (g *Guard) AcquireProcess(ctx context.Context, kind Kind, id string, owner types.TrialKey, pid int) (*Handle, error) {
	return g.acquire(ctx, kind, id, owner, pid)
}

func (g *Guard) acquire(ctx context.Context, kind Kind, id string, owner types.TrialKey, pid int) (*Handle, error) {
	g.mu.Lock()
	if _, exists := g.live[liveKey(kind, id)]; exists {
		g.mu.Unlock()
		return nil, trialerr.Wrap(trialerr.ErrResourceBusy, "acquire",
			fmt.Errorf("%s:%s already acquired", kind, id))
	}
	g.mu.Unlock()

	// Verify the resource is free on the host, force-reclaiming if not.
	var lastErr error
	reclaimed := false
	for attempt := 0; attempt < reclaimAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, trialerr.Wrap(trialerr.ErrCanceled, "acquire", err)
		}

		free, err := g.hostFree(ctx, kind, id)
		if err != nil {
			lastErr = err
		} else if free {
			lastErr = nil
			if reclaimed {
				g.metrics.IncReclaimSuccess()
			}
			break
		} else {
			lastErr = fmt.Errorf("%s:%s in use", kind, id)
		}

		g.logger.Warn("resource busy, force-reclaiming", map[string]any{
			"kind": string(kind), "id": id, "attempt": attempt + 1,
		})
		g.metrics.IncReclaimAttempt()
		reclaimed = true
		if err := g.ForceReclaim(ctx, kind, id); err != nil {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return nil, trialerr.Wrap(trialerr.ErrCanceled, "acquire", ctx.Err())
		case <-time.After(reclaimWait):
		}
	}
	if lastErr != nil {
		return nil, trialerr.Wrap(trialerr.ErrResourceBusy, "acquire", lastErr)
	}

	// Namespaces are created as part of acquisition.
	if kind == KindNetns {
		if err := g.ops.CreateNetns(ctx, id); err != nil {
			return nil, trialerr.Wrap(trialerr.ErrResourceBusy, "acquire",
				fmt.Errorf("create netns %s: %w", id, err))
		}
	}

	h := &Handle{res: ManagedResource{Kind: kind, ID: id, Owner: owner, PID: pid}}

	g.mu.Lock()
	g.live[liveKey(kind, id)] = h
	g.order = append(g.order, h)
	g.mu.Unlock()

	g.logger.Debug("resource acquired", map[string]any{
		"kind": string(kind), "id": id, "owner": owner.String(),
	})
	return h, nil
}

// hostFree reports whether (kind, id) is free at the host level.
// Sessions and pidfiles are orchestrator-registered, not host-probed.
func (g *Guard) hostFree(ctx context.Context, kind Kind, id string) (bool, error) {
	switch kind {
	case KindPort:
		inUse, err := g.ops.PortInUse(ctx, id)
		return !inUse, err
	case KindNetns:
		exists, err := g.ops.NetnsExists(ctx, id)
		return !exists, err
	default:
		return true, nil
	}
}

// Release frees the resource referenced by h. Idempotent: releasing an
// already-released or nil handle is a no-op, not an error.
func (g *Guard) Release(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}

	g.mu.Lock()
	if h.released {
		g.mu.Unlock()
		return nil
	}
	h.released = true
	delete(g.live, liveKey(h.res.Kind, h.res.ID))
	g.mu.Unlock()

	return g.free(ctx, h.res)
}

// ReleaseAll releases every live resource owned by the given trial in
// reverse-acquisition order. Release failures are logged but never abort the
// release of subsequent resources. Returns the number of failed releases.
func (g *Guard) ReleaseAll(ctx context.Context, owner types.TrialKey) int {
	g.mu.Lock()
	var handles []*Handle
	kept := g.order[:0]
	for _, h := range g.order {
		if !h.released && h.res.Owner == owner {
			h.released = true
			delete(g.live, liveKey(h.res.Kind, h.res.ID))
			handles = append(handles, h)
		} else {
			kept = append(kept, h)
		}
	}
	g.order = kept
	g.mu.Unlock()

	failed := 0
	for i := len(handles) - 1; i >= 0; i-- {
		if err := g.free(ctx, handles[i].res); err != nil {
			failed++
			g.logger.Warn("resource release failed", map[string]any{
				"resource": handles[i].res.String(), "error": err.Error(),
			})
		}
	}
	return failed
}

// ReleaseKind releases every live resource of one kind owned by the given
// trial, in reverse-acquisition order. Used by the staged cleanup protocol,
// which frees sessions, namespaces, and ports at distinct steps. Best-effort;
// returns the number of failed releases.
func (g *Guard) ReleaseKind(ctx context.Context, owner types.TrialKey, kind Kind) int {
	g.mu.Lock()
	var handles []*Handle
	kept := g.order[:0]
	for _, h := range g.order {
		if !h.released && h.res.Owner == owner && h.res.Kind == kind {
			h.released = true
			delete(g.live, liveKey(h.res.Kind, h.res.ID))
			handles = append(handles, h)
		} else {
			kept = append(kept, h)
		}
	}
	g.order = kept
	g.mu.Unlock()

	failed := 0
	for i := len(handles) - 1; i >= 0; i-- {
		if err := g.free(ctx, handles[i].res); err != nil {
			failed++
			g.logger.Warn("resource release failed", map[string]any{
				"resource": handles[i].res.String(), "error": err.Error(),
			})
		}
	}
	return failed
}

// Live returns the resources currently owned by the given trial, in
// acquisition order.
func (g *Guard) Live(owner types.TrialKey) []ManagedResource {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []ManagedResource
	for _, h := range g.order {
		if !h.released && h.res.Owner == owner {
			out = append(out, h.res)
		}
	}
	return out
}

// ForceReclaim forcefully frees (kind, id) regardless of holder.
// All forceful reclamation paths share this one implementation.
func (g *Guard) ForceReclaim(ctx context.Context, kind Kind, id string) error {
	return g.free(ctx, ManagedResource{Kind: kind, ID: id})
}

// free performs the kind-specific host teardown. Tolerates the resource
// already being absent.
func (g *Guard) free(ctx context.Context, res ManagedResource) error {
	switch res.Kind {
	case KindPort:
		return g.ops.FreePort(ctx, res.ID)

	case KindNetns:
		if err := g.ops.DeleteNetns(ctx, res.ID); err != nil {
			return err
		}
		// Verify the namespace is really gone.
		exists, err := g.ops.NetnsExists(ctx, res.ID)
		if err == nil && exists {
			return fmt.Errorf("netns %s still present after delete", res.ID)
		}
		return nil

	case KindSession:
		if res.PID > 0 {
			return g.ops.KillGroup(ctx, res.PID)
		}
		return g.ops.KillPattern(ctx, res.ID)

	case KindPIDFile:
		return g.ops.StopPIDFile(ctx, res.ID)

	default:
		return fmt.Errorf("unknown resource kind %q", res.Kind)
	}
}
