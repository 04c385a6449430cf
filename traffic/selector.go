// Package traffic manages per-client traffic generators: endpoint selection
// from server pools and all-or-nothing generator lifecycle.
package traffic

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// Strategy selects how endpoints are assigned to clients.
type Strategy string

const (
	// StrategyRoundRobin cycles through endpoints in order.
	StrategyRoundRobin Strategy = "round_robin"
	// StrategyRandom selects uniformly at random.
	StrategyRandom Strategy = "random"
	// StrategySticky pins each client to one endpoint for the pool's TTL.
	StrategySticky Strategy = "sticky"
)

// Endpoint is one traffic server target.
type Endpoint struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// Addr renders the endpoint as host:port.
func (e Endpoint) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Pool is a named set of traffic server endpoints with a selection strategy.
type Pool struct {
	Name      string        `yaml:"name" json:"name"`
	Strategy  Strategy      `yaml:"strategy" json:"strategy"`
	Endpoints []Endpoint    `yaml:"endpoints" json:"endpoints"`
	StickyTTL time.Duration `yaml:"sticky_ttl" json:"sticky_ttl"`
}

// Validate checks pool invariants.
func (p *Pool) Validate() error {
	if p.Name == "" {
		return errors.New("pool name is required")
	}
	if len(p.Endpoints) == 0 {
		return fmt.Errorf("pool %q has no endpoints", p.Name)
	}
	switch p.Strategy {
	case StrategyRoundRobin, StrategyRandom, StrategySticky:
	case "":
		return fmt.Errorf("pool %q missing strategy", p.Name)
	default:
		return fmt.Errorf("pool %q has unknown strategy %q", p.Name, p.Strategy)
	}
	for i, ep := range p.Endpoints {
		if ep.Host == "" {
			return fmt.Errorf("pool %q endpoint %d missing host", p.Name, i)
		}
		if ep.Port <= 0 || ep.Port > 65535 {
			return fmt.Errorf("pool %q endpoint %d has invalid port %d", p.Name, i, ep.Port)
		}
	}
	return nil
}

// Selector assigns traffic server endpoints to clients.
// Thread-safe for concurrent access.
type Selector struct {
	mu    sync.Mutex
	pools map[string]*poolState
}

type poolState struct {
	pool      *Pool
	rrIndex   int64
	stickyMap map[string]*stickyEntry // client name -> entry
}

type stickyEntry struct {
	endpointIdx int
	expiresAt   *time.Time
}

// NewSelector creates an empty selector.
func NewSelector() *Selector {
	return &Selector{pools: make(map[string]*poolState)}
}

// RegisterPool registers a pool after validating it.
func (s *Selector) RegisterPool(pool *Pool) error {
	if err := pool.Validate(); err != nil {
		return fmt.Errorf("pool validation failed: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pools[pool.Name] = &poolState{
		pool:      pool,
		stickyMap: make(map[string]*stickyEntry),
	}
	return nil
}

// Select picks an endpoint from the named pool for the given client.
// client is required for sticky pools; it keys the pinned assignment so a
// retried trial reuses the same server for each UE.
func (s *Selector) Select(poolName, client string) (*Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.pools[poolName]
	if !ok {
		return nil, fmt.Errorf("pool %q not found", poolName)
	}

	var idx int
	var err error
	switch state.pool.Strategy {
	case StrategyRoundRobin:
		idx = int(state.rrIndex % int64(len(state.pool.Endpoints)))
		state.rrIndex++
	case StrategyRandom:
		idx, err = randomIndex(len(state.pool.Endpoints))
		if err != nil {
			return nil, err
		}
	case StrategySticky:
		idx, err = s.selectSticky(state, client)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown strategy %q", state.pool.Strategy)
	}

	// Return a copy of the endpoint
	ep := state.pool.Endpoints[idx]
	return &ep, nil
}

func (s *Selector) selectSticky(state *poolState, client string) (int, error) {
	if client == "" {
		return 0, errors.New("sticky selection requires a client name")
	}

	now := time.Now()
	if entry, ok := state.stickyMap[client]; ok {
		if entry.expiresAt == nil || entry.expiresAt.After(now) {
			return entry.endpointIdx, nil
		}
		// Entry expired, remove it
		delete(state.stickyMap, client)
	}

	idx, err := randomIndex(len(state.pool.Endpoints))
	if err != nil {
		return 0, err
	}

	entry := &stickyEntry{endpointIdx: idx}
	if ttl := state.pool.StickyTTL; ttl > 0 {
		expiresAt := now.Add(ttl)
		entry.expiresAt = &expiresAt
	}
	state.stickyMap[client] = entry
	return idx, nil
}

func randomIndex(n int) (int, error) {
	if n == 1 {
		return 0, nil
	}
	bigIdx, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("random selection failed: %w", err)
	}
	return int(bigIdx.Int64()), nil
}

// PoolStats reports selector state for one pool.
type PoolStats struct {
	RoundRobinIndex int64
	StickyEntries   int
}

// Stats returns selector state for the named pool.
func (s *Selector) Stats(poolName string) (*PoolStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.pools[poolName]
	if !ok {
		return nil, fmt.Errorf("pool %q not found", poolName)
	}
	return &PoolStats{
		RoundRobinIndex: state.rrIndex,
		StickyEntries:   len(state.stickyMap),
	}, nil
}

// ClearSticky drops all sticky assignments, e.g. between trials when a fresh
// endpoint spread is wanted.
func (s *Selector) ClearSticky() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, state := range s.pools {
		state.stickyMap = make(map[string]*stickyEntry)
	}
}
