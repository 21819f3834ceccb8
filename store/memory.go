package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

type key struct {
	nodeID         string
	runtimeVersion string
}

// MemStore is an in-memory Store implementation. It is process-local only
// (there is no inter-process lease contention to model), making it suitable
// for tests and single-process deployments where a networked store is
// unnecessary.
type MemStore struct {
	mu       sync.RWMutex
	records  map[key]Record
	inflight map[key]string // key -> lease owner token
}

// NewMemStore creates an empty in-memory Store.
func NewMemStore() *MemStore {
	return &MemStore{
		records:  make(map[key]Record),
		inflight: make(map[key]string),
	}
}

// Get implements Store.
func (s *MemStore) Get(_ context.Context, nodeID, runtimeVersion string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key{nodeID, runtimeVersion}]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// BeginCompute implements Store.
func (s *MemStore) BeginCompute(_ context.Context, nodeID, runtimeVersion, owner string) (LeaseResult, *Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{nodeID, runtimeVersion}
	if rec, ok := s.records[k]; ok {
		switch rec.Status {
		case StatusMaterialized:
			return ResultAlreadyComputed, nil, nil
		default:
			return ResultAlreadyFailed, nil, nil
		}
	}
	if _, contested := s.inflight[k]; contested {
		return ResultContested, nil, nil
	}
	s.inflight[k] = owner
	return ResultLease, &Lease{NodeID: nodeID, RuntimeVersion: runtimeVersion, Owner: owner, AcquiredAt: time.Now(), store: s}, nil
}

// Commit implements Store.
func (s *MemStore) Commit(_ context.Context, lease *Lease, status Status, payload []byte, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{lease.NodeID, lease.RuntimeVersion}
	if owner, ok := s.inflight[k]; !ok || owner != lease.Owner {
		return fmt.Errorf("store: commit called without a held lease for %s@%s", lease.NodeID, lease.RuntimeVersion)
	}
	now := time.Now()
	s.records[k] = Record{
		NodeID:         lease.NodeID,
		RuntimeVersion: lease.RuntimeVersion,
		Status:         status,
		PayloadBytes:   int64(len(payload)),
		Payload:        payload,
		Error:          errMsg,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	delete(s.inflight, k)
	return nil
}

// Abandon implements Store.
func (s *MemStore) Abandon(_ context.Context, lease *Lease) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{lease.NodeID, lease.RuntimeVersion}
	if s.inflight[k] == lease.Owner {
		delete(s.inflight, k)
	}
	return nil
}

// Invalidate implements Store.
func (s *MemStore) Invalidate(_ context.Context, nodeID, runtimeVersion string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{nodeID, runtimeVersion}
	if rec, ok := s.records[k]; ok && rec.Status != StatusMaterialized {
		delete(s.records, k)
	}
	return nil
}

// Iter implements Store.
func (s *MemStore) Iter(_ context.Context, filter Filter, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, limit)
	for _, rec := range s.records {
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		if filter.NodePrefix != "" && !strings.HasPrefix(rec.NodeID, filter.NodePrefix) {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Close implements Store. MemStore holds no external resources.
func (s *MemStore) Close() error { return nil }
