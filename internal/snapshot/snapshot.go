package snapshot

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/edge-scanner-api/internal/prober"
	"github.com/edge-scanner-api/internal/storage"
	log "github.com/sirupsen/logrus"
)

// maxSnapshotAge bounds how old a persisted scan may be before a
// restart discards it instead of serving stale results.
const maxSnapshotAge = 24 * time.Hour

// Manager keeps the last completed scan as an atomically swapped
// snapshot and persists it through the configured storage backend.
type Manager struct {
	current   atomic.Value // stores *storage.Snapshot
	storage   storage.Storage
	persistMu sync.Mutex

	persistInterval time.Duration
	stopPersist     chan struct{}
}

func NewManager(store storage.Storage, persistIntervalSeconds int) *Manager {
	m := &Manager{
		storage:         store,
		persistInterval: time.Duration(persistIntervalSeconds) * time.Second,
		stopPersist:     make(chan struct{}),
	}

	// Initialize with empty snapshot
	m.current.Store(&storage.Snapshot{
		Results: []prober.ProbeResult{},
		Updated: time.Now(),
	})

	// Start periodic persistence
	if persistIntervalSeconds > 0 {
		go m.periodicPersist()
	}

	return m
}

// Update atomically swaps the current snapshot
func (m *Manager) Update(results []prober.ProbeResult, stats storage.Stats) {
	snapshot := &storage.Snapshot{
		Results: results,
		Stats:   stats,
		Updated: time.Now(),
	}

	m.current.Store(snapshot)
	log.Infof("Snapshot updated: %d results, %d clean", len(results), stats.FoundCount)

	// Trigger async persistence
	go m.persist(snapshot)
}

// Get returns the current snapshot (atomic read)
func (m *Manager) Get() *storage.Snapshot {
	return m.current.Load().(*storage.Snapshot)
}

// persist saves snapshot to storage (non-blocking)
func (m *Manager) persist(snapshot *storage.Snapshot) {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	if err := m.storage.Save(snapshot); err != nil {
		log.Errorf("Failed to persist snapshot: %v", err)
	} else {
		log.Debugf("Snapshot persisted: %d results", len(snapshot.Results))
	}
}

// periodicPersist saves snapshot at regular intervals
func (m *Manager) periodicPersist() {
	ticker := time.NewTicker(m.persistInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.persist(m.Get())
		case <-m.stopPersist:
			return
		}
	}
}

// LoadFromStorage loads the last saved snapshot, discarding it when it
// is older than maxSnapshotAge.
func (m *Manager) LoadFromStorage() error {
	snapshot, err := m.storage.Load()
	if err != nil {
		return err
	}

	if snapshot != nil {
		if time.Since(snapshot.Updated) > maxSnapshotAge {
			log.Infof("Discarding stale snapshot from %v", snapshot.Updated)
			return nil
		}
		m.current.Store(snapshot)
		log.Infof("Loaded snapshot with %d results from storage", len(snapshot.Results))
		return nil
	}

	log.Info("No snapshot in storage")
	return nil
}

// Close stops background tasks
func (m *Manager) Close() {
	close(m.stopPersist)

	// Final persist
	m.persist(m.Get())
}
