// Package peerlog remembers every peer a scan has discovered.
package peerlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/udit2303/comp2/pkg/discovery"
)

const (
	FileName = "peers.db"

	bPeers    = "peers"
	defaultTO = 2 * time.Second
)

// Entry is one remembered peer, keyed by service name.
type Entry struct {
	ServiceName string               `json:"service_name"`
	Properties  discovery.Properties `json:"properties"`
	Address     string               `json:"address,omitempty"`
	FirstSeen   time.Time            `json:"first_seen"`
	LastSeen    time.Time            `json:"last_seen"`
	SeenCount   int                  `json:"seen_count"`
}

// Store is a BoltDB-backed peer history. It implements discovery.PeerRecorder.
type Store struct {
	db  *bolt.DB
	now func() time.Time
}

// Open opens (or creates) the history database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: defaultTO})
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bPeers))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Record upserts p, keeping its first sighting and bumping the count.
func (s *Store) Record(p discovery.DiscoveredPeer) error {
	now := s.now().UTC()
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bPeers))
		key := []byte(p.ServiceName)

		e := Entry{ServiceName: p.ServiceName, FirstSeen: now}
		if raw := b.Get(key); raw != nil {
			if err := json.Unmarshal(raw, &e); err != nil {
				return fmt.Errorf("decode %s: %w", p.ServiceName, err)
			}
		}
		e.Properties = p.Properties
		if p.Address != nil {
			e.Address = p.Address.String()
		}
		e.LastSeen = now
		e.SeenCount++

		raw, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put(key, raw)
	})
}

// List returns every entry, most recently seen first.
func (s *Store) List() ([]Entry, error) {
	var out []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bPeers)).ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode %s: %w", k, err)
			}
			out = append(out, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return out, nil
}
