package discovery

import "sync"

// CandidateList is the append-only list of peers found during one scan, in
// discovery order. It is safe for concurrent use.
type CandidateList struct {
	mu    sync.RWMutex
	peers []DiscoveredPeer
}

// Append adds p and returns its index.
func (c *CandidateList) Append(p DiscoveredPeer) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peers = append(c.peers, p)
	return len(c.peers) - 1
}

func (c *CandidateList) Get(i int) (DiscoveredPeer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i < 0 || i >= len(c.peers) {
		return DiscoveredPeer{}, false
	}
	return c.peers[i], true
}

func (c *CandidateList) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.peers)
}

// Snapshot returns a copy of the list as it is now.
func (c *CandidateList) Snapshot() []DiscoveredPeer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]DiscoveredPeer(nil), c.peers...)
}
