// Package pool manages the per-target (or per-cluster-master) array
// of pipelined endpoints that workers dispatch through: one lane per
// worker, selected by hashing the key, with reconnect funneled through
// a single Reopen entry point so no caller ever holds a stale endpoint
// reference across a reconnect.
package pool

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"df2redis/internal/cluster"
	"df2redis/internal/endpoint"
)

// Pool holds N parallel lanes to one logical target (a standalone
// server) or, in cluster mode, one lane array per master node.
type Pool struct {
	mu      sync.RWMutex
	lanes   int
	cluster bool

	// standalone
	standalone []*endpoint.Endpoint
	confs      []endpoint.Conf

	// cluster: nodeID -> lane arrays
	byNode     map[string][]*endpoint.Endpoint
	confByNode map[string][]endpoint.Conf
	slotMap    *cluster.SlotMap
}

// Open builds a standalone pool of `lanes` endpoints to a single
// target address, all sharing base except for the lane index which is
// otherwise irrelevant to connection identity.
func Open(ctx context.Context, lanes int, base endpoint.Conf) (*Pool, error) {
	if lanes <= 0 {
		return nil, fmt.Errorf("pool: lanes must be positive, got %d", lanes)
	}
	p := &Pool{lanes: lanes}
	p.standalone = make([]*endpoint.Endpoint, lanes)
	p.confs = make([]endpoint.Conf, lanes)
	for i := 0; i < lanes; i++ {
		conf := base
		ep, err := endpoint.Open(ctx, conf)
		if err != nil {
			p.closeAllLocked()
			return nil, err
		}
		p.standalone[i] = ep
		p.confs[i] = conf
	}
	return p, nil
}

// OpenCluster builds one lane array per master node in slotMap, each
// lane connecting to that master's address. base.Addr is ignored; each
// node's own address is substituted, and base.Slots is set to that
// node's owned slot set.
func OpenCluster(ctx context.Context, slotMap *cluster.SlotMap, lanes int, base endpoint.Conf) (*Pool, error) {
	if lanes <= 0 {
		return nil, fmt.Errorf("pool: lanes must be positive, got %d", lanes)
	}
	p := &Pool{lanes: lanes, cluster: true, slotMap: slotMap}
	p.byNode = make(map[string][]*endpoint.Endpoint)
	p.confByNode = make(map[string][]endpoint.Conf)

	for _, node := range slotMap.Masters() {
		lanesForNode := make([]*endpoint.Endpoint, lanes)
		confsForNode := make([]endpoint.Conf, lanes)
		for i := 0; i < lanes; i++ {
			conf := base
			conf.Addr = node.Addr
			conf.Slots = slotRangesToSlots(node)
			ep, err := endpoint.Open(ctx, conf)
			if err != nil {
				p.closeAllLocked()
				return nil, err
			}
			lanesForNode[i] = ep
			confsForNode[i] = conf
		}
		p.byNode[node.ID] = lanesForNode
		p.confByNode[node.ID] = confsForNode
	}
	return p, nil
}

func slotRangesToSlots(n *cluster.NodeInfo) []uint16 {
	var out []uint16
	for _, r := range n.Slots {
		for s := r[0]; s <= r[1]; s++ {
			out = append(out, uint16(s))
		}
	}
	return out
}

// lane hashes key to a lane index in [0, n), guaranteeing per-key
// ordering since the same key always hashes to the same lane.
func lane(key []byte, n int) int {
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32()) % n
}

// Lane returns the standalone lane and its index for key.
func (p *Pool) Lane(key []byte) (*endpoint.Endpoint, int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	idx := lane(key, p.lanes)
	return p.standalone[idx], idx
}

// NodeForKey resolves the owning master's ID for key in cluster mode.
func (p *Pool) NodeForKey(key []byte) (string, bool) {
	n := p.slotMap.Owner(key)
	if n == nil {
		return "", false
	}
	return n.ID, true
}

// LaneForNode returns the lane and its index within nodeID's lane
// array for key.
func (p *Pool) LaneForNode(nodeID string, key []byte) (*endpoint.Endpoint, int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	lanes, ok := p.byNode[nodeID]
	if !ok {
		return nil, 0, fmt.Errorf("pool: unknown node %s", nodeID)
	}
	idx := lane(key, p.lanes)
	return lanes[idx], idx, nil
}

// EndpointAt returns the endpoint at lane idx for nodeID ("" for a
// standalone pool), used by the worker to enumerate every lane once at
// startup.
func (p *Pool) EndpointAt(nodeID string, idx int) (*endpoint.Endpoint, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if nodeID == "" {
		if idx < 0 || idx >= len(p.standalone) {
			return nil, fmt.Errorf("pool: lane index %d out of range", idx)
		}
		return p.standalone[idx], nil
	}
	lanes, ok := p.byNode[nodeID]
	if !ok || idx < 0 || idx >= len(lanes) {
		return nil, fmt.Errorf("pool: unknown lane (%s, %d)", nodeID, idx)
	}
	return lanes[idx], nil
}

// Reopen is the sole reconnect entry point: it closes the existing
// endpoint at (nodeID, idx) quietly, builds a fresh one from the
// retained Conf (same host/port/pipe/stats/slots), installs it in
// place, and returns it. nodeID is "" for a standalone pool.
func (p *Pool) Reopen(ctx context.Context, nodeID string, idx int) (*endpoint.Endpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var old *endpoint.Endpoint
	var conf endpoint.Conf
	if nodeID == "" {
		old = p.standalone[idx]
		conf = p.confs[idx]
	} else {
		lanes, ok := p.byNode[nodeID]
		if !ok {
			return nil, fmt.Errorf("pool: unknown node %s", nodeID)
		}
		old = lanes[idx]
		conf = p.confByNode[nodeID][idx]
	}

	endpoint.CloseQuietly(old)
	fresh, err := endpoint.Open(ctx, conf)
	if err != nil {
		return nil, err
	}
	if nodeID == "" {
		p.standalone[idx] = fresh
	} else {
		p.byNode[nodeID][idx] = fresh
	}
	return fresh, nil
}

// Close tears down every lane in the pool.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeAllLocked()
	return nil
}

func (p *Pool) closeAllLocked() {
	for _, ep := range p.standalone {
		endpoint.CloseQuietly(ep)
	}
	for _, lanes := range p.byNode {
		for _, ep := range lanes {
			endpoint.CloseQuietly(ep)
		}
	}
}

// IsCluster reports whether this pool routes by cluster slot.
func (p *Pool) IsCluster() bool { return p.cluster }

// Lanes returns the number of lanes per target/node.
func (p *Pool) Lanes() int { return p.lanes }

// NodeIDs returns every cluster node ID known to the pool (empty for a
// standalone pool).
func (p *Pool) NodeIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.byNode))
	for id := range p.byNode {
		out = append(out, id)
	}
	return out
}

// AllEndpoints returns every live endpoint in the pool.
func (p *Pool) AllEndpoints() []*endpoint.Endpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []*endpoint.Endpoint
	out = append(out, p.standalone...)
	for _, lanes := range p.byNode {
		out = append(out, lanes...)
	}
	return out
}
