// Package worker fans a filtered event stream out across a pool's
// lanes: one goroutine per lane, each owning its endpoint exclusively,
// so no lane needs locking to pipeline its writes.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"df2redis/internal/cluster"
	"df2redis/internal/endpoint"
	"df2redis/internal/event"
	"df2redis/internal/logger"
	"df2redis/internal/metrics"
	"df2redis/internal/pool"
	"df2redis/internal/resp"

	"golang.org/x/time/rate"
)

// Config configures a Dispatcher.
type Config struct {
	Filter          *event.Filter
	Replace         ReplaceMode
	DryRun          bool
	Logger          *logger.Logger
	Stats           metrics.Sink
	Supervisor      *endpoint.Supervisor
	QueueFactor     int  // per-lane channel capacity = QueueFactor * BatchSize
	BatchSize       int  // migrate_batch_size; also the auto-flush threshold already baked into each endpoint's PipeBudget
	ThrottleQPS     int  // migrate_throttle_qps; 0 disables per-lane pacing
	FlushPerCommand bool // migrate_flush=yes: every command is sent synchronously, so a retry always knows exactly which one failed
}

func (c *Config) setDefaults() {
	if c.QueueFactor <= 0 {
		c.QueueFactor = 4
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1
	}
	if c.Supervisor == nil {
		c.Supervisor = endpoint.NewSupervisor(endpoint.Policy{})
	}
}

// laneKey identifies one lane: (nodeID, idx). nodeID is "" for a
// standalone pool.
type laneKey struct {
	node string
	idx  int
}

// item is what flows down a lane's channel.
type item struct {
	ev    event.Event
	keys  [][]byte // resolved for Command/StreamCommand; nil for KeyValue (ev.Key is the key)
	flush chan<- struct{}
}

// laneState is owned exclusively by its goroutine; nothing else ever
// touches its endpoint or bookkeeping, so it needs no lock.
type laneState struct {
	key   laneKey
	ch    chan item
	ep    *endpoint.Endpoint
	dirty bool // true once the endpoint's cached DB can no longer be trusted without a reselect

	lastCmd []interface{} // most recent single command sent, for supervisor retry

	limiter *rate.Limiter // nil when Config.ThrottleQPS == 0
}

// Dispatcher routes a filtered event stream to a pool's lanes and drains
// them, implementing the BeginRdb/KeyValue/Command/StreamCommand/EndRdb
// handling.
type Dispatcher struct {
	cfg  Config
	pool *pool.Pool
	lanes map[laneKey]*laneState
	order []laneKey // stable iteration order for broadcast

	defaultIdx  int // round-robin cursor over nodes for keyless commands in cluster mode
	crossSlotAddr string

	wg sync.WaitGroup
}

// New builds a Dispatcher with one goroutine pre-created per lane the
// pool exposes.
func New(cfg Config, p *pool.Pool) (*Dispatcher, error) {
	cfg.setDefaults()
	d := &Dispatcher{
		cfg:   cfg,
		pool:  p,
		lanes: make(map[laneKey]*laneState),
		crossSlotAddr: "cross_slot",
	}
	queueCap := cfg.QueueFactor * cfg.BatchSize

	add := func(node string, idx int) error {
		ep, err := p.EndpointAt(node, idx)
		if err != nil {
			return err
		}
		k := laneKey{node: node, idx: idx}
		ls := &laneState{key: k, ch: make(chan item, queueCap), ep: ep}
		if cfg.ThrottleQPS > 0 {
			ls.limiter = rate.NewLimiter(rate.Limit(cfg.ThrottleQPS), cfg.ThrottleQPS)
		}
		d.lanes[k] = ls
		d.order = append(d.order, k)
		return nil
	}

	if p.IsCluster() {
		for _, node := range p.NodeIDs() {
			for i := 0; i < p.Lanes(); i++ {
				if err := add(node, i); err != nil {
					return nil, err
				}
			}
		}
	} else {
		for i := 0; i < p.Lanes(); i++ {
			if err := add("", i); err != nil {
				return nil, err
			}
		}
	}
	return d, nil
}

// Run drains source until it returns io.EOF, routing every admitted
// event to its lane and blocking on a full lane channel to apply
// backpressure upstream. It returns once EndRdb has been broadcast and
// every lane has finished draining, or ctx is canceled, or source
// returns a non-EOF error.
func (d *Dispatcher) Run(ctx context.Context, src event.Source) error {
	for _, ls := range d.lanes {
		d.wg.Add(1)
		go d.runLane(ctx, ls)
	}

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			runErr = ctx.Err()
			break loop
		default:
		}

		ev, err := src.Next()
		if err != nil {
			if err != io.EOF {
				runErr = err
			}
			break loop
		}
		if !d.cfg.Filter.Match(ev) {
			continue
		}

		switch ev.Kind {
		case event.KindBeginRDB:
			d.broadcast(ctx, ev, nil)
		case event.KindEndRDB:
			d.drainAll(ctx, ev)
		case event.KindKeyValue:
			d.routeKeyValue(ctx, ev)
		case event.KindCommand, event.KindStreamCommand:
			d.routeCommand(ctx, ev)
		}
	}

	for _, ls := range d.lanes {
		close(ls.ch)
	}
	d.wg.Wait()
	return runErr
}

func (d *Dispatcher) send(ctx context.Context, ls *laneState, it item) {
	select {
	case ls.ch <- it:
	case <-ctx.Done():
	}
}

func (d *Dispatcher) broadcast(ctx context.Context, ev event.Event, flush chan<- struct{}) {
	for _, k := range d.order {
		d.send(ctx, d.lanes[k], item{ev: ev, flush: flush})
	}
}

// drainAll broadcasts EndRdb and blocks until every lane has
// acknowledged its flush, so the caller never observes a migration as
// "done" while a lane still has buffered writes in flight.
func (d *Dispatcher) drainAll(ctx context.Context, ev event.Event) {
	acks := make(chan struct{}, len(d.order))
	for _, k := range d.order {
		d.send(ctx, d.lanes[k], item{ev: ev, flush: acks})
	}
	for range d.order {
		select {
		case <-acks:
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) routeKeyValue(ctx context.Context, ev event.Event) {
	ls := d.laneFor(ev.Key)
	if ls == nil {
		return
	}
	d.send(ctx, ls, item{ev: ev})
}

func (d *Dispatcher) routeCommand(ctx context.Context, ev event.Event) {
	keys := ExtractKeys(ev.Argv)
	if len(keys) == 0 {
		ls := d.defaultLane()
		d.send(ctx, ls, item{ev: ev})
		return
	}
	if d.pool.IsCluster() && !cluster.SameSlot(keys) {
		if d.cfg.Stats != nil {
			d.cfg.Stats.Inc(metrics.EndpointFailure, d.crossSlotAddr, "cross-slot", 1)
		}
		if d.cfg.Logger != nil {
			d.cfg.Logger.Warnf("worker: dropped cross-slot command %q (%d keys)", ev.Argv[0], len(keys))
		}
		return
	}
	ls := d.laneFor(keys[0])
	if ls == nil {
		return
	}
	d.send(ctx, ls, item{ev: ev, keys: keys})
}

func (d *Dispatcher) laneFor(key []byte) *laneState {
	if !d.pool.IsCluster() {
		_, idx := d.pool.Lane(key)
		return d.lanes[laneKey{idx: idx}]
	}
	node, ok := d.pool.NodeForKey(key)
	if !ok {
		return nil
	}
	_, idx, err := d.pool.LaneForNode(node, key)
	if err != nil {
		return nil
	}
	return d.lanes[laneKey{node: node, idx: idx}]
}

// defaultLane picks a lane for commands that touch no key (PING-style
// admin/keyless commands observed on a replication link). Standalone
// pools use lane 0; cluster pools round-robin across master nodes.
func (d *Dispatcher) defaultLane() *laneState {
	if !d.pool.IsCluster() {
		return d.lanes[laneKey{idx: 0}]
	}
	nodes := d.pool.NodeIDs()
	if len(nodes) == 0 {
		return nil
	}
	n := nodes[d.defaultIdx%len(nodes)]
	d.defaultIdx++
	return d.lanes[laneKey{node: n, idx: 0}]
}

// runLane is the sole goroutine that ever touches ls.ep; it owns the
// endpoint exclusively for the lifetime of the dispatcher, including
// across reconnects (Reopen swaps the pool's slot and handleFailure
// installs the endpoint it returns).
func (d *Dispatcher) runLane(ctx context.Context, ls *laneState) {
	defer d.wg.Done()
	for it := range ls.ch {
		switch it.ev.Kind {
		case event.KindBeginRDB:
			ls.dirty = true
		case event.KindEndRDB:
			d.drainLane(ctx, ls)
			if it.flush != nil {
				it.flush <- struct{}{}
			}
		case event.KindKeyValue:
			ls.throttle(ctx)
			d.applyKeyValue(ctx, ls, it.ev)
		case event.KindCommand, event.KindStreamCommand:
			ls.throttle(ctx)
			d.applyCommand(ctx, ls, it.ev, it.keys)
		}
	}
}

// throttle paces a lane to Config.ThrottleQPS, when set.
func (ls *laneState) throttle(ctx context.Context) {
	if ls.limiter == nil {
		return
	}
	_ = ls.limiter.Wait(ctx)
}

func (d *Dispatcher) selectDBIfNeeded(ctx context.Context, ls *laneState, db int) {
	if !ls.dirty && ls.ep.DB() == db {
		return
	}
	if d.cfg.DryRun {
		ls.dirty = false
		return
	}
	cmd := []interface{}{"SELECT", db}
	if d.cfg.FlushPerCommand || d.cfg.Replace == ReplaceFallback {
		if _, err := ls.ep.Send(cmd...); err != nil {
			d.handleFailure(ctx, ls, err, cmd)
			return
		}
	} else if err := ls.ep.Batch(false, cmd...); err != nil {
		d.handleFailure(ctx, ls, err, cmd)
		return
	}
	ls.ep.RecordSend()
	ls.ep.SetDB(db)
	ls.dirty = false
}

func (d *Dispatcher) applyKeyValue(ctx context.Context, ls *laneState, ev event.Event) {
	d.selectDBIfNeeded(ctx, ls, ev.DB)

	ttl := relativeTTLMillis(ev.ExpireAtMs, time.Now().UnixMilli())
	cmd := d.restoreCommand(ev.Key, ttl, ev.Payload)

	if d.cfg.DryRun {
		return
	}

	if d.cfg.Replace == ReplaceFallback {
		d.sendFallbackRestore(ctx, ls, ev.Key, ttl, ev.Payload, cmd)
		return
	}

	if d.cfg.FlushPerCommand {
		ls.lastCmd = cmd
		if _, err := ls.ep.Send(cmd...); err != nil {
			d.handleFailure(ctx, ls, err, cmd)
			return
		}
		ls.ep.RecordSend()
		return
	}

	if err := ls.ep.Batch(false, cmd...); err != nil {
		d.handleFailure(ctx, ls, err, cmd)
		return
	}
	ls.ep.RecordSend()
	ls.lastCmd = cmd
}

// sendFallbackRestore sends a plain RESTORE synchronously, so a BUSYKEY
// reply can be correlated back to exactly this key without depending on
// its position in a pipelined batch, then retries as DEL+RESTORE.
func (d *Dispatcher) sendFallbackRestore(ctx context.Context, ls *laneState, key []byte, ttl int64, payload []byte, cmd []interface{}) {
	ls.lastCmd = cmd
	_, err := ls.ep.Send(cmd...)
	if err == nil {
		ls.ep.RecordSend()
		return
	}

	var replyErr *endpoint.ReplyError
	if errors.As(err, &replyErr) {
		if respErr, ok := replyErr.Err.(*resp.Error); ok && strings.HasPrefix(respErr.Message, "BUSYKEY") {
			ls.ep.RecordSend()
			if _, derr := ls.ep.Send("DEL", key); derr != nil {
				d.handleFailure(ctx, ls, derr, nil)
				return
			}
			if _, rerr := ls.ep.Send("RESTORE", key, ttl, payload); rerr != nil {
				d.handleFailure(ctx, ls, rerr, nil)
			}
			return
		}
	}
	d.handleFailure(ctx, ls, err, cmd)
}

func (d *Dispatcher) restoreCommand(key []byte, ttl int64, payload []byte) []interface{} {
	switch d.cfg.Replace {
	case ReplaceOn:
		return []interface{}{"RESTORE", key, ttl, payload, "REPLACE"}
	case ReplaceLegacy:
		return []interface{}{"EVAL", legacyDelRestoreScript, 1, key, ttl, payload}
	default: // ReplaceOff, ReplaceFallback: plain RESTORE; fallback reacts to an immediate BUSYKEY reply
		return []interface{}{"RESTORE", key, ttl, payload}
	}
}

func (d *Dispatcher) applyCommand(ctx context.Context, ls *laneState, ev event.Event, keys [][]byte) {
	d.selectDBIfNeeded(ctx, ls, ev.DB)
	if d.cfg.DryRun {
		return
	}
	argv := make([]interface{}, len(ev.Argv))
	for i, a := range ev.Argv {
		argv[i] = a
	}

	if d.cfg.FlushPerCommand {
		ls.lastCmd = argv
		if _, err := ls.ep.Send(argv...); err != nil {
			d.handleFailure(ctx, ls, err, argv)
			return
		}
		ls.ep.RecordSend()
		return
	}

	if err := ls.ep.Batch(false, argv...); err != nil {
		d.handleFailure(ctx, ls, err, argv)
		return
	}
	ls.ep.RecordSend()
	ls.lastCmd = argv
}

// drainLane flushes any batch still buffered in the endpoint's
// pipeline, so a run never finishes with writes parked but unsent.
// Nothing is buffered here under FlushPerCommand, which sends every
// command synchronously; ReplaceFallback sends SELECTs and RESTOREs
// synchronously but still batches Command events.
func (d *Dispatcher) drainLane(ctx context.Context, ls *laneState) {
	if d.cfg.DryRun {
		return
	}
	if ls.ep.Inflight() == 0 {
		return
	}
	if _, err := ls.ep.Sync(); err != nil {
		d.handleFailure(ctx, ls, err, nil)
	}
}

// handleFailure hands the failure to the Supervisor, which reopens the
// endpoint (and re-sends lastCmd when the retry policy allows it), and
// installs the freshly reopened endpoint in place of ls.ep.
func (d *Dispatcher) handleFailure(ctx context.Context, ls *laneState, failure error, lastCmd []interface{}) {
	if d.cfg.Logger != nil {
		d.cfg.Logger.Warnf("worker: lane %s failed: %v", laneLabel(ls.key), failure)
	}
	addr := ls.ep.Addr()
	reopen := func(rctx context.Context) (*endpoint.Endpoint, error) {
		return d.pool.Reopen(rctx, ls.key.node, ls.key.idx)
	}
	fresh, err := d.cfg.Supervisor.HandleFailure(ctx, addr, d.cfg.Stats, reopen, lastCmd)
	if err != nil {
		if d.cfg.Logger != nil {
			d.cfg.Logger.Errorf("worker: lane %s could not recover: %v", laneLabel(ls.key), err)
		}
		return
	}
	ls.ep = fresh
	ls.dirty = true
}

func laneLabel(k laneKey) string {
	if k.node == "" {
		return fmt.Sprintf("standalone[%d]", k.idx)
	}
	return fmt.Sprintf("%s[%d]", k.node, k.idx)
}
