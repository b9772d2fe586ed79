package imageflow

import "sync"

// NodeID is a stable handle for a pipeline node. IDs are assigned by the
// context's graph at node construction and are never reused, so a stale
// handle can be detected rather than silently aliasing a new node.
type NodeID uint64

// graphEdge is one producer→consumer connection stored in the registry.
type graphEdge struct {
	consumer NodeID
	slot     int
}

// targetEdge is a resolved edge handed to the fan-out path: the live
// consumer plus the input slot it occupies on that consumer.
type targetEdge struct {
	consumer ImageConsumer
	slot     int
}

// pipelineGraph is the central edge registry owned by a RenderContext.
//
// All pipeline edges live here rather than inside the nodes: connecting,
// disconnecting, and closing a node are explicit registry mutations, and
// fan-out works from a point-in-time snapshot. The registry has its own
// mutex, separate from the render queue, so membership changes are safe
// from any goroutine; consumer notification still only happens on the
// render queue.
type pipelineGraph struct {
	mu     sync.Mutex
	nextID NodeID

	// consumers resolves live consumer nodes for dispatch. A node absent
	// from this map is closed; snapshots prune its edges lazily.
	consumers map[NodeID]ImageConsumer

	// producers resolves live producer nodes, used when a consumer asks
	// its upstream to retransmit a retained image.
	producers map[NodeID]ImageSource

	// targets holds each producer's outgoing edges in creation order.
	// Dispatch order is exactly this order.
	targets map[NodeID][]graphEdge

	// slots holds each consumer's input occupancy: slot index → producer.
	slots map[NodeID]map[int]NodeID
}

func newPipelineGraph() *pipelineGraph {
	return &pipelineGraph{
		consumers: make(map[NodeID]ImageConsumer),
		producers: make(map[NodeID]ImageSource),
		targets:   make(map[NodeID][]graphEdge),
		slots:     make(map[NodeID]map[int]NodeID),
	}
}

func (g *pipelineGraph) registerProducer(s ImageSource) NodeID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	id := g.nextID
	g.producers[id] = s
	return id
}

func (g *pipelineGraph) registerConsumer(c ImageConsumer) NodeID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	id := g.nextID
	g.consumers[id] = c
	return id
}

// unregister removes a node and severs every edge touching it, in both
// directions. Called from node Close; afterwards no fan-out can reach the
// node and no slot references it.
func (g *pipelineGraph) unregister(id NodeID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.producers[id]; ok {
		g.severProducerLocked(id)
		delete(g.producers, id)
	}
	if _, ok := g.consumers[id]; ok {
		g.severConsumerLocked(id)
		delete(g.consumers, id)
	}
}

func (g *pipelineGraph) severProducerLocked(producer NodeID) {
	for _, e := range g.targets[producer] {
		if occ := g.slots[e.consumer]; occ != nil && occ[e.slot] == producer {
			delete(occ, e.slot)
		}
	}
	delete(g.targets, producer)
}

func (g *pipelineGraph) severConsumerLocked(consumer NodeID) {
	for producer, edges := range g.targets {
		kept := edges[:0]
		for _, e := range edges {
			if e.consumer != consumer {
				kept = append(kept, e)
			}
		}
		g.targets[producer] = kept
	}
	delete(g.slots, consumer)
}

// connectFree attaches producer to the lowest unoccupied input slot of
// consumer. Returns false when all maxInputs slots are taken.
func (g *pipelineGraph) connectFree(producer, consumer NodeID, maxInputs int) (int, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	occ := g.slots[consumer]
	slot := -1
	for i := range maxInputs {
		if _, taken := occ[i]; !taken {
			slot = i
			break
		}
	}
	if slot < 0 {
		return 0, false
	}
	g.connectLocked(producer, consumer, slot)
	return slot, true
}

// connectAt attaches producer at an explicit slot. An occupied slot is
// taken over: the previous producer's edge to this slot is severed first,
// so exactly one producer feeds any slot at any time.
func (g *pipelineGraph) connectAt(producer, consumer NodeID, slot int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if prev, taken := g.slots[consumer][slot]; taken && prev != producer {
		g.removeEdgeLocked(prev, consumer, slot)
	}
	g.connectLocked(producer, consumer, slot)
}

func (g *pipelineGraph) connectLocked(producer, consumer NodeID, slot int) {
	// Reconnecting the same pair at the same slot must not duplicate the
	// edge (it would double-dispatch every frame).
	for _, e := range g.targets[producer] {
		if e.consumer == consumer && e.slot == slot {
			return
		}
	}
	g.targets[producer] = append(g.targets[producer], graphEdge{consumer: consumer, slot: slot})
	occ := g.slots[consumer]
	if occ == nil {
		occ = make(map[int]NodeID)
		g.slots[consumer] = occ
	}
	occ[slot] = producer
}

func (g *pipelineGraph) removeEdgeLocked(producer, consumer NodeID, slot int) {
	edges := g.targets[producer]
	kept := edges[:0]
	for _, e := range edges {
		if e.consumer == consumer && e.slot == slot {
			continue
		}
		kept = append(kept, e)
	}
	g.targets[producer] = kept
	if occ := g.slots[consumer]; occ != nil && occ[slot] == producer {
		delete(occ, slot)
	}
}

// disconnectProducer severs all outgoing edges of producer. Consumers are
// not notified; their slots simply free up.
func (g *pipelineGraph) disconnectProducer(producer NodeID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.severProducerLocked(producer)
}

// disconnectSlot detaches whatever feeds the given input slot of consumer.
func (g *pipelineGraph) disconnectSlot(consumer NodeID, slot int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	producer, taken := g.slots[consumer][slot]
	if !taken {
		return
	}
	g.removeEdgeLocked(producer, consumer, slot)
}

// snapshotTargets returns producer's live edges in dispatch order.
// Edges to closed consumers are pruned from the registry during the
// snapshot, so a consumer that was closed without explicit detachment is
// skipped and never dispatched to again.
func (g *pipelineGraph) snapshotTargets(producer NodeID) []targetEdge {
	g.mu.Lock()
	defer g.mu.Unlock()

	edges := g.targets[producer]
	kept := edges[:0]
	resolved := make([]targetEdge, 0, len(edges))
	for _, e := range edges {
		c, alive := g.consumers[e.consumer]
		if !alive {
			continue
		}
		kept = append(kept, e)
		resolved = append(resolved, targetEdge{consumer: c, slot: e.slot})
	}
	g.targets[producer] = kept
	return resolved
}

// targetCount returns the number of live outgoing edges of producer.
func (g *pipelineGraph) targetCount(producer NodeID) int {
	return len(g.snapshotTargets(producer))
}

// sourceCount returns the number of occupied input slots of consumer.
func (g *pipelineGraph) sourceCount(consumer NodeID) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.slots[consumer])
}

// sourceAt returns the producer occupying the given slot, if any.
func (g *pipelineGraph) sourceAt(consumer NodeID, slot int) (NodeID, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.slots[consumer][slot]
	return p, ok
}

// sourceOwnerAt resolves the live ImageSource feeding the given slot.
// Returns nil,false when the slot is empty or its producer has closed.
func (g *pipelineGraph) sourceOwnerAt(consumer NodeID, slot int) (ImageSource, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.slots[consumer][slot]
	if !ok {
		return nil, false
	}
	s, alive := g.producers[p]
	if !alive || s == nil {
		return nil, false
	}
	return s, true
}
