package telemetry

// DropPolicy selects which point is discarded when the buffer is full.
type DropPolicy string

const (
	// DropNewest rejects the incoming point, keeping already-queued data.
	// This bounds the staleness of what eventually ships.
	DropNewest DropPolicy = "newest"
	// DropOldest evicts the oldest queued point to make room.
	DropOldest DropPolicy = "oldest"
)

// pointBuffer is the bounded queue between producer call sites and the
// background shipper. Producers push without ever blocking; the shipper is
// the only reader. Overflow is resolved by the configured drop policy and
// every lost point increments the shared dropped counter.
type pointBuffer struct {
	ch     chan *Point
	policy DropPolicy
	stats  *counters
}

func newPointBuffer(capacity int, policy DropPolicy, stats *counters) *pointBuffer {
	if capacity <= 0 {
		capacity = defaultBufferCapacity
	}
	return &pointBuffer{
		ch:     make(chan *Point, capacity),
		policy: policy,
		stats:  stats,
	}
}

// push enqueues a point, returning false if a point was dropped. It never
// blocks: a full buffer either rejects p (DropNewest) or evicts the head
// (DropOldest).
func (b *pointBuffer) push(p *Point) bool {
	select {
	case b.ch <- p:
		return true
	default:
	}

	if b.policy == DropOldest {
		select {
		case <-b.ch:
			b.stats.dropped.Add(1)
		default:
		}
		select {
		case b.ch <- p:
			return true
		default:
		}
	}

	b.stats.dropped.Add(1)
	return false
}

func (b *pointBuffer) len() int { return len(b.ch) }
