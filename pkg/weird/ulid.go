package weird

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mesh-intelligence/weird/pkg/gdata"
)

// ulidSource hands out strictly increasing ULIDs. Link and list entries are
// keyed by them so that key order is insertion order.
type ulidSource struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func newULIDSource() *ulidSource {
	return &ulidSource{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (s *ulidSource) next() ulid.ULID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy)
}

// segment returns the next ULID as a Bytes key segment. ULID bytes are
// big-endian, so segments sort by creation.
func (s *ulidSource) segment() gdata.KeySegment {
	id := s.next()
	return gdata.SegBytes(id[:])
}
