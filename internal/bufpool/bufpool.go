// Package bufpool implements the shared rented-buffer pool referenced
// throughout spec §5 and §9: a size-class-indexed free list so packet
// payloads and outbound frames can be reused instead of allocated fresh on
// every packet. Ownership is single-owner at any moment: whoever rents a
// buffer either returns it to the pool or hands it to the outbound queue,
// whose consumer (the transport collaborator) returns it after
// transmission.
package bufpool

import "sync"

// minClass is the smallest size class, in bytes.
const minClass = 256

// Pool is a size-classed free list of byte slices.
type Pool struct {
	classes sync.Map // int(class size) -> *sync.Pool
}

// New creates an empty buffer pool.
func New() *Pool {
	return &Pool{}
}

func classFor(n int) int {
	c := minClass
	for c < n {
		c <<= 1
	}
	return c
}

func (p *Pool) poolFor(class int) *sync.Pool {
	if v, ok := p.classes.Load(class); ok {
		return v.(*sync.Pool)
	}
	sz := class
	newPool := &sync.Pool{
		New: func() any {
			buf := make([]byte, sz)
			return &buf
		},
	}
	actual, _ := p.classes.LoadOrStore(class, newPool)
	return actual.(*sync.Pool)
}

// Rent returns a buffer of at least n bytes, sliced to exactly length n.
// The caller owns the returned slice until it calls Release (directly, or
// indirectly by handing it to the outbound queue).
func (p *Pool) Rent(n int) []byte {
	class := classFor(n)
	sp := p.poolFor(class)
	bufPtr := sp.Get().(*[]byte)
	buf := *bufPtr
	if cap(buf) < n {
		buf = make([]byte, class)
	}
	return buf[:n]
}

// Release returns buf to the pool keyed by its capacity's size class. Callers
// must not use buf after calling Release.
func (p *Pool) Release(buf []byte) {
	if cap(buf) == 0 {
		return
	}
	class := classFor(cap(buf))
	if class != cap(buf) {
		// Not a buffer this pool rented (odd capacity); drop it.
		return
	}
	full := buf[:cap(buf)]
	sp := p.poolFor(class)
	sp.Put(&full)
}
