package runtime

import (
	"sync"

	"github.com/fortiblox/x1-journal/internal/types"
)

// SignatureIndex reports whether a transaction signature was already
// processed. The ledger implements it over its signature index.
type SignatureIndex interface {
	HasSignature(sig types.Signature) (bool, error)
}

// signatureRegistry rejects transactions whose signature was already
// processed. Signatures in flight are held in memory until their receipt is
// recorded; after that the index answers. Without an index, or when
// recording failed, processed signatures stay in memory for the life of
// the runtime.
type signatureRegistry struct {
	mu        sync.Mutex
	index     SignatureIndex
	inflight  map[types.Signature]struct{}
	processed map[types.Signature]struct{}
}

func newSignatureRegistry(index SignatureIndex) *signatureRegistry {
	return &signatureRegistry{
		index:     index,
		inflight:  make(map[types.Signature]struct{}),
		processed: make(map[types.Signature]struct{}),
	}
}

// claim reserves sig for one execution. It returns false if sig is in
// flight or was processed before.
func (r *signatureRegistry) claim(sig types.Signature) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.inflight[sig]; ok {
		return false, nil
	}
	if _, ok := r.processed[sig]; ok {
		return false, nil
	}
	if r.index != nil {
		seen, err := r.index.HasSignature(sig)
		if err != nil {
			return false, err
		}
		if seen {
			return false, nil
		}
	}
	r.inflight[sig] = struct{}{}
	return true, nil
}

// finish releases a claim. processed marks sig as consumed; indexed tells
// whether the index now knows about it.
func (r *signatureRegistry) finish(sig types.Signature, processed, indexed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.inflight, sig)
	if processed && (r.index == nil || !indexed) {
		r.processed[sig] = struct{}{}
	}
}
