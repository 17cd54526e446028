package call

import "github.com/pion/webrtc/v4"

// candidateBuffer holds ICE candidates until they may be used: remote ones
// until the remote description is applied, local ones until the local
// description has been sent.
type candidateBuffer struct {
	open    bool
	pending []webrtc.ICECandidateInit
}

// add returns true when c can be used right away.
func (b *candidateBuffer) add(c webrtc.ICECandidateInit) bool {
	if b.open {
		return true
	}
	b.pending = append(b.pending, c)
	return false
}

// release opens the buffer and returns what was held, in arrival order.
func (b *candidateBuffer) release() []webrtc.ICECandidateInit {
	b.open = true
	out := b.pending
	b.pending = nil
	return out
}

// hold closes the buffer again but keeps what it holds. Remote candidates
// that arrived before a renegotiation belong to the peer's newest offer.
func (b *candidateBuffer) hold() {
	b.open = false
}

// reset closes the buffer and drops anything held.
func (b *candidateBuffer) reset() {
	b.open = false
	b.pending = nil
}

func (b *candidateBuffer) size() int { return len(b.pending) }
