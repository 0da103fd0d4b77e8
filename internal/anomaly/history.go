package anomaly

// ring keeps the newest cap entries of a player's history.
type ring struct {
	buf   []Entry
	start int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Entry, capacity)}
}

func (r *ring) push(e Entry) {
	if len(r.buf) == 0 {
		return
	}
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = e
		r.size++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

// last returns up to n newest entries, oldest first.
func (r *ring) last(n int) []Entry {
	if n > r.size {
		n = r.size
	}
	out := make([]Entry, n)
	skip := r.size - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.start+skip+i)%len(r.buf)]
	}
	return out
}

func (r *ring) len() int { return r.size }
