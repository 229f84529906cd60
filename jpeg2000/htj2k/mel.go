package htj2k

// MEL (MELCODE) run-length coder, T.814 clause 7.2. Codes the sequence of
// "is this quad significant?" events with an adaptive exponential
// run-length code over 13 states.

// melExponents is the fixed 13-entry state-to-exponent table.
var melExponents = [13]int{0, 0, 0, 1, 1, 1, 2, 2, 2, 3, 3, 4, 5}

// melEncoder codes binary events into a forward bit stream.
type melEncoder struct {
	w     *fwdWriter
	state int
	run   int
}

func newMELEncoder() *melEncoder {
	return &melEncoder{w: &fwdWriter{}}
}

// encode codes one event: 0 extends the current zero run, 1 ends it.
func (m *melEncoder) encode(bit int) {
	if bit == 0 {
		m.run++
		if m.run == 1<<uint(melExponents[m.state]) {
			// Full run at the current threshold: hit bit, grow state.
			m.w.put(1, 1)
			m.run = 0
			if m.state < 12 {
				m.state++
			}
		}
		return
	}

	// Terminating 1: miss bit plus the partial run length.
	e := melExponents[m.state]
	m.w.put(0, 1)
	if e > 0 {
		m.w.put(uint32(m.run), e)
	}
	m.run = 0
	if m.state > 0 {
		m.state--
	}
}

// flush terminates a pending partial run and returns the MEL bytes. The
// phantom terminator is never consumed: the decoder stops at the event
// count.
func (m *melEncoder) flush() []byte {
	if m.run > 0 {
		m.encode(1)
	}
	return m.w.flush()
}

// melDecoder mirrors melEncoder. Decoded events queue up as a zero count
// plus an optional trailing one.
type melDecoder struct {
	r     *fwdReader
	state int
	zeros int
	one   bool
}

func newMELDecoder(data []byte) *melDecoder {
	return &melDecoder{r: newFwdReader(data)}
}

// decode returns the next event.
func (m *melDecoder) decode() int {
	for {
		if m.zeros > 0 {
			m.zeros--
			return 0
		}
		if m.one {
			m.one = false
			return 1
		}

		e := melExponents[m.state]
		if m.r.get(1) == 1 {
			// Full run of 2^e zeros.
			m.zeros = 1 << uint(e)
			if m.state < 12 {
				m.state++
			}
			continue
		}
		partial := 0
		if e > 0 {
			partial = int(m.r.get(e))
		}
		m.zeros = partial
		m.one = true
		if m.state > 0 {
			m.state--
		}
	}
}
