package mqc

// MQEncoder implements the MQ arithmetic encoder.
// Reference: ISO/IEC 15444-1:2019 Annex C (C.2), OpenJPEG opj_mqc
type MQEncoder struct {
	// Output buffer; index 0 is a dummy byte so bp can point "before" the
	// first real output byte, as OpenJPEG does.
	buffer []byte
	start  int
	bp     int

	a  uint32 // probability interval
	c  uint32 // code register
	ct int    // bit counter

	contexts []uint8
}

// bypassCtInit marks a freshly bypass-initialized counter so the first
// BypassEncode starts a new byte.
const bypassCtInit = 0xDEADBEEF

// NewMQEncoder creates an encoder with numContexts contexts at state 0.
func NewMQEncoder(numContexts int) *MQEncoder {
	return &MQEncoder{
		buffer:   make([]byte, 1, 1024),
		start:    1,
		a:        0x8000,
		ct:       12,
		contexts: make([]uint8, numContexts),
	}
}

// Encode encodes a single bit in the given context.
func (e *MQEncoder) Encode(bit int, contextID int) {
	cx := &e.contexts[contextID]
	state := *cx & 0x7F
	mps := int(*cx >> 7)

	qe := qeTable[state]

	if bit == mps {
		e.a -= qe
		if (e.a & 0x8000) == 0 {
			// conditional exchange, then renormalize
			if e.a < qe {
				e.a = qe
			} else {
				e.c += qe
			}
			*cx = nmpsTable[state] | (uint8(mps) << 7)
			e.renorme()
		} else {
			e.c += qe
		}
	} else {
		e.a -= qe
		if e.a < qe {
			e.c += qe
		} else {
			e.a = qe
		}
		nextMPS := mps
		if switchTable[state] == 1 {
			nextMPS = 1 - mps
		}
		*cx = nlpsTable[state] | (uint8(nextMPS) << 7)
		e.renorme()
	}
}

func (e *MQEncoder) renorme() {
	for e.a < 0x8000 {
		e.a <<= 1
		e.c <<= 1
		e.ct--
		if e.ct == 0 {
			e.byteout()
		}
	}
}

func (e *MQEncoder) byteout() {
	if e.bp >= len(e.buffer) {
		e.grow(e.bp)
	}

	if e.buffer[e.bp] == 0xFF {
		e.bp++
		e.grow(e.bp)
		e.buffer[e.bp] = byte(e.c >> 20)
		e.c &= 0xFFFFF
		e.ct = 7
		return
	}

	if (e.c & 0x8000000) == 0 {
		e.bp++
		e.grow(e.bp)
		e.buffer[e.bp] = byte(e.c >> 19)
		e.c &= 0x7FFFF
		e.ct = 8
		return
	}

	// carry propagation into the previous byte
	e.buffer[e.bp]++
	if e.buffer[e.bp] == 0xFF {
		e.c &= 0x7FFFFFF
		e.bp++
		e.grow(e.bp)
		e.buffer[e.bp] = byte(e.c >> 20)
		e.c &= 0xFFFFF
		e.ct = 7
		return
	}

	e.bp++
	e.grow(e.bp)
	e.buffer[e.bp] = byte(e.c >> 19)
	e.c &= 0x7FFFF
	e.ct = 8
}

func (e *MQEncoder) setbits() {
	// Fill remaining C bits with 1s; mirror opj_mqc_setbits().
	tempC := e.c + e.a
	e.c |= 0xFFFF
	if e.c >= tempC {
		e.c -= 0x8000
	}
}

// Flush finalizes encoding and returns the encoded bytes.
func (e *MQEncoder) Flush() []byte {
	e.FlushToOutput()
	return e.Buffer()
}

// FlushToOutput terminates the current coded segment in place, leaving the
// encoder ready for a RestartInitEnc. A coding pass must not end with 0xFF.
func (e *MQEncoder) FlushToOutput() {
	e.setbits()
	e.c <<= uint(e.ct)
	e.byteout()
	e.c <<= uint(e.ct)
	e.byteout()
	if e.buffer[e.bp] != 0xFF {
		e.bp++
	}
}

// ErtermEnc performs predictable termination (PTERM) flush, C.2.9.
func (e *MQEncoder) ErtermEnc() {
	k := 11 - e.ct + 1
	for k > 0 {
		e.c <<= uint(e.ct)
		e.ct = 0
		e.byteout()
		k -= e.ct
	}
	if e.buffer[e.bp] != 0xFF {
		e.byteout()
	}
}

// RestartInitEnc reinitializes state after a terminated pass.
// Mirrors OpenJPEG opj_mqc_restart_init_enc().
func (e *MQEncoder) RestartInitEnc() {
	e.a = 0x8000
	e.c = 0
	e.ct = 12
	if e.bp > e.start-1 {
		e.bp--
	}
	if e.bp >= 0 && e.bp < len(e.buffer) && e.buffer[e.bp] == 0xFF {
		e.ct = 13
	}
}

// BypassInitEnc initializes RAW (bypass) encoding.
func (e *MQEncoder) BypassInitEnc() {
	e.c = 0
	e.ct = bypassCtInit
}

// BypassEncode encodes a bit in RAW (bypass) mode with stuffing after 0xFF.
func (e *MQEncoder) BypassEncode(bit int) {
	if e.ct == bypassCtInit {
		e.ct = 8
	}
	e.ct--
	e.c += uint32(bit) << uint(e.ct)
	if e.ct == 0 {
		e.grow(e.bp)
		e.buffer[e.bp] = byte(e.c)
		e.ct = 8
		if e.buffer[e.bp] == 0xFF {
			e.ct = 7
		}
		e.bp++
		e.c = 0
	}
}

// BypassExtraBytes returns the extra bytes a non-terminating RAW pass would
// add if flushed here; used for rate bookkeeping.
func (e *MQEncoder) BypassExtraBytes(erterm bool) int {
	if e.ct < 7 {
		return 1
	}
	if e.ct == 7 && (erterm || (e.bp > 0 && e.buffer[e.bp-1] != 0xFF)) {
		return 1
	}
	return 0
}

// BypassFlushEnc flushes RAW (bypass) encoding with optional ERTERM padding.
func (e *MQEncoder) BypassFlushEnc(erterm bool) {
	if e.ct < 7 || (e.ct == 7 && (erterm || (e.bp > 0 && e.buffer[e.bp-1] != 0xFF))) {
		bitValue := 0
		for e.ct > 0 {
			e.ct--
			e.c += uint32(bitValue) << uint(e.ct)
			bitValue = 1 - bitValue
		}
		e.grow(e.bp)
		e.buffer[e.bp] = byte(e.c)
		e.bp++
	} else if e.ct == 7 && e.bp > 0 && e.buffer[e.bp-1] == 0xFF {
		if !erterm {
			e.bp--
		}
	} else if e.ct == 8 && !erterm && e.bp > 1 && e.buffer[e.bp-1] == 0x7F && e.buffer[e.bp-2] == 0xFF {
		e.bp -= 2
	}
}

// SegmarkEnc emits the four-symbol segmentation marker (SEGSYM).
func (e *MQEncoder) SegmarkEnc() {
	for i := 1; i < 5; i++ {
		e.Encode(i%2, 18)
	}
}

// Buffer returns the bytes emitted so far.
func (e *MQEncoder) Buffer() []byte {
	if e.bp < e.start {
		return []byte{}
	}
	return e.buffer[e.start:e.bp]
}

// NumBytes returns the number of bytes emitted so far, for rate tracking.
func (e *MQEncoder) NumBytes() int {
	if e.bp < e.start {
		return 0
	}
	return e.bp - e.start
}

// Reset reinitializes the whole encoder, dropping the output buffer.
func (e *MQEncoder) Reset() {
	e.buffer = make([]byte, 1, 1024)
	e.start = 1
	e.bp = 0
	e.a = 0x8000
	e.c = 0
	e.ct = 12
}

// ResetContexts resets every context to state 0, MPS 0.
func (e *MQEncoder) ResetContexts() {
	for i := range e.contexts {
		e.contexts[i] = 0
	}
}

// SetContextState sets one context's packed state byte.
func (e *MQEncoder) SetContextState(contextID int, state uint8) {
	e.contexts[contextID] = state
}

// ContextState returns one context's packed state byte.
func (e *MQEncoder) ContextState(contextID int) uint8 {
	return e.contexts[contextID]
}

// Contexts returns a copy of the context states.
func (e *MQEncoder) Contexts() []uint8 {
	out := make([]uint8, len(e.contexts))
	copy(out, e.contexts)
	return out
}

func (e *MQEncoder) grow(idx int) {
	if idx < len(e.buffer) {
		return
	}
	needed := idx + 1
	if needed <= cap(e.buffer) {
		e.buffer = e.buffer[:needed]
		return
	}
	newCap := cap(e.buffer) * 2
	if newCap < needed {
		newCap = needed
	}
	newBuf := make([]byte, needed, newCap)
	copy(newBuf, e.buffer)
	e.buffer = newBuf
}
