package mqc

// MQDecoder implements the MQ arithmetic decoder.
// Reference: ISO/IEC 15444-1:2019 Annex C (C.3), OpenJPEG opj_mqc
type MQDecoder struct {
	// Input data with a 0xFF 0xFF sentinel appended so bytein never needs a
	// bounds check (OpenJPEG opj_mqc_init_dec_common).
	data    []byte
	bp      int // last read byte position
	dataLen int // original data length, without sentinel

	a   uint32 // probability interval
	c   uint32 // code register
	ct  int    // bit counter
	eos int    // end-of-stream byteins observed

	contexts []uint8
}

func withSentinel(data []byte) []byte {
	out := make([]byte, len(data)+2)
	copy(out, data)
	out[len(data)] = 0xFF
	out[len(data)+1] = 0xFF
	return out
}

// NewMQDecoder creates a decoder over data with numContexts contexts, all
// initialized to state 0 with MPS 0.
func NewMQDecoder(data []byte, numContexts int) *MQDecoder {
	d := &MQDecoder{
		data:     withSentinel(data),
		dataLen:  len(data),
		a:        0x8000,
		contexts: make([]uint8, numContexts),
	}
	d.init()
	return d
}

// NewMQDecoderWithContexts creates a decoder that inherits context states
// from a previous pass. Used for TERMALL mode where each pass is freshly
// initialized but contexts persist.
func NewMQDecoderWithContexts(data []byte, prev []uint8) *MQDecoder {
	d := &MQDecoder{
		data:     withSentinel(data),
		dataLen:  len(data),
		a:        0x8000,
		contexts: make([]uint8, len(prev)),
	}
	copy(d.contexts, prev)
	d.init()
	return d
}

// NewRawDecoder creates a decoder for RAW (bypass) segments.
func NewRawDecoder(data []byte) *MQDecoder {
	return &MQDecoder{
		data:    withSentinel(data),
		dataLen: len(data),
	}
}

// SetData swaps in a new buffer while preserving context states, then
// reinitializes the registers. Used across terminated pass boundaries.
func (d *MQDecoder) SetData(data []byte) {
	d.data = withSentinel(data)
	d.bp = 0
	d.dataLen = len(data)
	d.eos = 0
	d.a = 0x8000
	d.c = 0
	d.ct = 0
	d.init()
}

// init implements ISO 15444-1 C.3.5 (INITDEC).
func (d *MQDecoder) init() {
	if d.dataLen == 0 {
		d.c = 0xFF << 16
	} else {
		d.c = uint32(d.data[0]) << 16
	}
	d.bytein()
	d.c <<= 7
	d.ct -= 7
	d.a = 0x8000
}

// Decode decodes a single bit in the given context. Hot path: table driven,
// multiplication free.
func (d *MQDecoder) Decode(contextID int) int {
	cx := &d.contexts[contextID]
	state := *cx & 0x7F
	mps := int(*cx >> 7)

	qe := qeTable[state]
	d.a -= qe

	var bit int
	if (d.c >> 16) < qe {
		// LPS exchange path (C.3.2)
		if d.a < qe {
			d.a = qe
			bit = mps
			*cx = nmpsTable[state] | (uint8(mps) << 7)
		} else {
			d.a = qe
			bit = 1 - mps
			nextMPS := mps
			if switchTable[state] == 1 {
				nextMPS = 1 - mps
			}
			*cx = nlpsTable[state] | (uint8(nextMPS) << 7)
		}
		d.renormd()
	} else {
		d.c -= qe << 16
		if (d.a & 0x8000) != 0 {
			return mps
		}
		if d.a < qe {
			bit = 1 - mps
			nextMPS := mps
			if switchTable[state] == 1 {
				nextMPS = 1 - mps
			}
			*cx = nlpsTable[state] | (uint8(nextMPS) << 7)
		} else {
			bit = mps
			*cx = nmpsTable[state] | (uint8(mps) << 7)
		}
		d.renormd()
	}
	return bit
}

func (d *MQDecoder) renormd() {
	for d.a < 0x8000 {
		if d.ct == 0 {
			d.bytein()
		}
		d.a <<= 1
		d.c <<= 1
		d.ct--
	}
}

// bytein reads the next byte, honoring 0xFF stuffing. A 0xFF followed by a
// byte > 0x8F is marker territory: feed 1 bits instead of consuming it.
func (d *MQDecoder) bytein() {
	next := d.data[d.bp+1]
	if d.data[d.bp] == 0xFF {
		if next > 0x8F {
			d.c += 0xFF00
			d.ct = 8
			d.eos++
		} else {
			d.bp++
			d.c += uint32(next) << 9
			d.ct = 7
		}
	} else {
		d.bp++
		d.c += uint32(next) << 8
		d.ct = 8
	}
}

// RawInit reinitializes the decoder for a RAW (bypass) segment.
func (d *MQDecoder) RawInit(data []byte) {
	d.data = withSentinel(data)
	d.bp = 0
	d.dataLen = len(data)
	d.eos = 0
	d.a = 0
	d.c = 0
	d.ct = 0
}

// RawDecode decodes a single bit in RAW (bypass) mode.
func (d *MQDecoder) RawDecode() int {
	if d.ct == 0 {
		if d.c == 0xFF {
			next := d.data[d.bp]
			if next > 0x8F {
				d.c = 0xFF
				d.ct = 8
			} else {
				d.c = uint32(next)
				d.bp++
				d.ct = 7
			}
		} else {
			d.c = uint32(d.data[d.bp])
			d.bp++
			d.ct = 8
		}
	}
	d.ct--
	return int((d.c >> uint(d.ct)) & 0x01)
}

// ReinitAfterTermination resets the registers after a terminated pass while
// keeping the read position and contexts.
func (d *MQDecoder) ReinitAfterTermination() {
	d.a = 0x8000
	d.c = 0
	d.ct = 0
}

// Contexts returns a copy of the context states.
func (d *MQDecoder) Contexts() []uint8 {
	out := make([]uint8, len(d.contexts))
	copy(out, d.contexts)
	return out
}

// ResetContexts resets every context to state 0, MPS 0.
func (d *MQDecoder) ResetContexts() {
	for i := range d.contexts {
		d.contexts[i] = 0
	}
}

// SetContextState sets one context's packed state byte.
func (d *MQDecoder) SetContextState(contextID int, state uint8) {
	d.contexts[contextID] = state
}

// ContextState returns one context's packed state byte.
func (d *MQDecoder) ContextState(contextID int) uint8 {
	return d.contexts[contextID]
}
