package mqc

import (
	"math/rand"
	"testing"
)

const testContexts = 19

// TestStateTableIntegrity cross-checks the fixed tables against each other:
// every transition must stay inside the 47-state machine, and the switch
// flag is only set on states whose Qe is the maximum 0x5601.
func TestStateTableIntegrity(t *testing.T) {
	qe, nmps, nlps, sw := StateTables()
	for i := 0; i < 47; i++ {
		if nmps[i] > 46 {
			t.Errorf("state %d: nmps %d out of range", i, nmps[i])
		}
		if nlps[i] > 46 {
			t.Errorf("state %d: nlps %d out of range", i, nlps[i])
		}
		if sw[i] == 1 && qe[i] != 0x5601 {
			t.Errorf("state %d: switch set but Qe=%#x", i, qe[i])
		}
	}
	// Terminal state 46 self-loops on MPS.
	if nmps[46] != 46 {
		t.Errorf("state 46 must self-loop on MPS, got %d", nmps[46])
	}
}

// TestKnownSequence encodes the bit pattern from the ISO software test
// sequence through a single context and verifies the decoder returns it.
func TestKnownSequence(t *testing.T) {
	bits := []int{0, 0, 0, 1, 1, 0, 1, 0, 1, 1, 0, 0, 1, 1, 1, 1, 0, 0, 0, 0, 1, 0, 1, 0}

	enc := NewMQEncoder(testContexts)
	for _, b := range bits {
		enc.Encode(b, 0)
	}
	data := enc.Flush()

	dec := NewMQDecoder(data, testContexts)
	for i, want := range bits {
		if got := dec.Decode(0); got != want {
			t.Fatalf("bit %d: got %d want %d", i, got, want)
		}
	}
}

func TestRoundTripRandomMultiContext(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 20; trial++ {
		n := 64 + rng.Intn(2048)
		bits := make([]int, n)
		ctxs := make([]int, n)
		for i := range bits {
			bits[i] = rng.Intn(2)
			ctxs[i] = rng.Intn(testContexts)
		}

		enc := NewMQEncoder(testContexts)
		for i := range bits {
			enc.Encode(bits[i], ctxs[i])
		}
		data := enc.Flush()

		dec := NewMQDecoder(data, testContexts)
		for i := range bits {
			if got := dec.Decode(ctxs[i]); got != bits[i] {
				t.Fatalf("trial %d bit %d: got %d want %d", trial, i, got, bits[i])
			}
		}
	}
}

func TestRoundTripSkewed(t *testing.T) {
	// Heavily skewed input drives the state machine into the low-Qe states.
	rng := rand.New(rand.NewSource(7))
	bits := make([]int, 8192)
	for i := range bits {
		if rng.Intn(100) == 0 {
			bits[i] = 1
		}
	}

	enc := NewMQEncoder(testContexts)
	for _, b := range bits {
		enc.Encode(b, 3)
	}
	data := enc.Flush()
	if len(data) > len(bits)/8 {
		t.Errorf("skewed input did not compress: %d bytes for %d bits", len(data), len(bits))
	}

	dec := NewMQDecoder(data, testContexts)
	for i, want := range bits {
		if got := dec.Decode(3); got != want {
			t.Fatalf("bit %d: got %d want %d", i, got, want)
		}
	}
}

func TestNoDanglingFF(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	for trial := 0; trial < 50; trial++ {
		enc := NewMQEncoder(testContexts)
		for i := 0; i < 500; i++ {
			enc.Encode(rng.Intn(2), rng.Intn(testContexts))
		}
		data := enc.Flush()
		if len(data) > 0 && data[len(data)-1] == 0xFF {
			t.Fatalf("trial %d: coded segment ends with 0xFF", trial)
		}
		for i := 0; i+1 < len(data); i++ {
			if data[i] == 0xFF && data[i+1] >= 0x90 {
				t.Fatalf("trial %d: 0xFF followed by %#x", trial, data[i+1])
			}
		}
	}
}

func TestBypassRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	bits := make([]int, 1000)
	for i := range bits {
		bits[i] = rng.Intn(2)
	}

	enc := NewMQEncoder(testContexts)
	enc.BypassInitEnc()
	for _, b := range bits {
		enc.BypassEncode(b)
	}
	enc.BypassFlushEnc(false)
	data := enc.Buffer()

	dec := NewRawDecoder(data)
	for i, want := range bits {
		if got := dec.RawDecode(); got != want {
			t.Fatalf("bit %d: got %d want %d", i, got, want)
		}
	}
}

func TestContextPreservationAcrossSetData(t *testing.T) {
	enc := NewMQEncoder(testContexts)
	for i := 0; i < 100; i++ {
		enc.Encode((i/3)%2, 4)
	}
	seg1 := append([]byte(nil), enc.Flush()...)

	dec := NewMQDecoder(seg1, testContexts)
	for i := 0; i < 100; i++ {
		dec.Decode(4)
	}
	saved := dec.Contexts()
	dec2 := NewMQDecoderWithContexts(seg1, saved)
	if dec2.ContextState(4) != saved[4] {
		t.Errorf("context state not inherited")
	}
}

func TestEmptyInputDecode(t *testing.T) {
	// Decoding from an empty segment must not panic; it feeds 1 bits.
	dec := NewMQDecoder(nil, testContexts)
	for i := 0; i < 32; i++ {
		dec.Decode(0)
	}
}
