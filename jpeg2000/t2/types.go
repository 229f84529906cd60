package t2

// PrecinctSize holds a resolution level's precinct size exponents.
type PrecinctSize struct {
	PPx uint8
	PPy uint8
}

// Packet is the Tier-2 transport unit, identified by (layer, resolution,
// component, precinct).
type Packet struct {
	Layer      int
	Resolution int
	Component  int
	Precinct   int

	// Header and body bytes as they appear in the codestream (header
	// includes any EPH; SOP is emitted outside by the tile assembler).
	Header []byte
	Body   []byte

	// Empty is set for a zero-length packet (header bit 0).
	Empty bool

	// Inclusions in code-block scan order over the precinct's bands.
	Inclusions []CodeBlockIncl
}

// CodeBlockIncl records one code-block's contribution to a packet.
type CodeBlockIncl struct {
	Included       bool
	FirstInclusion bool
	ZeroBitPlanes  int
	NumPasses      int   // new passes delivered by this packet
	DataLength     int   // body bytes contributed
	SegmentLengths []int // coded-segment byte lengths when passes terminate
	SegmentPasses  []int // passes inside each segment, parallel to lengths
	Data           []byte
}

// PrecinctCodeBlock is the Tier-2 view of an encoded code-block: its coded
// bytes plus the per-layer pass allocation decided by rate control.
type PrecinctCodeBlock struct {
	// Position of the block in the precinct's code-block grid.
	CBX, CBY int

	// Geometry within the subband.
	X0, Y0, X1, Y1 int

	// Subband orientation (0=LL, 1=HL, 2=LH, 3=HH).
	Orientation int

	// ZeroBitPlanes is the count of missing most-significant bit-planes.
	ZeroBitPlanes int

	// Coded bytes for all passes, and cumulative byte offsets after each
	// pass (pass i occupies PassEnds[i-1]:PassEnds[i]).
	Data     []byte
	PassEnds []int

	// Per-pass termination: true when every pass ends a coded segment, so
	// packet headers carry one length per pass.
	TermAll bool

	// Lazy marks selective-bypass blocks: after the first ten MQ passes the
	// coder alternates raw SigProp+MagRef segments and one-pass MQ cleanup
	// segments, each terminated and length-signaled.
	Lazy bool

	// LayerPasses[l] is the cumulative number of passes delivered through
	// layer l; assigned by rate control.
	LayerPasses []int

	// Included tracks whether any earlier layer delivered data (encoder
	// state across packets).
	Included bool

	// HTBlock marks blocks coded with the Part 15 HT coder.
	HTBlock bool

	// RDHandle lets the rate controller attach per-block state without a
	// dependency cycle; Tier-2 never touches it.
	RDHandle interface{}

	// Decoder side: accumulated body bytes and pass count.
	DecodedData      []byte
	DecodedPasses    int
	DecodedSegEnds   []int
	DecodedSegPasses []int
	DecodedZBP       int
	DecodedNumBps    int
	DecoderIncluded  bool
}

// segmentBoundaryAfter reports whether a coded segment ends after absolute
// pass index p (0-based). TERMALL terminates every pass; bypass terminates
// the tenth pass, then raw pairs and single cleanup passes alternately.
func (cb *PrecinctCodeBlock) segmentBoundaryAfter(p int) bool {
	switch {
	case cb.TermAll:
		return true
	case cb.Lazy:
		if p < 9 {
			return false
		}
		return (p-9)%3 != 1
	default:
		return false
	}
}

// contributionSegments splits a contribution of newPasses passes starting at
// absolute pass index first into per-segment pass counts.
func contributionSegments(cb *PrecinctCodeBlock, first, newPasses int) []int {
	if newPasses <= 0 {
		return nil
	}
	var split []int
	count := 0
	for p := first; p < first+newPasses; p++ {
		count++
		if cb.segmentBoundaryAfter(p) {
			split = append(split, count)
			count = 0
		}
	}
	if count > 0 {
		split = append(split, count)
	}
	return split
}

// NewPassesInLayer returns the passes this block adds in layer l.
func (cb *PrecinctCodeBlock) NewPassesInLayer(l int) int {
	if l < 0 || l >= len(cb.LayerPasses) {
		return 0
	}
	prev := 0
	if l > 0 {
		prev = cb.LayerPasses[l-1]
	}
	return cb.LayerPasses[l] - prev
}

// LayerByteRange returns the [start, end) range of Data delivered in layer l.
func (cb *PrecinctCodeBlock) LayerByteRange(l int) (int, int) {
	if l < 0 || l >= len(cb.LayerPasses) || len(cb.PassEnds) == 0 {
		return 0, 0
	}
	prev := 0
	if l > 0 {
		prev = cb.LayerPasses[l-1]
	}
	cur := cb.LayerPasses[l]
	if cur > len(cb.PassEnds) {
		cur = len(cb.PassEnds)
	}
	start := 0
	if prev > 0 {
		start = cb.PassEnds[prev-1]
	}
	if cur <= 0 {
		return start, start
	}
	return start, cb.PassEnds[cur-1]
}

// Precinct groups the code-blocks of one resolution level's bands that fall
// inside one spatial precinct.
type Precinct struct {
	Index int

	// Bands in fixed order: for resolution 0 a single LL band, otherwise
	// HL, LH, HH.
	Bands []*PrecinctBand
}

// PrecinctBand is the per-subband slice of a precinct.
type PrecinctBand struct {
	Orientation int
	NumCBX      int
	NumCBY      int

	// Blocks in raster order over the band's code-block grid; entries may
	// be nil where the precinct extends past the subband.
	Blocks []*PrecinctCodeBlock

	// Packet-header coding state, persistent across layers.
	inclTree  *TagTree
	zbpTree   *TagTree
	states    []*blockHeaderState
	leavesSet bool
}

type blockHeaderState struct {
	included   bool
	zeroPlanes int
	lblock     int // current length-indicator state, starts at 3
	passesSoFar int
}

func (b *PrecinctBand) ensureState() {
	n := b.NumCBX * b.NumCBY
	if b.inclTree == nil {
		b.inclTree = NewTagTree(b.NumCBX, b.NumCBY)
		b.zbpTree = NewTagTree(b.NumCBX, b.NumCBY)
	}
	if b.states == nil {
		b.states = make([]*blockHeaderState, n)
		for i := range b.states {
			b.states[i] = &blockHeaderState{lblock: 3}
		}
	}
}
