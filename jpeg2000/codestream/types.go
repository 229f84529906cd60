package codestream

// Codestream represents a parsed JPEG 2000 codestream
type Codestream struct {
	// Main header
	SIZ *SIZSegment            // Image and tile size
	COD *CODSegment            // Coding style default
	QCD *QCDSegment            // Quantization default
	CAP *CAPSegment            // Extended capabilities (Part 15)
	CPF *CPFSegment            // Corresponding profile (Part 15)
	COC map[uint16]*COCSegment // Coding style component overrides
	QCC map[uint16]*QCCSegment // Quantization component overrides
	POC []POCSegment           // Progression order changes
	RGN []RGNSegment           // Region of interest (main header)
	COM []COMSegment           // Comments

	// Tiles in codestream order; multiple tile-parts of one tile are merged.
	Tiles []*Tile

	// Original input bytes
	Data []byte
}

// SIZSegment - Image and tile size marker segment
// ISO/IEC 15444-1 A.5.1
type SIZSegment struct {
	Rsiz   uint16 // Capabilities (0 = baseline, bit 14 set for Part 15)
	Xsiz   uint32 // Width of reference grid
	Ysiz   uint32 // Height of reference grid
	XOsiz  uint32 // Horizontal offset
	YOsiz  uint32 // Vertical offset
	XTsiz  uint32 // Width of one reference tile
	YTsiz  uint32 // Height of one reference tile
	XTOsiz uint32 // Horizontal offset of first tile
	YTOsiz uint32 // Vertical offset of first tile
	Csiz   uint16 // Number of components

	Components []ComponentSize
}

// RsizPart15 is set in Rsiz when the codestream uses Part 15 coding.
const RsizPart15 uint16 = 0x4000

// NumTilesX returns the number of tile columns on the reference grid.
func (s *SIZSegment) NumTilesX() int {
	if s.XTsiz == 0 {
		return 1
	}
	return int((s.Xsiz - s.XTOsiz + s.XTsiz - 1) / s.XTsiz)
}

// NumTilesY returns the number of tile rows on the reference grid.
func (s *SIZSegment) NumTilesY() int {
	if s.YTsiz == 0 {
		return 1
	}
	return int((s.Ysiz - s.YTOsiz + s.YTsiz - 1) / s.YTsiz)
}

// ComponentSize holds per-component sizing information
type ComponentSize struct {
	Ssiz  uint8 // Precision and sign (bit 7 = sign, bits 0-6 = depth-1)
	XRsiz uint8 // Horizontal separation
	YRsiz uint8 // Vertical separation
}

// BitDepth returns the bit depth of the component
func (c *ComponentSize) BitDepth() int {
	return int(c.Ssiz&0x7F) + 1
}

// IsSigned returns true if the component is signed
func (c *ComponentSize) IsSigned() bool {
	return (c.Ssiz & 0x80) != 0
}

// Scod coding-style flags (Table A.13).
const (
	ScodPrecincts uint8 = 0x01 // precinct sizes signaled
	ScodSOP       uint8 = 0x02 // SOP marker before each packet
	ScodEPH       uint8 = 0x04 // EPH marker after each packet header
)

// Code-block style flags signaled in COD/COC SPcod (Table A.18 plus the
// Part 15 HT bits).
const (
	CblkLazy    uint8 = 0x01
	CblkReset   uint8 = 0x02
	CblkTermAll uint8 = 0x04
	CblkVSC     uint8 = 0x08
	CblkPterm   uint8 = 0x10
	CblkSegsym  uint8 = 0x20
	CblkHTFast  uint8 = 0x40
	CblkHTOnly  uint8 = 0x80
)

// CODSegment - Coding style default marker segment
// ISO/IEC 15444-1 A.6.1
type CODSegment struct {
	Scod uint8 // Coding style for all components

	// SGcod - General coding style parameters
	ProgressionOrder           uint8  // 0=LRCP, 1=RLCP, 2=RPCL, 3=PCRL, 4=CPRL
	NumberOfLayers             uint16 // Number of layers
	MultipleComponentTransform uint8  // 0=none, 1=RCT or ICT

	// SPcod - Coding style parameters
	NumberOfDecompositionLevels uint8 // Number of decomposition levels
	CodeBlockWidth              uint8 // Code-block width exponent minus 2
	CodeBlockHeight             uint8 // Code-block height exponent minus 2
	CodeBlockStyle              uint8 // Code-block style
	Transformation              uint8 // 0 = 9/7 irreversible, 1 = 5/3 reversible

	// Precinct sizes, one per resolution, when ScodPrecincts is set
	PrecinctSizes []PrecinctSize
}

// PrecinctSize holds precinct dimensions for a resolution level
type PrecinctSize struct {
	PPx uint8 // Precinct width exponent
	PPy uint8 // Precinct height exponent
}

// CodeBlockSize returns the actual code-block dimensions
func (c *CODSegment) CodeBlockSize() (width, height int) {
	width = 1 << (c.CodeBlockWidth + 2)
	height = 1 << (c.CodeBlockHeight + 2)
	return
}

// UsesHT reports whether the code-block style carries either HT bit.
func (c *CODSegment) UsesHT() bool {
	return c.CodeBlockStyle&(CblkHTFast|CblkHTOnly) != 0
}

// QCDSegment - Quantization default marker segment
// ISO/IEC 15444-1 A.6.4
type QCDSegment struct {
	Sqcd uint8 // bits 0-4 quantization style, bits 5-7 guard bits

	SPqcd []byte // step-size parameters, one or two bytes per subband
}

// Quantization styles.
const (
	QuantNone            = 0
	QuantScalarDerived   = 1
	QuantScalarExpounded = 2
)

// QuantizationType returns the quantization type
func (q *QCDSegment) QuantizationType() int {
	return int(q.Sqcd & 0x1F)
}

// GuardBits returns the number of guard bits
func (q *QCDSegment) GuardBits() int {
	return int(q.Sqcd >> 5)
}

// COCSegment - Coding style component marker segment
// ISO/IEC 15444-1 A.6.2
type COCSegment struct {
	Component uint16 // Component index
	Scoc      uint8  // Coding style for this component

	NumberOfDecompositionLevels uint8
	CodeBlockWidth              uint8
	CodeBlockHeight             uint8
	CodeBlockStyle              uint8
	Transformation              uint8
	PrecinctSizes               []PrecinctSize
}

// QCCSegment - Quantization component marker segment
// ISO/IEC 15444-1 A.6.5
type QCCSegment struct {
	Component uint16
	Sqcc      uint8
	SPqcc     []byte
}

// POCEntry represents one progression order change entry.
type POCEntry struct {
	RSpoc  uint8  // Start resolution
	CSpoc  uint16 // Start component
	LYEpoc uint16 // End layer
	REpoc  uint8  // End resolution
	CEpoc  uint16 // End component
	Ppoc   uint8  // Progression order
}

// POCSegment - Progression order change marker segment
// ISO/IEC 15444-1 A.6.6
type POCSegment struct {
	Entries []POCEntry
}

// RGNSegment - Region of interest marker segment (MaxShift)
// ISO/IEC 15444-1 A.6.3
type RGNSegment struct {
	Crgn  uint16 // Component index
	Srgn  uint8  // ROI style (0 = MaxShift)
	SPrgn uint8  // Number of most significant bit-planes shifted
}

// COMSegment - Comment marker segment
type COMSegment struct {
	Rcom uint16 // Registration (0=binary, 1=Latin-1 text)
	Data []byte
}

// CAPSegment - Extended capabilities marker segment
// ISO/IEC 15444-1:2019 A.5.2; required by Part 15 to declare the HT coder.
type CAPSegment struct {
	// Pcap has bit (32-n) set when Ccap entry for Part n is present.
	Pcap uint32
	// Ccap entries in Pcap bit order, 16 bits each.
	Ccap []uint16
}

// PcapPart15 is the Pcap bit declaring a Ccap15 entry (Part 15 / HTJ2K).
const PcapPart15 uint32 = 1 << 17

// Ccap15 bits (ISO/IEC 15444-15 Table A.2).
const (
	Ccap15HTOnly     uint16 = 0x0000 // all blocks HT coded (HTONLY)
	Ccap15HTDeclared uint16 = 0x0002 // HT and Part 1 blocks mixed (HTDECLARED)
	Ccap15RGN        uint16 = 0x0004 // HT blocks may appear in ROI tiles
	Ccap15HetMixed   uint16 = 0x0008 // heterogeneous mixing
	Ccap15MultiHT    uint16 = 0x4000 // multiple HT sets per block
	Ccap15Reversible uint16 = 0x0020 // transform is reversible (P bit)
)

// IsHTJ2K reports whether the capabilities declare Part 15 coding.
func (c *CAPSegment) IsHTJ2K() bool {
	return c != nil && c.Pcap&PcapPart15 != 0
}

// Ccap15 returns the Part 15 capabilities entry, when declared.
func (c *CAPSegment) Ccap15() (uint16, bool) {
	if c == nil || c.Pcap&PcapPart15 == 0 {
		return 0, false
	}
	// Entries are stored for set Pcap bits from bit 31 down; Part 15's
	// entry position is the count of higher set bits.
	pos := 0
	for bit := 31; bit > 17; bit-- {
		if c.Pcap&(1<<uint(bit)) != 0 {
			pos++
		}
	}
	if pos >= len(c.Ccap) {
		return 0, false
	}
	return c.Ccap[pos], true
}

// CPF profile identifiers (ISO/IEC 15444-15 A.4).
const (
	CPFProfileNone            uint16 = 0
	CPFProfileHTJ2KRestricted uint16 = 1
	CPFProfileHTJ2KMain       uint16 = 2
)

// CPFSegment - Corresponding profile marker segment (Part 15)
type CPFSegment struct {
	Pcpf []uint16
}

// Profile returns the first profile word, the HTJ2K profile identifier.
func (c *CPFSegment) Profile() uint16 {
	if c == nil || len(c.Pcpf) == 0 {
		return CPFProfileNone
	}
	return c.Pcpf[0]
}

// SOTSegment - Start of tile-part marker segment
// ISO/IEC 15444-1 A.4.2
type SOTSegment struct {
	Isot  uint16 // Tile index
	Psot  uint32 // Tile-part length from the start of SOT
	TPsot uint8  // Tile-part index
	TNsot uint8  // Number of tile-parts (0 = not specified here)
}

// Tile represents a single tile assembled from its tile-parts.
type Tile struct {
	Index int
	SOT   *SOTSegment
	COD   *CODSegment            // optional override
	QCD   *QCDSegment            // optional override
	COC   map[uint16]*COCSegment // per-component overrides
	QCC   map[uint16]*QCCSegment
	POC   []POCSegment
	RGN   []*RGNSegment
	Data  []byte // packet data after SOD, tile-parts concatenated
}

// TileCOD returns the tile-level COD, falling back to the main header.
func (cs *Codestream) TileCOD(tile *Tile) *CODSegment {
	if tile != nil && tile.COD != nil {
		return tile.COD
	}
	if cs == nil {
		return nil
	}
	return cs.COD
}

// TileQCD returns the tile-level QCD, falling back to the main header.
func (cs *Codestream) TileQCD(tile *Tile) *QCDSegment {
	if tile != nil && tile.QCD != nil {
		return tile.QCD
	}
	if cs == nil {
		return nil
	}
	return cs.QCD
}

// ComponentCOD resolves COD/COC inheritance for a component: tile COC beats
// main COC beats tile COD beats main COD.
func (cs *Codestream) ComponentCOD(tile *Tile, component int) *CODSegment {
	if cs == nil || component < 0 {
		return nil
	}
	base := cs.TileCOD(tile)
	if base == nil {
		return nil
	}
	out := cloneCOD(base)
	if coc := cs.COC[uint16(component)]; coc != nil {
		out = applyCOC(out, coc)
	}
	if tile != nil {
		if coc := tile.COC[uint16(component)]; coc != nil {
			out = applyCOC(out, coc)
		}
	}
	return out
}

// ComponentQCD resolves QCD/QCC inheritance for a component.
func (cs *Codestream) ComponentQCD(tile *Tile, component int) *QCDSegment {
	if cs == nil || component < 0 {
		return nil
	}
	base := cs.TileQCD(tile)
	if base == nil {
		return nil
	}
	out := cloneQCD(base)
	if qcc := cs.QCC[uint16(component)]; qcc != nil {
		out = applyQCC(out, qcc)
	}
	if tile != nil {
		if qcc := tile.QCC[uint16(component)]; qcc != nil {
			out = applyQCC(out, qcc)
		}
	}
	return out
}

func cloneCOD(src *CODSegment) *CODSegment {
	if src == nil {
		return nil
	}
	dst := *src
	if src.PrecinctSizes != nil {
		dst.PrecinctSizes = append([]PrecinctSize(nil), src.PrecinctSizes...)
	}
	return &dst
}

func cloneQCD(src *QCDSegment) *QCDSegment {
	if src == nil {
		return nil
	}
	dst := *src
	if src.SPqcd != nil {
		dst.SPqcd = append([]byte(nil), src.SPqcd...)
	}
	return &dst
}

func applyCOC(base *CODSegment, coc *COCSegment) *CODSegment {
	out := cloneCOD(base)
	if out == nil || coc == nil {
		return out
	}
	out.NumberOfDecompositionLevels = coc.NumberOfDecompositionLevels
	out.CodeBlockWidth = coc.CodeBlockWidth
	out.CodeBlockHeight = coc.CodeBlockHeight
	out.CodeBlockStyle = coc.CodeBlockStyle
	out.Transformation = coc.Transformation
	if coc.Scoc&ScodPrecincts != 0 && len(coc.PrecinctSizes) > 0 {
		out.PrecinctSizes = append([]PrecinctSize(nil), coc.PrecinctSizes...)
	} else {
		out.PrecinctSizes = nil
	}
	return out
}

func applyQCC(base *QCDSegment, qcc *QCCSegment) *QCDSegment {
	out := cloneQCD(base)
	if out == nil || qcc == nil {
		return out
	}
	out.Sqcd = qcc.Sqcc
	if qcc.SPqcc != nil {
		out.SPqcd = append([]byte(nil), qcc.SPqcc...)
	} else {
		out.SPqcd = nil
	}
	return out
}
