package codestream

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rasterlab/go-j2k/codec"
)

// Parser parses JPEG 2000 codestreams down to tile-part granularity. Packet
// bodies stay opaque here; Tier-2 consumes Tile.Data.
type Parser struct {
	data   []byte
	offset int

	// Csiz once SIZ has been seen; component indices in COC/QCC/RGN widen
	// to two bytes at 257 components.
	numComponents int

	// part15 is set from Rsiz; Part 15 raises the code-block area limit.
	part15 bool
}

// NewParser creates a new codestream parser
func NewParser(data []byte) *Parser {
	return &Parser{data: data}
}

func (p *Parser) malformed(detail string) error {
	return codec.NewStreamError(codec.ErrMalformedCodestream, p.offset, detail)
}

func (p *Parser) truncated(detail string) error {
	return codec.NewStreamError(codec.ErrTruncatedInput, p.offset, detail)
}

// Parse parses the entire codestream. A stream truncated after the main
// header returns the tiles recovered so far together with ErrTruncatedInput;
// the caller decides whether a partial decode is acceptable.
func (p *Parser) Parse() (*Codestream, error) {
	cs := &Codestream{
		Data: p.data,
		COC:  make(map[uint16]*COCSegment),
		QCC:  make(map[uint16]*QCCSegment),
	}

	marker, err := p.readMarker()
	if err != nil {
		return nil, p.truncated("missing SOC")
	}
	if marker != MarkerSOC {
		return nil, p.malformed(fmt.Sprintf("expected SOC, got 0x%04X", marker))
	}

	if err := p.parseMainHeader(cs); err != nil {
		return nil, err
	}

	tilesByIndex := make(map[int]*Tile)
	for {
		marker, err := p.peekMarker()
		if err == io.EOF {
			// Missing EOC: tolerate as truncation at a tile boundary.
			return cs, p.truncated("missing EOC")
		}
		if err != nil {
			return cs, err
		}

		if marker == MarkerEOC {
			_, _ = p.readMarker()
			break
		}

		if marker != MarkerSOT {
			return cs, p.malformed(fmt.Sprintf("unexpected marker 0x%04X (%s) in tile sequence",
				marker, MarkerName(marker)))
		}

		tile, err := p.parseTilePart(cs)
		if tile != nil {
			if existing, ok := tilesByIndex[tile.Index]; ok {
				// Later tile-part of a known tile: append its packet data.
				existing.Data = append(existing.Data, tile.Data...)
			} else {
				tilesByIndex[tile.Index] = tile
				cs.Tiles = append(cs.Tiles, tile)
			}
		}
		if err != nil {
			return cs, err
		}
	}

	return cs, nil
}

// parseMainHeader parses segments up to the first SOT (or EOC).
func (p *Parser) parseMainHeader(cs *Codestream) error {
	for {
		marker, err := p.peekMarker()
		if err != nil {
			return p.truncated("main header")
		}
		if marker == MarkerSOT || marker == MarkerEOC {
			break
		}

		if _, err := p.readMarker(); err != nil {
			return p.truncated("main header marker")
		}

		switch marker {
		case MarkerSIZ:
			if cs.SIZ, err = p.parseSIZ(); err != nil {
				return err
			}
			p.numComponents = int(cs.SIZ.Csiz)
			p.part15 = cs.SIZ.Rsiz&RsizPart15 != 0

		case MarkerCOD:
			if cs.COD, err = p.parseCOD(); err != nil {
				return err
			}

		case MarkerCOC:
			coc, err := p.parseCOC()
			if err != nil {
				return err
			}
			cs.COC[coc.Component] = coc

		case MarkerQCD:
			if cs.QCD, err = p.parseQCD(); err != nil {
				return err
			}

		case MarkerQCC:
			qcc, err := p.parseQCC()
			if err != nil {
				return err
			}
			cs.QCC[qcc.Component] = qcc

		case MarkerPOC:
			poc, err := p.parsePOC()
			if err != nil {
				return err
			}
			cs.POC = append(cs.POC, *poc)

		case MarkerRGN:
			rgn, err := p.parseRGN()
			if err != nil {
				return err
			}
			cs.RGN = append(cs.RGN, *rgn)

		case MarkerCAP:
			if cs.CAP, err = p.parseCAP(); err != nil {
				return err
			}

		case MarkerCPF:
			if cs.CPF, err = p.parseCPF(); err != nil {
				return err
			}

		case MarkerCOM:
			com, err := p.parseCOM()
			if err != nil {
				return err
			}
			cs.COM = append(cs.COM, *com)

		case MarkerTLM, MarkerPLM, MarkerPPM, MarkerCRG:
			// Pointer and registration segments are tolerated and skipped.
			if err := p.skipSegment(); err != nil {
				return err
			}

		default:
			if err := p.skipSegment(); err != nil {
				return err
			}
		}
	}

	if cs.SIZ == nil {
		return p.malformed("missing required SIZ segment")
	}
	if cs.COD == nil {
		return p.malformed("missing required COD segment")
	}
	if cs.QCD == nil {
		return p.malformed("missing required QCD segment")
	}
	if cs.COD.UsesHT() && cs.CAP == nil {
		return p.malformed("HT code-block style without CAP marker")
	}
	return nil
}

// parseTilePart parses one SOT..SOD header plus its packet data.
func (p *Parser) parseTilePart(cs *Codestream) (*Tile, error) {
	tileStart := p.offset
	if _, err := p.readMarker(); err != nil {
		return nil, p.truncated("SOT")
	}

	sot, err := p.parseSOT()
	if err != nil {
		return nil, err
	}

	tile := &Tile{
		Index: int(sot.Isot),
		SOT:   sot,
		COC:   make(map[uint16]*COCSegment),
		QCC:   make(map[uint16]*QCCSegment),
	}

	for {
		marker, err := p.peekMarker()
		if err != nil {
			return tile, p.truncated("tile-part header")
		}
		if marker == MarkerSOD {
			_, _ = p.readMarker()
			break
		}

		if _, err := p.readMarker(); err != nil {
			return tile, p.truncated("tile-part header marker")
		}

		switch marker {
		case MarkerCOD:
			if tile.COD, err = p.parseCOD(); err != nil {
				return tile, err
			}
		case MarkerCOC:
			coc, err := p.parseCOC()
			if err != nil {
				return tile, err
			}
			tile.COC[coc.Component] = coc
		case MarkerQCD:
			if tile.QCD, err = p.parseQCD(); err != nil {
				return tile, err
			}
		case MarkerQCC:
			qcc, err := p.parseQCC()
			if err != nil {
				return tile, err
			}
			tile.QCC[qcc.Component] = qcc
		case MarkerPOC:
			poc, err := p.parsePOC()
			if err != nil {
				return tile, err
			}
			tile.POC = append(tile.POC, *poc)
		case MarkerRGN:
			rgn, err := p.parseRGN()
			if err != nil {
				return tile, err
			}
			tile.RGN = append(tile.RGN, rgn)
		case MarkerPLT, MarkerPPT:
			if err := p.skipSegment(); err != nil {
				return tile, err
			}
		default:
			if err := p.skipSegment(); err != nil {
				return tile, err
			}
		}
	}

	tile.Data = p.readTileData(tileStart, sot.Psot)
	return tile, nil
}

func (p *Parser) parseSIZ() (*SIZSegment, error) {
	length, err := p.readUint16()
	if err != nil {
		return nil, p.truncated("SIZ length")
	}

	siz := &SIZSegment{}
	fields := []interface{}{
		&siz.Rsiz, &siz.Xsiz, &siz.Ysiz, &siz.XOsiz, &siz.YOsiz,
		&siz.XTsiz, &siz.YTsiz, &siz.XTOsiz, &siz.YTOsiz, &siz.Csiz,
	}
	for _, f := range fields {
		switch v := f.(type) {
		case *uint16:
			if *v, err = p.readUint16(); err != nil {
				return nil, p.truncated("SIZ")
			}
		case *uint32:
			if *v, err = p.readUint32(); err != nil {
				return nil, p.truncated("SIZ")
			}
		}
	}

	if siz.Csiz == 0 || siz.Csiz > 16384 {
		return nil, p.malformed(fmt.Sprintf("SIZ component count %d", siz.Csiz))
	}
	if siz.Xsiz <= siz.XOsiz || siz.Ysiz <= siz.YOsiz {
		return nil, p.malformed("SIZ grid extent not beyond origin")
	}

	siz.Components = make([]ComponentSize, siz.Csiz)
	for i := range siz.Components {
		if siz.Components[i].Ssiz, err = p.readUint8(); err != nil {
			return nil, p.truncated("SIZ component")
		}
		if siz.Components[i].XRsiz, err = p.readUint8(); err != nil {
			return nil, p.truncated("SIZ component")
		}
		if siz.Components[i].YRsiz, err = p.readUint8(); err != nil {
			return nil, p.truncated("SIZ component")
		}
		if siz.Components[i].XRsiz == 0 || siz.Components[i].YRsiz == 0 {
			return nil, p.malformed("SIZ zero subsampling factor")
		}
	}

	if int(length) != 38+3*int(siz.Csiz) {
		return nil, p.malformed(fmt.Sprintf("SIZ length %d, want %d", length, 38+3*int(siz.Csiz)))
	}
	return siz, nil
}

func (p *Parser) parseCOD() (*CODSegment, error) {
	length, err := p.readUint16()
	if err != nil {
		return nil, p.truncated("COD length")
	}
	start := p.offset

	cod := &CODSegment{}
	for _, f := range []*uint8{
		&cod.Scod, &cod.ProgressionOrder,
	} {
		if *f, err = p.readUint8(); err != nil {
			return nil, p.truncated("COD")
		}
	}
	if cod.NumberOfLayers, err = p.readUint16(); err != nil {
		return nil, p.truncated("COD")
	}
	for _, f := range []*uint8{
		&cod.MultipleComponentTransform, &cod.NumberOfDecompositionLevels,
		&cod.CodeBlockWidth, &cod.CodeBlockHeight, &cod.CodeBlockStyle,
		&cod.Transformation,
	} {
		if *f, err = p.readUint8(); err != nil {
			return nil, p.truncated("COD")
		}
	}

	if cod.ProgressionOrder > 4 {
		return nil, p.malformed(fmt.Sprintf("COD progression order %d", cod.ProgressionOrder))
	}
	if cod.NumberOfLayers == 0 {
		return nil, p.malformed("COD zero layers")
	}
	if cod.NumberOfDecompositionLevels > 32 {
		return nil, p.malformed("COD decomposition levels > 32")
	}
	areaLimit := 8 // 4096 samples for Part 1
	if p.part15 {
		areaLimit = 10 // 16384 samples for Part 15
	}
	if int(cod.CodeBlockWidth)+int(cod.CodeBlockHeight) > areaLimit {
		return nil, p.malformed("COD code-block area above limit")
	}

	if cod.Scod&ScodPrecincts != 0 {
		numLevels := int(cod.NumberOfDecompositionLevels) + 1
		cod.PrecinctSizes = make([]PrecinctSize, numLevels)
		for i := 0; i < numLevels; i++ {
			v, err := p.readUint8()
			if err != nil {
				return nil, p.truncated("COD precincts")
			}
			cod.PrecinctSizes[i].PPx = v & 0x0F
			cod.PrecinctSizes[i].PPy = v >> 4
		}
	}

	if p.offset-start != int(length)-2 {
		return nil, p.malformed(fmt.Sprintf("COD length %d does not match payload", length))
	}
	return cod, nil
}

func (p *Parser) parseCOC() (*COCSegment, error) {
	if _, err := p.readUint16(); err != nil {
		return nil, p.truncated("COC length")
	}

	coc := &COCSegment{}
	comp, err := p.readComponentIndex()
	if err != nil {
		return nil, err
	}
	coc.Component = comp

	for _, f := range []*uint8{
		&coc.Scoc, &coc.NumberOfDecompositionLevels, &coc.CodeBlockWidth,
		&coc.CodeBlockHeight, &coc.CodeBlockStyle, &coc.Transformation,
	} {
		if *f, err = p.readUint8(); err != nil {
			return nil, p.truncated("COC")
		}
	}

	if coc.Scoc&ScodPrecincts != 0 {
		numLevels := int(coc.NumberOfDecompositionLevels) + 1
		coc.PrecinctSizes = make([]PrecinctSize, numLevels)
		for i := 0; i < numLevels; i++ {
			v, err := p.readUint8()
			if err != nil {
				return nil, p.truncated("COC precincts")
			}
			coc.PrecinctSizes[i].PPx = v & 0x0F
			coc.PrecinctSizes[i].PPy = v >> 4
		}
	}
	return coc, nil
}

func (p *Parser) parseQCD() (*QCDSegment, error) {
	length, err := p.readUint16()
	if err != nil {
		return nil, p.truncated("QCD length")
	}
	if length < 4 {
		return nil, p.malformed("QCD too short")
	}

	qcd := &QCDSegment{}
	if qcd.Sqcd, err = p.readUint8(); err != nil {
		return nil, p.truncated("QCD")
	}
	qcd.SPqcd = make([]byte, int(length)-3)
	if _, err := p.read(qcd.SPqcd); err != nil {
		return nil, p.truncated("QCD step sizes")
	}
	return qcd, nil
}

func (p *Parser) parseQCC() (*QCCSegment, error) {
	length, err := p.readUint16()
	if err != nil {
		return nil, p.truncated("QCC length")
	}
	start := p.offset

	qcc := &QCCSegment{}
	comp, err := p.readComponentIndex()
	if err != nil {
		return nil, err
	}
	qcc.Component = comp
	if qcc.Sqcc, err = p.readUint8(); err != nil {
		return nil, p.truncated("QCC")
	}

	remain := int(length) - 2 - (p.offset - start)
	if remain < 0 {
		return nil, p.malformed("QCC length")
	}
	qcc.SPqcc = make([]byte, remain)
	if _, err := p.read(qcc.SPqcc); err != nil {
		return nil, p.truncated("QCC step sizes")
	}
	return qcc, nil
}

func (p *Parser) parsePOC() (*POCSegment, error) {
	length, err := p.readUint16()
	if err != nil {
		return nil, p.truncated("POC length")
	}

	wide := p.numComponents >= 257
	entrySize := 7
	if wide {
		entrySize = 9
	}
	payload := int(length) - 2
	if payload <= 0 || payload%entrySize != 0 {
		return nil, p.malformed("POC payload size")
	}

	poc := &POCSegment{}
	for i := 0; i < payload/entrySize; i++ {
		var e POCEntry
		if e.RSpoc, err = p.readUint8(); err != nil {
			return nil, p.truncated("POC")
		}
		if e.CSpoc, err = p.readComponentIndex(); err != nil {
			return nil, err
		}
		if e.LYEpoc, err = p.readUint16(); err != nil {
			return nil, p.truncated("POC")
		}
		if e.REpoc, err = p.readUint8(); err != nil {
			return nil, p.truncated("POC")
		}
		if e.CEpoc, err = p.readComponentIndex(); err != nil {
			return nil, err
		}
		if e.Ppoc, err = p.readUint8(); err != nil {
			return nil, p.truncated("POC")
		}
		poc.Entries = append(poc.Entries, e)
	}
	return poc, nil
}

func (p *Parser) parseRGN() (*RGNSegment, error) {
	length, err := p.readUint16()
	if err != nil {
		return nil, p.truncated("RGN length")
	}
	start := p.offset

	rgn := &RGNSegment{}
	if rgn.Crgn, err = p.readComponentIndex(); err != nil {
		return nil, err
	}
	if rgn.Srgn, err = p.readUint8(); err != nil {
		return nil, p.truncated("RGN")
	}
	if rgn.Srgn != 0 {
		return nil, codec.NewStreamError(codec.ErrUnsupportedFeature, p.offset,
			fmt.Sprintf("RGN style %d (only MaxShift supported)", rgn.Srgn))
	}
	if rgn.SPrgn, err = p.readUint8(); err != nil {
		return nil, p.truncated("RGN")
	}

	if remain := int(length) - 2 - (p.offset - start); remain > 0 {
		if _, err := p.read(make([]byte, remain)); err != nil {
			return nil, p.truncated("RGN")
		}
	}
	return rgn, nil
}

func (p *Parser) parseCAP() (*CAPSegment, error) {
	length, err := p.readUint16()
	if err != nil {
		return nil, p.truncated("CAP length")
	}
	if length < 6 {
		return nil, p.malformed("CAP too short")
	}

	capSeg := &CAPSegment{}
	if capSeg.Pcap, err = p.readUint32(); err != nil {
		return nil, p.truncated("CAP")
	}
	remaining := int(length) - 6
	if remaining%2 != 0 {
		return nil, p.malformed("CAP odd Ccap payload")
	}
	capSeg.Ccap = make([]uint16, remaining/2)
	for i := range capSeg.Ccap {
		if capSeg.Ccap[i], err = p.readUint16(); err != nil {
			return nil, p.truncated("CAP Ccap")
		}
	}
	return capSeg, nil
}

func (p *Parser) parseCPF() (*CPFSegment, error) {
	length, err := p.readUint16()
	if err != nil {
		return nil, p.truncated("CPF length")
	}
	payload := int(length) - 2
	if payload <= 0 || payload%2 != 0 {
		return nil, p.malformed("CPF payload size")
	}

	cpf := &CPFSegment{Pcpf: make([]uint16, payload/2)}
	for i := range cpf.Pcpf {
		if cpf.Pcpf[i], err = p.readUint16(); err != nil {
			return nil, p.truncated("CPF")
		}
	}
	return cpf, nil
}

func (p *Parser) parseCOM() (*COMSegment, error) {
	length, err := p.readUint16()
	if err != nil {
		return nil, p.truncated("COM length")
	}
	if length < 4 {
		return nil, p.malformed("COM too short")
	}

	com := &COMSegment{}
	if com.Rcom, err = p.readUint16(); err != nil {
		return nil, p.truncated("COM")
	}
	com.Data = make([]byte, int(length)-4)
	if _, err := p.read(com.Data); err != nil {
		return nil, p.truncated("COM data")
	}
	return com, nil
}

func (p *Parser) parseSOT() (*SOTSegment, error) {
	length, err := p.readUint16()
	if err != nil {
		return nil, p.truncated("SOT length")
	}
	if length != 10 {
		return nil, p.malformed(fmt.Sprintf("SOT length %d", length))
	}

	sot := &SOTSegment{}
	if sot.Isot, err = p.readUint16(); err != nil {
		return nil, p.truncated("SOT")
	}
	if sot.Psot, err = p.readUint32(); err != nil {
		return nil, p.truncated("SOT")
	}
	if sot.TPsot, err = p.readUint8(); err != nil {
		return nil, p.truncated("SOT")
	}
	if sot.TNsot, err = p.readUint8(); err != nil {
		return nil, p.truncated("SOT")
	}
	return sot, nil
}

// readComponentIndex reads a component index: one byte below 257 components,
// two bytes otherwise.
func (p *Parser) readComponentIndex() (uint16, error) {
	if p.numComponents >= 257 {
		v, err := p.readUint16()
		if err != nil {
			return 0, p.truncated("component index")
		}
		return v, nil
	}
	v, err := p.readUint8()
	if err != nil {
		return 0, p.truncated("component index")
	}
	return uint16(v), nil
}

func (p *Parser) readMarker() (uint16, error) {
	return p.readUint16()
}

func (p *Parser) peekMarker() (uint16, error) {
	if p.offset+2 > len(p.data) {
		return 0, io.EOF
	}
	return binary.BigEndian.Uint16(p.data[p.offset : p.offset+2]), nil
}

func (p *Parser) readUint8() (uint8, error) {
	if p.offset+1 > len(p.data) {
		return 0, io.EOF
	}
	v := p.data[p.offset]
	p.offset++
	return v, nil
}

func (p *Parser) readUint16() (uint16, error) {
	if p.offset+2 > len(p.data) {
		return 0, io.EOF
	}
	v := binary.BigEndian.Uint16(p.data[p.offset : p.offset+2])
	p.offset += 2
	return v, nil
}

func (p *Parser) readUint32() (uint32, error) {
	if p.offset+4 > len(p.data) {
		return 0, io.EOF
	}
	v := binary.BigEndian.Uint32(p.data[p.offset : p.offset+4])
	p.offset += 4
	return v, nil
}

func (p *Parser) read(buf []byte) (int, error) {
	if p.offset+len(buf) > len(p.data) {
		return 0, io.EOF
	}
	n := copy(buf, p.data[p.offset:p.offset+len(buf)])
	p.offset += n
	return n, nil
}

func (p *Parser) skipSegment() error {
	length, err := p.readUint16()
	if err != nil {
		return p.truncated("segment length")
	}
	skip := int(length) - 2
	if skip < 0 || p.offset+skip > len(p.data) {
		return p.truncated("segment body")
	}
	p.offset += skip
	return nil
}

// readTileData returns the packet bytes of a tile-part. With Psot known the
// extent is explicit; otherwise scan for the next marker outside coded data.
func (p *Parser) readTileData(tileStart int, psot uint32) []byte {
	if psot == 0 {
		start := p.offset
		for p.offset < len(p.data) {
			if p.data[p.offset] == 0xFF && p.offset+1 < len(p.data) {
				next := p.data[p.offset+1]
				if next >= 0x90 && next != 0x91 && next != 0x92 {
					break
				}
			}
			p.offset++
		}
		return p.data[start:p.offset]
	}

	remaining := int(psot) - (p.offset - tileStart)
	if remaining <= 0 {
		return []byte{}
	}
	if p.offset+remaining > len(p.data) {
		remaining = len(p.data) - p.offset
	}
	start := p.offset
	p.offset += remaining
	return p.data[start:p.offset]
}
