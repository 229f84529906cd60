package codestream

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Writer emits marker segments in codestream order. Length fields are
// computed from the payload; multi-byte fields are big-endian.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter creates an empty codestream writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes returns everything written so far.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return w.buf.Len()
}

// WriteMarker writes a bare marker with no segment body.
func (w *Writer) WriteMarker(marker uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], marker)
	w.buf.Write(b[:])
}

// WriteSegment writes marker, the length field covering payload+2, then the
// payload.
func (w *Writer) WriteSegment(marker uint16, payload []byte) error {
	if len(payload)+2 > 0xFFFF {
		return fmt.Errorf("segment %s payload too long: %d", MarkerName(marker), len(payload))
	}
	w.WriteMarker(marker)
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(len(payload)+2))
	w.buf.Write(b[:])
	w.buf.Write(payload)
	return nil
}

// WriteRaw appends bytes verbatim (packet data after SOD).
func (w *Writer) WriteRaw(data []byte) {
	w.buf.Write(data)
}

// Payload returns the SIZ segment body.
func (s *SIZSegment) Payload() []byte {
	var buf bytes.Buffer
	writeU16(&buf, s.Rsiz)
	writeU32(&buf, s.Xsiz)
	writeU32(&buf, s.Ysiz)
	writeU32(&buf, s.XOsiz)
	writeU32(&buf, s.YOsiz)
	writeU32(&buf, s.XTsiz)
	writeU32(&buf, s.YTsiz)
	writeU32(&buf, s.XTOsiz)
	writeU32(&buf, s.YTOsiz)
	writeU16(&buf, s.Csiz)
	for _, c := range s.Components {
		buf.WriteByte(c.Ssiz)
		buf.WriteByte(c.XRsiz)
		buf.WriteByte(c.YRsiz)
	}
	return buf.Bytes()
}

// Payload returns the COD segment body.
func (c *CODSegment) Payload() []byte {
	var buf bytes.Buffer
	buf.WriteByte(c.Scod)
	buf.WriteByte(c.ProgressionOrder)
	writeU16(&buf, c.NumberOfLayers)
	buf.WriteByte(c.MultipleComponentTransform)
	buf.WriteByte(c.NumberOfDecompositionLevels)
	buf.WriteByte(c.CodeBlockWidth)
	buf.WriteByte(c.CodeBlockHeight)
	buf.WriteByte(c.CodeBlockStyle)
	buf.WriteByte(c.Transformation)
	if c.Scod&ScodPrecincts != 0 {
		for _, ps := range c.PrecinctSizes {
			buf.WriteByte(ps.PPy<<4 | ps.PPx&0x0F)
		}
	}
	return buf.Bytes()
}

// Payload returns the COC segment body. wideComponents selects two-byte
// component indices (257+ components).
func (c *COCSegment) Payload(wideComponents bool) []byte {
	var buf bytes.Buffer
	writeComponent(&buf, c.Component, wideComponents)
	buf.WriteByte(c.Scoc)
	buf.WriteByte(c.NumberOfDecompositionLevels)
	buf.WriteByte(c.CodeBlockWidth)
	buf.WriteByte(c.CodeBlockHeight)
	buf.WriteByte(c.CodeBlockStyle)
	buf.WriteByte(c.Transformation)
	if c.Scoc&ScodPrecincts != 0 {
		for _, ps := range c.PrecinctSizes {
			buf.WriteByte(ps.PPy<<4 | ps.PPx&0x0F)
		}
	}
	return buf.Bytes()
}

// Payload returns the QCD segment body.
func (q *QCDSegment) Payload() []byte {
	out := make([]byte, 0, 1+len(q.SPqcd))
	out = append(out, q.Sqcd)
	out = append(out, q.SPqcd...)
	return out
}

// Payload returns the QCC segment body.
func (q *QCCSegment) Payload(wideComponents bool) []byte {
	var buf bytes.Buffer
	writeComponent(&buf, q.Component, wideComponents)
	buf.WriteByte(q.Sqcc)
	buf.Write(q.SPqcc)
	return buf.Bytes()
}

// Payload returns the POC segment body.
func (p *POCSegment) Payload(wideComponents bool) []byte {
	var buf bytes.Buffer
	for _, e := range p.Entries {
		buf.WriteByte(e.RSpoc)
		writeComponent(&buf, e.CSpoc, wideComponents)
		writeU16(&buf, e.LYEpoc)
		buf.WriteByte(e.REpoc)
		writeComponent(&buf, e.CEpoc, wideComponents)
		buf.WriteByte(e.Ppoc)
	}
	return buf.Bytes()
}

// Payload returns the RGN segment body.
func (r *RGNSegment) Payload(wideComponents bool) []byte {
	var buf bytes.Buffer
	writeComponent(&buf, r.Crgn, wideComponents)
	buf.WriteByte(r.Srgn)
	buf.WriteByte(r.SPrgn)
	return buf.Bytes()
}

// Payload returns the CAP segment body.
func (c *CAPSegment) Payload() []byte {
	var buf bytes.Buffer
	writeU32(&buf, c.Pcap)
	for _, v := range c.Ccap {
		writeU16(&buf, v)
	}
	return buf.Bytes()
}

// Payload returns the CPF segment body.
func (c *CPFSegment) Payload() []byte {
	var buf bytes.Buffer
	for _, v := range c.Pcpf {
		writeU16(&buf, v)
	}
	return buf.Bytes()
}

// Payload returns the COM segment body.
func (c *COMSegment) Payload() []byte {
	var buf bytes.Buffer
	writeU16(&buf, c.Rcom)
	buf.Write(c.Data)
	return buf.Bytes()
}

// Payload returns the SOT segment body.
func (s *SOTSegment) Payload() []byte {
	var buf bytes.Buffer
	writeU16(&buf, s.Isot)
	writeU32(&buf, s.Psot)
	buf.WriteByte(s.TPsot)
	buf.WriteByte(s.TNsot)
	return buf.Bytes()
}

// NewPart15CAP builds the CAP segment declaring HT coding. htOnly selects
// the HTONLY capability (all blocks HT coded); reversible mirrors the
// transform choice.
func NewPart15CAP(htOnly, reversible bool) *CAPSegment {
	ccap15 := uint16(0)
	if !htOnly {
		ccap15 |= Ccap15HTDeclared
	}
	if reversible {
		ccap15 |= Ccap15Reversible
	}
	return &CAPSegment{
		Pcap: PcapPart15,
		Ccap: []uint16{ccap15},
	}
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeComponent(buf *bytes.Buffer, comp uint16, wide bool) {
	if wide {
		writeU16(buf, comp)
		return
	}
	buf.WriteByte(byte(comp))
}
