package t2

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/rasterlab/go-j2k/codec"
	"github.com/rasterlab/go-j2k/jpeg2000/bitio"
)

// TileGrid holds one tile's precincts addressed by component, resolution,
// and precinct index. Both directions of the packet pipeline share it: the
// encoder fills code-block layer allocations, the decoder accumulates
// decoded pass data in the same structures.
type TileGrid struct {
	// Precincts[c][r] lists the precincts of component c at resolution r.
	Precincts [][][]*Precinct

	NumLayers      int
	NumResolutions int
	NumComponents  int
	Order          ProgressionOrder
}

// NumPrecincts returns the precinct count for (component, resolution).
func (g *TileGrid) NumPrecincts(c, r int) int {
	if c < 0 || c >= len(g.Precincts) {
		return 0
	}
	if r < 0 || r >= len(g.Precincts[c]) {
		return 0
	}
	return len(g.Precincts[c][r])
}

// Sequence returns the tile's packet coordinates in progression order.
func (g *TileGrid) Sequence() []PacketCoord {
	return PacketSequence(g.Order, g.NumLayers, g.NumResolutions, g.NumComponents, g.NumPrecincts)
}

// ResetHeaderState drops per-packet tag-tree and Lblock state so the grid
// can run a second pass (encode after a trial run, or re-parse).
func (g *TileGrid) ResetHeaderState() {
	for _, comp := range g.Precincts {
		for _, res := range comp {
			for _, prec := range res {
				for _, band := range prec.Bands {
					band.inclTree = nil
					band.zbpTree = nil
					band.states = nil
					band.leavesSet = false
				}
			}
		}
	}
}

// PacketEncoder emits a tile's packets in progression order.
type PacketEncoder struct {
	Grid *TileGrid

	// UseSOP/UseEPH mirror the Scod flags.
	UseSOP bool
	UseEPH bool
}

// EncodePackets produces the tile's packet sequence.
func (pe *PacketEncoder) EncodePackets() ([]Packet, error) {
	seq := pe.Grid.Sequence()
	packets := make([]Packet, 0, len(seq))
	sopIndex := 0

	for _, coord := range seq {
		precinct := pe.Grid.Precincts[coord.Component][coord.Resolution][coord.Precinct]

		w := bitio.NewWriter()
		incls, err := encodeHeader(w, precinct, coord.Layer)
		if err != nil {
			return nil, fmt.Errorf("packet (l=%d r=%d c=%d p=%d): %w",
				coord.Layer, coord.Resolution, coord.Component, coord.Precinct, err)
		}
		header := w.Flush()

		if pe.UseEPH {
			var eph [2]byte
			binary.BigEndian.PutUint16(eph[:], 0xFF92)
			header = append(header, eph[:]...)
		}

		var body bytes.Buffer
		for _, incl := range incls {
			if incl.Included {
				body.Write(incl.Data)
			}
		}

		pkt := Packet{
			Layer:      coord.Layer,
			Resolution: coord.Resolution,
			Component:  coord.Component,
			Precinct:   coord.Precinct,
			Header:     header,
			Body:       body.Bytes(),
			Empty:      incls == nil,
			Inclusions: incls,
		}

		if pe.UseSOP {
			// SOP: marker, Lsop=4, Nsop (16-bit packet counter, wraps).
			sop := make([]byte, 6)
			binary.BigEndian.PutUint16(sop[0:], 0xFF91)
			binary.BigEndian.PutUint16(sop[2:], 4)
			binary.BigEndian.PutUint16(sop[4:], uint16(sopIndex))
			pkt.Header = append(sop, pkt.Header...)
		}
		sopIndex++

		packets = append(packets, pkt)
	}
	return packets, nil
}

// Bytes concatenates packets into the tile's bitstream.
func PacketsBytes(packets []Packet) []byte {
	var buf bytes.Buffer
	for _, p := range packets {
		buf.Write(p.Header)
		buf.Write(p.Body)
	}
	return buf.Bytes()
}

// PacketDecoder parses a tile's packet sequence and accumulates code-block
// contributions into the grid.
type PacketDecoder struct {
	Grid *TileGrid

	data   []byte
	offset int
}

// NewPacketDecoder creates a decoder over a tile's packet bytes.
func NewPacketDecoder(grid *TileGrid, data []byte) *PacketDecoder {
	return &PacketDecoder{Grid: grid, data: data}
}

// DecodePackets walks the progression sequence. A stream that ends at a
// packet boundary returns the packets decoded so far without error; one that
// ends inside a packet returns ErrTruncatedInput alongside them. maxLayers
// limits decoding to the first n layers when positive.
func (pd *PacketDecoder) DecodePackets(maxLayers int) ([]Packet, error) {
	seq := pd.Grid.Sequence()
	var packets []Packet

	for _, coord := range seq {
		if pd.offset >= len(pd.data) {
			// Clean truncation at a packet boundary.
			return packets, nil
		}
		if maxLayers > 0 && coord.Layer >= maxLayers {
			// Later-layer packets still occupy the stream; parse them to
			// keep positions aligned but drop their contributions.
			if err := pd.skipOrConsume(coord, nil); err != nil {
				return packets, err
			}
			continue
		}

		pkt := Packet{
			Layer:      coord.Layer,
			Resolution: coord.Resolution,
			Component:  coord.Component,
			Precinct:   coord.Precinct,
		}
		if err := pd.skipOrConsume(coord, &pkt); err != nil {
			return packets, err
		}
		packets = append(packets, pkt)
	}
	return packets, nil
}

// skipOrConsume parses one packet. When out is nil the packet's block
// contributions are discarded (layer-limited decode); header state still
// advances so later packets parse correctly.
func (pd *PacketDecoder) skipOrConsume(coord PacketCoord, out *Packet) error {
	precinct := pd.Grid.Precincts[coord.Component][coord.Resolution][coord.Precinct]

	// Optional SOP before the header.
	if pd.offset+6 <= len(pd.data) &&
		binary.BigEndian.Uint16(pd.data[pd.offset:]) == 0xFF91 {
		pd.offset += 6
	}

	r := bitio.NewReader(pd.data[pd.offset:])
	incls, present, err := parseHeader(r, precinct, coord.Layer)
	if err != nil {
		return codec.NewStreamError(codec.ErrTruncatedInput, pd.offset, "packet header")
	}
	headerLen := r.BytesRead()
	pd.offset += headerLen

	// Optional EPH after the header.
	if pd.offset+2 <= len(pd.data) &&
		binary.BigEndian.Uint16(pd.data[pd.offset:]) == 0xFF92 {
		pd.offset += 2
	}

	if out != nil {
		out.Empty = !present
		out.Inclusions = incls
	}

	// Body: walk blocks in the same scan order, consuming DataLength bytes
	// per included block. The inclusion records cover all blocks; data is
	// read only for the included subset.
	inclIdx := 0
	for _, band := range precinct.Bands {
		for _, cb := range band.Blocks {
			if cb == nil {
				continue
			}
			if inclIdx >= len(incls) {
				break
			}
			incl := incls[inclIdx]
			inclIdx++
			if !incl.Included {
				continue
			}

			if pd.offset+incl.DataLength > len(pd.data) {
				return codec.NewStreamError(codec.ErrTruncatedInput, pd.offset,
					"packet body")
			}
			segment := pd.data[pd.offset : pd.offset+incl.DataLength]
			pd.offset += incl.DataLength

			if out == nil {
				continue
			}

			if incl.FirstInclusion {
				cb.DecodedZBP = incl.ZeroBitPlanes
				cb.DecoderIncluded = true
			}
			cb.DecodedData = append(cb.DecodedData, segment...)
			if len(incl.SegmentLengths) > 0 {
				// A segment cut by a layer boundary continues in the next
				// packet: merge its chunks back into one entry.
				passBase := cb.DecodedPasses
				for i, s := range incl.SegmentLengths {
					pc := incl.SegmentPasses[i]
					n := len(cb.DecodedSegEnds)
					if n > 0 && passBase > 0 && !cb.segmentBoundaryAfter(passBase-1) {
						cb.DecodedSegEnds[n-1] += s
						cb.DecodedSegPasses[n-1] += pc
					} else {
						last := 0
						if n > 0 {
							last = cb.DecodedSegEnds[n-1]
						}
						cb.DecodedSegEnds = append(cb.DecodedSegEnds, last+s)
						cb.DecodedSegPasses = append(cb.DecodedSegPasses, pc)
					}
					passBase += pc
				}
			}
			cb.DecodedPasses += incl.NumPasses
		}
	}
	return nil
}
