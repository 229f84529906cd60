package codestream

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rasterlab/go-j2k/codec"
)

func buildMinimalHeader(t *testing.T) ([]byte, *SIZSegment, *CODSegment, *QCDSegment) {
	t.Helper()

	siz := &SIZSegment{
		Rsiz: 0, Xsiz: 16, Ysiz: 16, XTsiz: 16, YTsiz: 16, Csiz: 1,
		Components: []ComponentSize{{Ssiz: 7, XRsiz: 1, YRsiz: 1}},
	}
	cod := &CODSegment{
		ProgressionOrder:            0,
		NumberOfLayers:              1,
		NumberOfDecompositionLevels: 3,
		CodeBlockWidth:              4,
		CodeBlockHeight:             4,
		Transformation:              1,
	}
	qcd := &QCDSegment{
		Sqcd:  uint8(2 << 5), // no quantization, 2 guard bits
		SPqcd: make([]byte, 10),
	}

	w := NewWriter()
	w.WriteMarker(MarkerSOC)
	require.NoError(t, w.WriteSegment(MarkerSIZ, siz.Payload()))
	require.NoError(t, w.WriteSegment(MarkerCOD, cod.Payload()))
	require.NoError(t, w.WriteSegment(MarkerQCD, qcd.Payload()))
	return w.Bytes(), siz, cod, qcd
}

func TestParseMinimalHeaderAndEmptyTile(t *testing.T) {
	header, siz, cod, _ := buildMinimalHeader(t)

	w := NewWriter()
	w.WriteRaw(header)
	sot := &SOTSegment{Isot: 0, Psot: 14, TPsot: 0, TNsot: 1}
	require.NoError(t, w.WriteSegment(MarkerSOT, sot.Payload()))
	w.WriteMarker(MarkerSOD)
	w.WriteMarker(MarkerEOC)

	cs, err := NewParser(w.Bytes()).Parse()
	require.NoError(t, err)
	require.NotNil(t, cs.SIZ)
	require.Equal(t, siz.Xsiz, cs.SIZ.Xsiz)
	require.Equal(t, cod.NumberOfDecompositionLevels, cs.COD.NumberOfDecompositionLevels)
	require.Len(t, cs.Tiles, 1)
	require.Empty(t, cs.Tiles[0].Data)
}

func TestParseMissingSOC(t *testing.T) {
	_, err := NewParser([]byte{0x00, 0x01, 0x02}).Parse()
	require.Error(t, err)
	require.True(t, errors.Is(err, codec.ErrMalformedCodestream))
}

func TestParseMissingQCD(t *testing.T) {
	siz := &SIZSegment{
		Xsiz: 8, Ysiz: 8, XTsiz: 8, YTsiz: 8, Csiz: 1,
		Components: []ComponentSize{{Ssiz: 7, XRsiz: 1, YRsiz: 1}},
	}
	cod := &CODSegment{NumberOfLayers: 1, CodeBlockWidth: 2, CodeBlockHeight: 2, Transformation: 1}

	w := NewWriter()
	w.WriteMarker(MarkerSOC)
	require.NoError(t, w.WriteSegment(MarkerSIZ, siz.Payload()))
	require.NoError(t, w.WriteSegment(MarkerCOD, cod.Payload()))
	w.WriteMarker(MarkerEOC)

	_, err := NewParser(w.Bytes()).Parse()
	require.True(t, errors.Is(err, codec.ErrMalformedCodestream))
}

func TestParseTruncatedReportsOffset(t *testing.T) {
	header, _, _, _ := buildMinimalHeader(t)
	truncated := header[:len(header)-3]

	_, err := NewParser(truncated).Parse()
	require.Error(t, err)
	var se *codec.StreamError
	require.True(t, errors.As(err, &se))
	require.True(t, errors.Is(err, codec.ErrTruncatedInput))
}

func TestCAPRoundTrip(t *testing.T) {
	capSeg := NewPart15CAP(true, true)
	require.True(t, capSeg.IsHTJ2K())

	siz := &SIZSegment{
		Rsiz: RsizPart15, Xsiz: 16, Ysiz: 16, XTsiz: 16, YTsiz: 16, Csiz: 1,
		Components: []ComponentSize{{Ssiz: 7, XRsiz: 1, YRsiz: 1}},
	}
	cod := &CODSegment{
		NumberOfLayers: 1, NumberOfDecompositionLevels: 2,
		CodeBlockWidth: 4, CodeBlockHeight: 4,
		CodeBlockStyle: CblkHTOnly, Transformation: 1,
	}
	qcd := &QCDSegment{Sqcd: 2 << 5, SPqcd: make([]byte, 7)}
	cpf := &CPFSegment{Pcpf: []uint16{CPFProfileHTJ2KMain}}

	w := NewWriter()
	w.WriteMarker(MarkerSOC)
	require.NoError(t, w.WriteSegment(MarkerSIZ, siz.Payload()))
	require.NoError(t, w.WriteSegment(MarkerCAP, capSeg.Payload()))
	require.NoError(t, w.WriteSegment(MarkerCPF, cpf.Payload()))
	require.NoError(t, w.WriteSegment(MarkerCOD, cod.Payload()))
	require.NoError(t, w.WriteSegment(MarkerQCD, qcd.Payload()))
	w.WriteMarker(MarkerEOC)

	cs, err := NewParser(w.Bytes()).Parse()
	require.NoError(t, err)
	require.NotNil(t, cs.CAP)
	require.True(t, cs.CAP.IsHTJ2K())
	ccap15, ok := cs.CAP.Ccap15()
	require.True(t, ok)
	require.NotZero(t, ccap15&Ccap15Reversible)
	require.Equal(t, CPFProfileHTJ2KMain, cs.CPF.Profile())
	require.True(t, cs.COD.UsesHT())
}

func TestHTStyleWithoutCAPIsMalformed(t *testing.T) {
	siz := &SIZSegment{
		Xsiz: 16, Ysiz: 16, XTsiz: 16, YTsiz: 16, Csiz: 1,
		Components: []ComponentSize{{Ssiz: 7, XRsiz: 1, YRsiz: 1}},
	}
	cod := &CODSegment{
		NumberOfLayers: 1, CodeBlockWidth: 4, CodeBlockHeight: 4,
		CodeBlockStyle: CblkHTOnly, Transformation: 1,
	}
	qcd := &QCDSegment{Sqcd: 2 << 5, SPqcd: []byte{0}}

	w := NewWriter()
	w.WriteMarker(MarkerSOC)
	require.NoError(t, w.WriteSegment(MarkerSIZ, siz.Payload()))
	require.NoError(t, w.WriteSegment(MarkerCOD, cod.Payload()))
	require.NoError(t, w.WriteSegment(MarkerQCD, qcd.Payload()))
	w.WriteMarker(MarkerEOC)

	_, err := NewParser(w.Bytes()).Parse()
	require.True(t, errors.Is(err, codec.ErrMalformedCodestream))
}

func TestSegmentPayloadRoundTrip(t *testing.T) {
	// parse(emit(seg)) == seg for every header segment type.
	siz := &SIZSegment{
		Rsiz: 0, Xsiz: 640, Ysiz: 480, XOsiz: 2, YOsiz: 3,
		XTsiz: 128, YTsiz: 128, Csiz: 3,
		Components: []ComponentSize{
			{Ssiz: 7, XRsiz: 1, YRsiz: 1},
			{Ssiz: 7, XRsiz: 2, YRsiz: 2},
			{Ssiz: 0x87, XRsiz: 1, YRsiz: 1},
		},
	}
	cod := &CODSegment{
		Scod: ScodPrecincts, ProgressionOrder: 2, NumberOfLayers: 5,
		MultipleComponentTransform: 1, NumberOfDecompositionLevels: 3,
		CodeBlockWidth: 4, CodeBlockHeight: 2, CodeBlockStyle: CblkTermAll,
		Transformation: 0,
		PrecinctSizes: []PrecinctSize{{8, 8}, {8, 8}, {7, 7}, {7, 7}},
	}
	qcd := &QCDSegment{Sqcd: 2<<5 | QuantScalarExpounded, SPqcd: []byte{1, 2, 3, 4, 5, 6}}
	coc := &COCSegment{Component: 1, NumberOfDecompositionLevels: 2, CodeBlockWidth: 3, CodeBlockHeight: 3, Transformation: 1}
	qcc := &QCCSegment{Component: 2, Sqcc: 2 << 5, SPqcc: []byte{9, 8}}
	rgn := &RGNSegment{Crgn: 0, Srgn: 0, SPrgn: 6}
	poc := &POCSegment{Entries: []POCEntry{{RSpoc: 0, CSpoc: 0, LYEpoc: 2, REpoc: 3, CEpoc: 3, Ppoc: 1}}}
	com := &COMSegment{Rcom: 1, Data: []byte("go-j2k")}

	w := NewWriter()
	w.WriteMarker(MarkerSOC)
	require.NoError(t, w.WriteSegment(MarkerSIZ, siz.Payload()))
	require.NoError(t, w.WriteSegment(MarkerCOD, cod.Payload()))
	require.NoError(t, w.WriteSegment(MarkerCOC, coc.Payload(false)))
	require.NoError(t, w.WriteSegment(MarkerQCD, qcd.Payload()))
	require.NoError(t, w.WriteSegment(MarkerQCC, qcc.Payload(false)))
	require.NoError(t, w.WriteSegment(MarkerRGN, rgn.Payload(false)))
	require.NoError(t, w.WriteSegment(MarkerPOC, poc.Payload(false)))
	require.NoError(t, w.WriteSegment(MarkerCOM, com.Payload()))
	w.WriteMarker(MarkerEOC)

	cs, err := NewParser(w.Bytes()).Parse()
	require.NoError(t, err)
	require.Equal(t, siz, cs.SIZ)
	require.Equal(t, cod, cs.COD)
	require.Equal(t, qcd, cs.QCD)
	require.Equal(t, coc, cs.COC[1])
	require.Equal(t, qcc, cs.QCC[2])
	require.Equal(t, *rgn, cs.RGN[0])
	require.Equal(t, *poc, cs.POC[0])
	require.Equal(t, *com, cs.COM[0])
}

func TestMarkerNames(t *testing.T) {
	require.Equal(t, "SOC", MarkerName(MarkerSOC))
	require.Equal(t, "CAP", MarkerName(MarkerCAP))
	require.Equal(t, "CPF", MarkerName(MarkerCPF))
	require.Equal(t, "UNKNOWN", MarkerName(0xFF00))
	require.False(t, HasLength(MarkerSOC))
	require.True(t, HasLength(MarkerSIZ))
}
