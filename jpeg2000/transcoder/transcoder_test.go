package transcoder

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rasterlab/go-j2k/jpeg2000"
)

func TestTranscodeBothDirections(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	plane := make([]int32, 32*32)
	for i := range plane {
		plane[i] = rng.Int31n(256)
	}

	params := jpeg2000.DefaultEncodeParams(32, 32, 1, 8, false)
	params.NumLevels = 3

	enc := jpeg2000.NewEncoder(params)
	p1, err := enc.EncodeComponents([][]int32{plane})
	require.NoError(t, err)

	ht, err := Transcode(p1, ToHT)
	require.NoError(t, err)
	require.NotEqual(t, p1, ht)

	dec := jpeg2000.NewDecoder()
	require.NoError(t, dec.Decode(ht))
	got, err := dec.ComponentData(0)
	require.NoError(t, err)
	require.Equal(t, plane, got, "HT stream decodes to the source image")

	back, err := Transcode(ht, ToPart1)
	require.NoError(t, err)
	dec = jpeg2000.NewDecoder()
	require.NoError(t, dec.Decode(back))
	got, err = dec.ComponentData(0)
	require.NoError(t, err)
	require.Equal(t, plane, got)
}

func TestTranscodeIdempotentOnTarget(t *testing.T) {
	params := jpeg2000.DefaultEncodeParams(16, 16, 1, 8, false)
	params.NumLevels = 2
	plane := make([]int32, 16*16)
	for i := range plane {
		plane[i] = int32(i % 251)
	}

	enc := jpeg2000.NewEncoder(params)
	p1, err := enc.EncodeComponents([][]int32{plane})
	require.NoError(t, err)

	same, err := Transcode(p1, ToPart1)
	require.NoError(t, err)
	require.Equal(t, p1, same)
}
