package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rasterlab/go-j2k/jpeg2000"
	"github.com/rasterlab/go-j2k/jpeg2000/codestream"
	"github.com/rasterlab/go-j2k/jpeg2000/t2"
	"github.com/rasterlab/go-j2k/jpeg2000/transcoder"
)

// NewEncodeCmd encodes raw planar samples into a codestream.
func NewEncodeCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "encode <raw-input> <j2c-output>",
		Short: "encode raw planar pixel data to a JPEG 2000 codestream",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			width, _ := cmd.Flags().GetInt("width")
			height, _ := cmd.Flags().GetInt("height")
			comps, _ := cmd.Flags().GetInt("components")
			depth, _ := cmd.Flags().GetInt("depth")
			signed, _ := cmd.Flags().GetBool("signed")
			levels, _ := cmd.Flags().GetInt("levels")
			layers, _ := cmd.Flags().GetInt("layers")
			rates, _ := cmd.Flags().GetIntSlice("rates")
			lossy, _ := cmd.Flags().GetBool("lossy")
			quality, _ := cmd.Flags().GetInt("quality")
			mct, _ := cmd.Flags().GetBool("mct")
			ht, _ := cmd.Flags().GetBool("ht")
			order, _ := cmd.Flags().GetString("order")
			tileW, _ := cmd.Flags().GetInt("tile-width")
			tileH, _ := cmd.Flags().GetInt("tile-height")

			raw, err := readInput(args[0])
			if err != nil {
				return err
			}

			params := jpeg2000.DefaultEncodeParams(width, height, comps, depth, signed)
			params.NumLevels = levels
			params.NumLayers = layers
			params.TileWidth = tileW
			params.TileHeight = tileH
			if len(rates) > 0 {
				params.LayerRates = rates
			}
			if lossy {
				params.Lossless = false
				params.Filter = jpeg2000.FilterIrreversible97
				params.Quality = quality
				if mct && comps >= 3 {
					params.ColorTransform = jpeg2000.ColorTransformICT
				}
			} else if mct && comps >= 3 {
				params.ColorTransform = jpeg2000.ColorTransformRCT
			}
			if ht {
				params.HTMode = jpeg2000.HTModeHTOnly
			}
			po, err := parseOrder(order)
			if err != nil {
				return err
			}
			params.Progression = po
			params.Comment = fmt.Sprintf("j2kctl %s", uuid.NewString())

			enc := jpeg2000.NewEncoder(params)
			data, err := enc.Encode(raw)
			if err != nil {
				return err
			}
			log.Printf("encoded %dx%dx%d -> %d bytes", width, height, comps, len(data))
			return writeOutput(args[1], data)
		},
	}

	f := cmd.Flags()
	f.Int("width", 0, "image width")
	f.Int("height", 0, "image height")
	f.Int("components", 1, "component count")
	f.Int("depth", 8, "bit depth per sample")
	f.Bool("signed", false, "signed samples")
	f.Int("levels", 5, "DWT decomposition levels")
	f.Int("layers", 1, "quality layers")
	f.IntSlice("rates", nil, "cumulative byte targets per layer")
	f.Bool("lossy", false, "9/7 irreversible coding")
	f.Int("quality", 85, "lossy quality 1-99")
	f.Bool("mct", true, "multi-component transform for RGB")
	f.Bool("ht", false, "HTJ2K (Part 15) block coding")
	f.String("order", "LRCP", "progression order (LRCP RLCP RPCL PCRL CPRL)")
	f.Int("tile-width", 0, "tile width (0 = single tile)")
	f.Int("tile-height", 0, "tile height (0 = single tile)")
	_ = cmd.MarkFlagRequired("width")
	_ = cmd.MarkFlagRequired("height")
	return cmd
}

// NewDecodeCmd decodes a codestream to raw planar samples.
func NewDecodeCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode <j2c-input> <raw-output>",
		Short: "decode a JPEG 2000 codestream to raw planar pixel data",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			maxRes, _ := cmd.Flags().GetInt("max-resolution")
			maxLayers, _ := cmd.Flags().GetInt("max-layers")

			data, err := readInput(args[0])
			if err != nil {
				return err
			}

			dec := jpeg2000.NewDecoder()
			dec.SetConstraints(jpeg2000.DecodeConstraints{
				MaxResolution: maxRes,
				MaxLayers:     maxLayers,
			})
			if err := dec.Decode(data); err != nil {
				return err
			}
			if dec.Partial() {
				log.Printf("input truncated: best-effort image")
			}
			log.Printf("decoded %dx%dx%d @ %d bits",
				dec.Width(), dec.Height(), dec.Components(), dec.BitDepth())
			return writeOutput(args[1], dec.PixelData())
		},
	}
	f := cmd.Flags()
	f.Int("max-resolution", 0, "cap resolution levels (0 = full)")
	f.Int("max-layers", 0, "cap quality layers (0 = all)")
	return cmd
}

// NewTranscodeCmd converts between Part 1 and Part 15 losslessly.
func NewTranscodeCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcode <j2c-input> <j2c-output>",
		Short: "losslessly re-pack between Part 1 and HTJ2K",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			toHT, _ := cmd.Flags().GetBool("to-ht")

			data, err := readInput(args[0])
			if err != nil {
				return err
			}
			dir := transcoder.ToPart1
			if toHT {
				dir = transcoder.ToHT
			}
			out, err := transcoder.Transcode(data, dir)
			if err != nil {
				return err
			}
			log.Printf("transcoded %d -> %d bytes", len(data), len(out))
			return writeOutput(args[1], out)
		},
	}
	cmd.Flags().Bool("to-ht", false, "convert to HTJ2K (default converts to Part 1)")
	return cmd
}

// NewInspectCmd dumps the marker structure of a codestream.
func NewInspectCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <j2c-input>",
		Short: "print the marker-segment structure of a codestream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(args[0])
			if err != nil {
				return err
			}
			cs, err := codestream.NewParser(data).Parse()
			if cs == nil {
				return err
			}
			if cs.SIZ != nil {
				fmt.Printf("SIZ: %dx%d, %d components, tiles %dx%d\n",
					cs.SIZ.Xsiz, cs.SIZ.Ysiz, cs.SIZ.Csiz, cs.SIZ.XTsiz, cs.SIZ.YTsiz)
			}
			if cs.COD != nil {
				fmt.Printf("COD: order=%s layers=%d levels=%d cblk=%dx%d style=%#02x transform=%d\n",
					t2.ProgressionOrder(cs.COD.ProgressionOrder),
					cs.COD.NumberOfLayers, cs.COD.NumberOfDecompositionLevels,
					1<<(cs.COD.CodeBlockWidth+2), 1<<(cs.COD.CodeBlockHeight+2),
					cs.COD.CodeBlockStyle, cs.COD.Transformation)
			}
			if cs.QCD != nil {
				fmt.Printf("QCD: style=%d guard=%d\n",
					cs.QCD.QuantizationType(), cs.QCD.GuardBits())
			}
			if cs.CAP != nil {
				fmt.Printf("CAP: Pcap=%#08x HTJ2K=%v\n", cs.CAP.Pcap, cs.CAP.IsHTJ2K())
			}
			if cs.CPF != nil {
				fmt.Printf("CPF: profile=%d\n", cs.CPF.Profile())
			}
			for _, rgn := range cs.RGN {
				fmt.Printf("RGN: component=%d shift=%d\n", rgn.Crgn, rgn.SPrgn)
			}
			for _, com := range cs.COM {
				if com.Rcom == 1 {
					fmt.Printf("COM: %q\n", string(com.Data))
				}
			}
			for _, tile := range cs.Tiles {
				fmt.Printf("tile %d: %d data bytes\n", tile.Index, len(tile.Data))
			}
			if err != nil {
				fmt.Printf("parse warning: %v\n", err)
			}
			return nil
		},
	}
}

func parseOrder(s string) (t2.ProgressionOrder, error) {
	switch s {
	case "LRCP":
		return t2.ProgressionLRCP, nil
	case "RLCP":
		return t2.ProgressionRLCP, nil
	case "RPCL":
		return t2.ProgressionRPCL, nil
	case "PCRL":
		return t2.ProgressionPCRL, nil
	case "CPRL":
		return t2.ProgressionCPRL, nil
	default:
		return 0, fmt.Errorf("unknown progression order %q", s)
	}
}
