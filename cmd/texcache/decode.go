package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gogpu/texcache"
	"github.com/gogpu/texcache/dump"
	"github.com/gogpu/texcache/format"
)

type decodeFlags struct {
	format        string
	width, height int
	levels        int
	offset        int64
	palette       string
	paletteFormat string
	out           string
	dumpFormat    string
}

func newDecodeCmd(g *globalFlags) *cobra.Command {
	f := &decodeFlags{}
	cmd := &cobra.Command{
		Use:   "decode [flags] FILE",
		Short: "Decode a raw texture dump to image files",
		Long: `Decode reads raw texture bytes in console memory layout, runs them
through the texture cache on the selected device and writes one image per
mip level.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecode(cmd, g, f, args[0])
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.format, "format", "f", "", "source format name or code (see 'texcache formats')")
	fl.IntVarP(&f.width, "width", "W", 0, "texture width in texels")
	fl.IntVarP(&f.height, "height", "H", 0, "texture height in texels")
	fl.IntVarP(&f.levels, "levels", "l", 1, "mip levels stored in the file")
	fl.Int64Var(&f.offset, "offset", 0, "byte offset of the texture in FILE")
	fl.StringVar(&f.palette, "palette", "", "raw palette file for C4, C8 and C14X2")
	fl.StringVar(&f.paletteFormat, "palette-format", "RGB565", "palette entry format (IA8, RGB565, RGB5A3)")
	fl.StringVarP(&f.out, "out", "o", ".", "output directory")
	fl.StringVar(&f.dumpFormat, "dump-format", "", "image format (png, webp, bmp, tiff, tga); default from config or png")
	_ = cmd.MarkFlagRequired("format")
	_ = cmd.MarkFlagRequired("width")
	_ = cmd.MarkFlagRequired("height")
	return cmd
}

// paletteAlign is the alignment of the palette placed after the texture.
const paletteAlign = 32

func runDecode(cmd *cobra.Command, g *globalFlags, f *decodeFlags, path string) error {
	id, err := parseFormat(f.format)
	if err != nil {
		return err
	}
	if err := format.Check(id); err != nil {
		return err
	}
	src := texcache.TextureSource{Format: id, Width: f.width, Height: f.height, Levels: f.levels}

	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if f.offset < 0 || f.offset > int64(len(raw)) {
		return fmt.Errorf("offset %d outside %s (%d bytes)", f.offset, path, len(raw))
	}
	raw = raw[f.offset:]
	size := src.Size()
	if len(raw) < size {
		return fmt.Errorf("%s: %d bytes, %s %dx%d needs %d", path, len(raw), id, f.width, f.height, size)
	}

	var pal []byte
	var palFmt format.PaletteFormat
	if id.Paletted() {
		if f.palette == "" {
			return errors.New("paletted format needs --palette")
		}
		if pal, err = os.ReadFile(f.palette); err != nil {
			return err
		}
		if palFmt, err = parsePaletteFormat(f.paletteFormat); err != nil {
			return err
		}
	}

	palAddr := (size + paletteAlign - 1) &^ (paletteAlign - 1)
	ram := make(texcache.RAM, palAddr+len(pal))
	copy(ram, raw[:size])
	copy(ram[palAddr:], pal)

	opts, err := g.options()
	if err != nil {
		return err
	}
	opts = append(opts, texcache.WithMemory(ram))
	if f.dumpFormat != "" {
		df, err := dump.ParseFormat(f.dumpFormat)
		if err != nil {
			return err
		}
		opts = append(opts, texcache.WithDumpFormat(df))
	}

	dev, err := g.openDevice()
	if err != nil {
		return err
	}
	defer dev.Close()

	c, err := texcache.New(dev, opts...)
	if err != nil {
		return err
	}
	defer c.Close()

	if id.Paletted() {
		if err := c.LoadLut(palFmt, uint32(palAddr), len(pal)); err != nil {
			return err
		}
	}
	e, err := c.LoadSource(src)
	if err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("%w: %s", format.ErrUnsupportedFormat, id)
	}

	for level := range uint32(e.NativeLevels) {
		out, err := c.DumpTexture(e, f.out, level)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
	}

	s := c.Stats()
	texcache.Logger().Debug("texcache: decoded", "entry", e,
		"gpu_levels", s.GPUDecodes, "cpu_levels", s.CPUDecodes, "kernels", s.Kernel.Kernels)
	return nil
}
