package formats

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/Faultbox/amh-tools/pkg/archive"
	"github.com/Faultbox/amh-tools/pkg/binreader"
)

// TextureOptions controls format-revision specific details of palette decoding.
type TextureOptions struct {
	// NibbleScale divides each 4-bit channel of a 16-bit palette entry.
	// 15 expands to the full 0-1 range; 255 matches the legacy importer output.
	NibbleScale float32

	// HighNibbleFirst uses the high nibble for even columns of 4-bit images.
	HighNibbleFirst bool

	// Palette16Order selects the nibble layout of 16-bit palette entries.
	// Nil follows the byte order of the file.
	Palette16Order binary.ByteOrder
}

// DefaultTextureOptions returns the default palette decoding settings.
func DefaultTextureOptions() TextureOptions {
	return TextureOptions{NibbleScale: 15}
}

// ImageHeader is the fixed header preceding every paletted image.
type ImageHeader struct {
	PixelBytes    uint32 // Size of the index data that precedes the palette
	PaletteBytes  uint32
	BitDepth      uint16 // 4 or 8
	Width         uint16
	Height        uint16
	ImageFormat   uint16
	PaletteDepth  uint16 // 16 or 32
	PaletteFormat uint16
	Reserved1     uint32
	Reserved2     uint32
}

// DecodedImage is an RGBA float image with rows stored bottom-to-top.
// Row 0 of Pixels is the last row of the source raster.
type DecodedImage struct {
	Width  uint32
	Height uint32
	Pixels []float32 // 4 floats per pixel, row-major
}

// At returns the color at column x of stored row y.
func (img *DecodedImage) At(x, y int) [4]float32 {
	i := (y*int(img.Width) + x) * 4
	return [4]float32{img.Pixels[i], img.Pixels[i+1], img.Pixels[i+2], img.Pixels[i+3]}
}

// ToNRGBA converts the image to 8-bit RGBA in top-to-bottom raster order.
func (img *DecodedImage) ToNRGBA() *image.NRGBA {
	w, h := int(img.Width), int(img.Height)
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := img.At(x, h-1-y)
			out.SetNRGBA(x, y, color.NRGBA{
				R: toByte(c[0]),
				G: toByte(c[1]),
				B: toByte(c[2]),
				A: toByte(c[3]),
			})
		}
	}
	return out
}

// ImageFromGo converts a standard library image into the decoded layout,
// so standalone image files can stand in for texture archive entries.
func ImageFromGo(src image.Image) DecodedImage {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	img := DecodedImage{
		Width:  uint32(w),
		Height: uint32(h),
		Pixels: make([]float32, w*h*4),
	}
	for y := 0; y < h; y++ {
		row := (h - 1 - y) * w * 4
		for x := 0; x < w; x++ {
			c := color.NRGBAModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			i := row + x*4
			img.Pixels[i] = float32(c.R) / 255
			img.Pixels[i+1] = float32(c.G) / 255
			img.Pixels[i+2] = float32(c.B) / 255
			img.Pixels[i+3] = float32(c.A) / 255
		}
	}
	return img
}

func toByte(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(math.Round(float64(v) * 255))
}

// ParseTexture decodes one texture archive entry: a u32 size prefix followed by the image.
func ParseTexture(data []byte, order binary.ByteOrder, opts TextureOptions) (*DecodedImage, error) {
	r := binreader.New(data, order)
	if _, err := r.U32(); err != nil {
		return nil, fmt.Errorf("reading texture size: %w", err)
	}
	return DecodeImage(r, opts)
}

// ParseTextureArchive decodes every image of a _tex archive.
// Images fail independently: errs[i] is set and images[i] left empty for a bad entry.
// The returned error is only set when the archive table itself is unreadable.
func ParseTextureArchive(data []byte, order binary.ByteOrder, opts TextureOptions) (images []DecodedImage, errs []error, err error) {
	idx, err := archive.Parse(data, order)
	if err != nil {
		return nil, nil, fmt.Errorf("reading texture archive: %w", err)
	}

	images = make([]DecodedImage, idx.Len())
	errs = make([]error, idx.Len())
	for i := range images {
		sub, err := idx.Subfile(i)
		if err != nil {
			errs[i] = err
			continue
		}
		img, err := ParseTexture(sub, order, opts)
		if err != nil {
			errs[i] = fmt.Errorf("image %d: %w", i, err)
			continue
		}
		images[i] = *img
	}
	return images, errs, nil
}

// ReadImageHeader reads the fixed image header at the reader's position.
func ReadImageHeader(r *binreader.Reader) (ImageHeader, error) {
	var h ImageHeader
	var err error

	u32 := func(dst *uint32) {
		if err == nil {
			*dst, err = r.U32()
		}
	}
	u16 := func(dst *uint16) {
		if err == nil {
			*dst, err = r.U16()
		}
	}

	u32(&h.PixelBytes)
	u32(&h.PaletteBytes)
	u16(&h.BitDepth)
	u16(&h.Width)
	u16(&h.Height)
	u16(&h.ImageFormat)
	u16(&h.PaletteDepth)
	u16(&h.PaletteFormat)
	u32(&h.Reserved1)
	u32(&h.Reserved2)

	if err != nil {
		return ImageHeader{}, fmt.Errorf("reading image header: %w", err)
	}
	return h, nil
}

// DecodeImage decodes a paletted image starting at its header.
func DecodeImage(r *binreader.Reader, opts TextureOptions) (*DecodedImage, error) {
	if opts.NibbleScale == 0 {
		opts.NibbleScale = DefaultTextureOptions().NibbleScale
	}

	h, err := ReadImageHeader(r)
	if err != nil {
		return nil, err
	}

	pixelStart := r.Pos()
	if err := r.Skip(int(h.PixelBytes)); err != nil {
		return nil, fmt.Errorf("skipping pixel data: %w", err)
	}

	palette, err := readPalette(r, h, opts)
	if err != nil {
		return nil, err
	}

	if err := r.Seek(pixelStart); err != nil {
		return nil, err
	}
	return decodeIndices(r, h, palette, opts)
}

func readPalette(r *binreader.Reader, h ImageHeader, opts TextureOptions) ([][4]float32, error) {
	var entrySize int
	var read func() ([4]float32, error)

	switch h.PaletteDepth {
	case 32:
		entrySize = 4
		read = func() ([4]float32, error) { return readColor32(r) }
	case 16:
		entrySize = 2
		read = func() ([4]float32, error) { return readColor16(r, opts) }
	default:
		return nil, fmt.Errorf("%w: palette bit depth %d", ErrUnsupportedFormat, h.PaletteDepth)
	}

	n := int(h.PaletteBytes) / entrySize
	if n*entrySize > r.Remaining() {
		return nil, fmt.Errorf("%w: palette of %d bytes at 0x%X", ErrUnexpectedEOF, h.PaletteBytes, r.Pos())
	}

	palette := make([][4]float32, n)
	for i := range palette {
		c, err := read()
		if err != nil {
			return nil, fmt.Errorf("reading palette entry %d: %w", i, err)
		}
		palette[i] = c
	}
	return palette, nil
}

// readColor32 reads R,G,B,A bytes; the big-endian layout stores A,B,G,R.
func readColor32(r *binreader.Reader) ([4]float32, error) {
	b, err := r.Bytes(4)
	if err != nil {
		return [4]float32{}, err
	}
	if r.BigEndian() {
		return [4]float32{float32(b[3]) / 255, float32(b[2]) / 255, float32(b[1]) / 255, float32(b[0]) / 255}, nil
	}
	return [4]float32{float32(b[0]) / 255, float32(b[1]) / 255, float32(b[2]) / 255, float32(b[3]) / 255}, nil
}

// nibbleStep reads one channel of a 16-bit palette entry.
type nibbleStep struct {
	channel int
	high    bool
	rewind  bool
}

// 16-bit palette nibble layouts:
//
//	little-endian: R=lo(b0) G=hi(b0) B=lo(b1) A=hi(b1)
//	big-endian:    A=hi(b0) B=lo(b0) G=hi(b1) R=lo(b1)
var (
	nibbleStepsLE = [4]nibbleStep{{0, false, true}, {1, true, false}, {2, false, true}, {3, true, false}}
	nibbleStepsBE = [4]nibbleStep{{3, true, true}, {2, false, false}, {1, true, true}, {0, false, false}}
)

func readColor16(r *binreader.Reader, opts TextureOptions) ([4]float32, error) {
	order := opts.Palette16Order
	if order == nil {
		order = r.Order()
	}
	steps := nibbleStepsLE
	if order == binary.BigEndian {
		steps = nibbleStepsBE
	}

	var c [4]float32
	for _, step := range steps {
		if err := readNibbleInto(r, &c[step.channel], step.high, step.rewind, opts.NibbleScale); err != nil {
			return c, err
		}
	}
	return c, nil
}

func readNibbleInto(r *binreader.Reader, dst *float32, high, rewind bool, scale float32) error {
	v, err := r.Nibble(high)
	if err != nil {
		return err
	}
	*dst = float32(v) / scale
	if rewind {
		return r.Skip(-1)
	}
	return nil
}

func decodeIndices(r *binreader.Reader, h ImageHeader, palette [][4]float32, opts TextureOptions) (*DecodedImage, error) {
	w, ht := int(h.Width), int(h.Height)

	var needed int
	switch h.BitDepth {
	case 8:
		needed = w * ht
	case 4:
		if w > 0 && ht > 0 {
			needed = ht*(w/2) + w%2
		}
	default:
		return nil, fmt.Errorf("%w: image bit depth %d", ErrUnsupportedFormat, h.BitDepth)
	}
	if needed > r.Remaining() {
		return nil, fmt.Errorf("%w: %dx%d image needs %d index bytes at 0x%X", ErrUnexpectedEOF, w, ht, needed, r.Pos())
	}

	img := &DecodedImage{
		Width:  uint32(w),
		Height: uint32(ht),
		Pixels: make([]float32, w*ht*4),
	}

	for y := 0; y < ht; y++ {
		row := (ht - 1 - y) * w * 4
		for x := 0; x < w; x++ {
			idx, err := readIndex(r, h.BitDepth, x, opts.HighNibbleFirst)
			if err != nil {
				return nil, fmt.Errorf("reading pixel (%d,%d): %w", x, y, err)
			}
			if int(idx) >= len(palette) {
				return nil, fmt.Errorf("%w: pixel (%d,%d) index %d, palette has %d entries",
					ErrPaletteIndexOutOfRange, x, y, idx, len(palette))
			}
			copy(img.Pixels[row+x*4:], palette[idx][:])
		}
	}
	return img, nil
}

// readIndex reads one palette index. In 4-bit mode the even column rewinds so
// the odd column reads the other nibble of the same byte.
func readIndex(r *binreader.Reader, depth uint16, x int, highFirst bool) (uint8, error) {
	if depth == 8 {
		return r.U8()
	}
	if x%2 == 0 {
		v, err := r.Nibble(highFirst)
		if err != nil {
			return 0, err
		}
		return v, r.Skip(-1)
	}
	return r.Nibble(!highFirst)
}
