package formats

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/Faultbox/amh-tools/pkg/archive"
	"github.com/Faultbox/amh-tools/pkg/binreader"
)

// blockHeaderSize is the size of the (tag, count, size) triple opening every block.
const blockHeaderSize = 12

// Fixed on-disk record sizes.
const (
	materialSize   = 272
	textureRefSize = 268
)

// DefaultMaxDepth bounds block nesting.
const DefaultMaxDepth = 64

// Tag identifies a block kind in the model tree.
type Tag uint32

// Known block tags.
const (
	TagMain          Tag = 0x00000002
	TagObject        Tag = 0x00000004
	TagFace          Tag = 0x00000005
	TagMaterialData  Tag = 0x00000009
	TagTextureData   Tag = 0x0000000A
	TagHeader        Tag = 0x00020000
	TagStripsA       Tag = 0x00030000
	TagStripsB       Tag = 0x00040000
	TagMaterialRemap Tag = 0x00050000
	TagMaterialIndex Tag = 0x00060000
	TagVertices      Tag = 0x00070000
	TagNormals       Tag = 0x00080000
	TagUVs           Tag = 0x000A0000
	TagColors        Tag = 0x000B0000
	TagWeights       Tag = 0x000C0000
	TagRenderFlags   Tag = 0x000D0000
)

// String returns a human-readable block name.
func (t Tag) String() string {
	if h, ok := blockHandlers[t]; ok {
		return h.name
	}
	return fmt.Sprintf("Unknown(0x%X)", uint32(t))
}

// Known reports whether the parser has a handler for the tag.
func (t Tag) Known() bool {
	_, ok := blockHandlers[t]
	return ok
}

// BlockInfo records one visited block header.
type BlockInfo struct {
	Offset int // Position of the tag within the model subfile
	Tag    Tag
	Count  uint32
	Size   uint32 // Declared size including the 12-byte header
	Depth  int
}

// BoneWeight binds a vertex to a bone. Weight is normalized to 0-1.
type BoneWeight struct {
	Bone   uint32
	Weight float32
}

// RenderFlags holds the raw render state words attached to an object.
type RenderFlags struct {
	Fields [18]uint32
}

// alphaModeField is the index of the alpha blending mode word.
const alphaModeField = 12

// AlphaModeAdditive marks additive blending.
const AlphaModeAdditive = 2

// AlphaMode returns the alpha blending mode word.
func (f *RenderFlags) AlphaMode() uint32 {
	return f.Fields[alphaModeField]
}

// Additive reports whether the object is drawn with additive blending.
func (f *RenderFlags) Additive() bool {
	return f.AlphaMode() == AlphaModeAdditive
}

// MeshObject is one mesh node. Slices are nil when their block was absent.
type MeshObject struct {
	Positions [][3]float32
	Normals   [][3]float32
	UVs       [][2]float32
	Colors    [][4]float32 // Normalized to 0-1
	Weights   [][]BoneWeight

	StripsA [][]uint32
	StripsB [][]uint32

	MaterialRemap    []uint32 // Object-local material slot -> model material index
	MaterialPerStrip []uint32 // Strip index (A then B) -> object-local material slot

	RenderFlags *RenderFlags
}

// Strips returns all strips, group A followed by group B.
func (o *MeshObject) Strips() [][]uint32 {
	all := make([][]uint32, 0, len(o.StripsA)+len(o.StripsB))
	all = append(all, o.StripsA...)
	return append(all, o.StripsB...)
}

// Material is a fixed-layout material record.
type Material struct {
	Unk1, Unk2, Unk3 uint32
	Emission         [4]float32
	RGBA1            [4]float32
	RGBA2            [4]float32
	Unk4             float32
	Unk5             uint32
	Reserved         [200]byte
	TextureRef       uint32 // Index into Model.Textures
}

// TextureRef is a fixed-layout texture reference record.
type TextureRef struct {
	Kind         uint32
	Count        uint32
	DeclaredSize uint32
	ImageID      uint32 // Position in the decoded image list
	Width        uint32
	Height       uint32
	Reserved     [244]byte
}

// Model is a decoded model subfile.
type Model struct {
	Magic     uint32
	Version   uint32
	TotalSize uint32

	Objects   []MeshObject
	Materials []Material
	Textures  []TextureRef

	Blocks []BlockInfo // Every block header in visit order
}

// ModelOptions controls format-revision specific details of model decoding.
type ModelOptions struct {
	FlipV      bool            // Negate the V texture coordinate
	MaxDepth   int             // Maximum block nesting, DefaultMaxDepth when zero
	StripCount StripCountField // Which strip header u16 holds the index count
}

// StripCountField selects the strip header half that holds the index count.
type StripCountField int

const (
	// StripCountAuto reads the first u16 in little-endian files and the
	// second in big-endian ones, so the count is the low half of the u32.
	StripCountAuto StripCountField = iota
	StripCountFirst
	StripCountSecond
)

func (f StripCountField) String() string {
	switch f {
	case StripCountAuto:
		return "auto"
	case StripCountFirst:
		return "first"
	case StripCountSecond:
		return "second"
	}
	return fmt.Sprintf("StripCountField(%d)", int(f))
}

// second reports whether the count is the second u16 for the given reader.
func (f StripCountField) second(r *binreader.Reader) bool {
	switch f {
	case StripCountFirst:
		return false
	case StripCountSecond:
		return true
	}
	return r.BigEndian()
}

// DefaultModelOptions returns the default model decoding settings.
func DefaultModelOptions() ModelOptions {
	return ModelOptions{MaxDepth: DefaultMaxDepth}
}

// ParseModelArchive parses an _amh archive and decodes the model in its first entry.
func ParseModelArchive(data []byte, order binary.ByteOrder, opts ModelOptions) (*Model, error) {
	idx, err := archive.Parse(data, order)
	if err != nil {
		return nil, fmt.Errorf("reading model archive: %w", err)
	}
	sub, err := idx.Subfile(0)
	if err != nil {
		return nil, fmt.Errorf("locating model: %w", err)
	}
	return ParseModel(sub, order, opts)
}

// ParseModel decodes a model subfile. No partial model is returned on error.
func ParseModel(data []byte, order binary.ByteOrder, opts ModelOptions) (*Model, error) {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}

	p := &parser{
		r:     binreader.New(data, order),
		opts:  opts,
		model: &Model{},
	}

	var err error
	if p.model.Magic, err = p.r.U32(); err != nil {
		return nil, fmt.Errorf("reading model magic: %w", err)
	}
	if p.model.Version, err = p.r.U32(); err != nil {
		return nil, fmt.Errorf("reading model version: %w", err)
	}
	if p.model.TotalSize, err = p.r.U32(); err != nil {
		return nil, fmt.Errorf("reading model size: %w", err)
	}

	// The archive entry bounds the subfile; a larger declared size is clamped.
	end := len(data)
	if uint64(p.model.TotalSize) < uint64(end) {
		end = int(p.model.TotalSize)
	}

	for p.r.Pos() < end {
		if err := p.readBlock(0); err != nil {
			return nil, err
		}
	}

	return p.model, nil
}

// parser holds the state of one model walk. Leaf blocks write to the last object.
type parser struct {
	r     *binreader.Reader
	opts  ModelOptions
	model *Model
}

type blockHeader struct {
	offset int
	tag    Tag
	count  uint32
	size   uint32
	depth  int
}

// end returns the declared end offset of the block, saturating at math.MaxInt.
func (b *blockHeader) end() int {
	e := uint64(b.offset) + uint64(b.size)
	if e > math.MaxInt {
		return math.MaxInt
	}
	return int(e)
}

type blockHandler struct {
	name      string
	container bool
	read      func(p *parser, b *blockHeader) error
}

// blockHandlers is the tag dispatch table. Tags missing here are skipped by size.
var blockHandlers map[Tag]blockHandler

func init() {
	blockHandlers = map[Tag]blockHandler{
		TagHeader:        {"Header", true, (*parser).readHeader},
		TagMain:          {"Main", true, (*parser).readMain},
		TagObject:        {"Object", true, (*parser).readChildren},
		TagFace:          {"Face", true, (*parser).readChildren},
		TagStripsA:       {"StripsA", false, (*parser).readStripsA},
		TagStripsB:       {"StripsB", false, (*parser).readStripsB},
		TagMaterialRemap: {"MaterialRemap", false, (*parser).readMaterialRemap},
		TagMaterialIndex: {"MaterialIndex", false, (*parser).readMaterialIndex},
		TagVertices:      {"Vertices", false, (*parser).readVertices},
		TagNormals:       {"Normals", false, (*parser).readNormals},
		TagUVs:           {"UVs", false, (*parser).readUVs},
		TagColors:        {"Colors", false, (*parser).readColors},
		TagWeights:       {"Weights", false, (*parser).readWeights},
		TagRenderFlags:   {"RenderFlags", false, (*parser).readRenderFlags},
		TagMaterialData:  {"MaterialData", false, (*parser).readMaterials},
		TagTextureData:   {"TextureData", false, (*parser).readTextures},
	}
}

func (p *parser) readBlock(depth int) error {
	b := blockHeader{offset: p.r.Pos(), depth: depth}

	tag, err := p.r.U32()
	if err != nil {
		return fmt.Errorf("reading block tag at 0x%X: %w", b.offset, err)
	}
	b.tag = Tag(tag)
	if b.count, err = p.r.U32(); err != nil {
		return fmt.Errorf("reading %s count at 0x%X: %w", b.tag, b.offset, err)
	}
	if b.size, err = p.r.U32(); err != nil {
		return fmt.Errorf("reading %s size at 0x%X: %w", b.tag, b.offset, err)
	}

	p.model.Blocks = append(p.model.Blocks, BlockInfo{
		Offset: b.offset,
		Tag:    b.tag,
		Count:  b.count,
		Size:   b.size,
		Depth:  depth,
	})

	if depth > p.opts.MaxDepth {
		return fmt.Errorf("%w: %s at 0x%X nested deeper than %d", ErrMalformedTree, b.tag, b.offset, p.opts.MaxDepth)
	}

	h, ok := blockHandlers[b.tag]
	if !ok {
		if b.size < blockHeaderSize {
			return fmt.Errorf("%w: %s at 0x%X declares size %d", ErrMalformedTree, b.tag, b.offset, b.size)
		}
		if err := p.r.Seek(b.end()); err != nil {
			return fmt.Errorf("skipping %s at 0x%X: %w", b.tag, b.offset, err)
		}
		return nil
	}

	if err := h.read(p, &b); err != nil {
		if h.container {
			return err
		}
		return fmt.Errorf("%s block at 0x%X: %w", h.name, b.offset, err)
	}
	return nil
}

// current returns the most recently opened object.
func (p *parser) current(b *blockHeader) (*MeshObject, error) {
	if len(p.model.Objects) == 0 {
		return nil, fmt.Errorf("%w: %s block at 0x%X outside of any object", ErrMalformedTree, b.tag, b.offset)
	}
	return &p.model.Objects[len(p.model.Objects)-1], nil
}

// capacity bounds a slice preallocation by what the remaining data can hold.
func (p *parser) capacity(count uint32, recordSize int) int {
	limit := p.r.Remaining() / recordSize
	if uint64(count) < uint64(limit) {
		return int(count)
	}
	return limit
}

func (p *parser) readChildren(b *blockHeader) error {
	for i := uint32(0); i < b.count; i++ {
		if err := p.readBlock(b.depth + 1); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) readHeader(b *blockHeader) error {
	if _, err := p.r.U32(); err != nil {
		return fmt.Errorf("Header block at 0x%X: %w", b.offset, err)
	}
	return p.readChildren(b)
}

// readMain opens a new object before each child block.
func (p *parser) readMain(b *blockHeader) error {
	for i := uint32(0); i < b.count; i++ {
		p.model.Objects = append(p.model.Objects, MeshObject{})
		if err := p.readBlock(b.depth + 1); err != nil {
			return err
		}
	}
	return nil
}

// readStrips reads strip headers and indices up to the block's declared end.
// The count half is chosen by ModelOptions.StripCount.
func (p *parser) readStrips(b *blockHeader) ([][]uint32, error) {
	end := b.end()
	strips := make([][]uint32, 0, p.capacity(b.count, 4))

	for i := uint32(0); i < b.count && p.r.Pos() < end; i++ {
		first, err := p.r.U16()
		if err != nil {
			return nil, fmt.Errorf("strip %d header: %w", i, err)
		}
		second, err := p.r.U16()
		if err != nil {
			return nil, fmt.Errorf("strip %d header: %w", i, err)
		}
		n := first
		if p.opts.StripCount.second(p.r) {
			n = second
		}

		strip := make([]uint32, 0, p.capacity(uint32(n), 4))
		for j := uint16(0); j < n && p.r.Pos() < end; j++ {
			v, err := p.r.U32()
			if err != nil {
				return nil, fmt.Errorf("strip %d index %d: %w", i, j, err)
			}
			strip = append(strip, v)
		}
		strips = append(strips, strip)
	}
	return strips, nil
}

func (p *parser) readStripsA(b *blockHeader) error {
	obj, err := p.current(b)
	if err != nil {
		return err
	}
	obj.StripsA, err = p.readStrips(b)
	return err
}

func (p *parser) readStripsB(b *blockHeader) error {
	obj, err := p.current(b)
	if err != nil {
		return err
	}
	obj.StripsB, err = p.readStrips(b)
	return err
}

func (p *parser) readU32s(count uint32) ([]uint32, error) {
	values := make([]uint32, 0, p.capacity(count, 4))
	for i := uint32(0); i < count; i++ {
		v, err := p.r.U32()
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		values = append(values, v)
	}
	return values, nil
}

func (p *parser) readMaterialRemap(b *blockHeader) error {
	obj, err := p.current(b)
	if err != nil {
		return err
	}
	obj.MaterialRemap, err = p.readU32s(b.count)
	return err
}

func (p *parser) readMaterialIndex(b *blockHeader) error {
	obj, err := p.current(b)
	if err != nil {
		return err
	}
	obj.MaterialPerStrip, err = p.readU32s(b.count)
	return err
}

func (p *parser) readVec3s(count uint32) ([][3]float32, error) {
	values := make([][3]float32, 0, p.capacity(count, 12))
	for i := uint32(0); i < count; i++ {
		v, err := p.r.Vec3()
		if err != nil {
			return nil, fmt.Errorf("vector %d: %w", i, err)
		}
		values = append(values, v)
	}
	return values, nil
}

func (p *parser) readVertices(b *blockHeader) error {
	obj, err := p.current(b)
	if err != nil {
		return err
	}
	obj.Positions, err = p.readVec3s(b.count)
	return err
}

func (p *parser) readNormals(b *blockHeader) error {
	obj, err := p.current(b)
	if err != nil {
		return err
	}
	obj.Normals, err = p.readVec3s(b.count)
	return err
}

func (p *parser) readUVs(b *blockHeader) error {
	obj, err := p.current(b)
	if err != nil {
		return err
	}

	uvs := make([][2]float32, 0, p.capacity(b.count, 8))
	for i := uint32(0); i < b.count; i++ {
		uv, err := p.r.Vec2()
		if err != nil {
			return fmt.Errorf("uv %d: %w", i, err)
		}
		if p.opts.FlipV {
			uv[1] = -uv[1]
		}
		uvs = append(uvs, uv)
	}
	obj.UVs = uvs
	return nil
}

// readColors normalizes the stored 0-255 float channels to 0-1.
func (p *parser) readColors(b *blockHeader) error {
	obj, err := p.current(b)
	if err != nil {
		return err
	}

	colors := make([][4]float32, 0, p.capacity(b.count, 16))
	for i := uint32(0); i < b.count; i++ {
		c, err := p.r.Vec4()
		if err != nil {
			return fmt.Errorf("color %d: %w", i, err)
		}
		colors = append(colors, [4]float32{c[0] / 255, c[1] / 255, c[2] / 255, c[3] / 255})
	}
	obj.Colors = colors
	return nil
}

// readWeights normalizes the stored 0-100 weights to 0-1.
func (p *parser) readWeights(b *blockHeader) error {
	obj, err := p.current(b)
	if err != nil {
		return err
	}

	weights := make([][]BoneWeight, 0, p.capacity(b.count, 4))
	for i := uint32(0); i < b.count; i++ {
		n, err := p.r.U32()
		if err != nil {
			return fmt.Errorf("vertex %d pair count: %w", i, err)
		}
		pairs := make([]BoneWeight, 0, p.capacity(n, 8))
		for j := uint32(0); j < n; j++ {
			bone, err := p.r.U32()
			if err != nil {
				return fmt.Errorf("vertex %d bone %d: %w", i, j, err)
			}
			w, err := p.r.F32()
			if err != nil {
				return fmt.Errorf("vertex %d weight %d: %w", i, j, err)
			}
			pairs = append(pairs, BoneWeight{Bone: bone, Weight: w / 100})
		}
		weights = append(weights, pairs)
	}
	obj.Weights = weights
	return nil
}

func (p *parser) readRenderFlags(b *blockHeader) error {
	obj, err := p.current(b)
	if err != nil {
		return err
	}

	flags := &RenderFlags{}
	for i := range flags.Fields {
		if flags.Fields[i], err = p.r.U32(); err != nil {
			return fmt.Errorf("field %d: %w", i, err)
		}
	}

	// The layout is fixed; realign to the declared size when it is larger.
	if p.r.Pos() > b.end() {
		return fmt.Errorf("%w: declared size %d is smaller than %d fields", ErrMalformedTree, b.size, len(flags.Fields))
	}
	if err := p.r.Seek(b.end()); err != nil {
		return err
	}
	obj.RenderFlags = flags
	return nil
}

func (p *parser) readMaterials(b *blockHeader) error {
	for i := uint32(0); i < b.count; i++ {
		m, err := p.readMaterial()
		if err != nil {
			return fmt.Errorf("material %d: %w", i, err)
		}
		p.model.Materials = append(p.model.Materials, m)
	}
	return nil
}

func (p *parser) readMaterial() (Material, error) {
	var m Material
	rec, err := p.r.Sub(materialSize)
	if err != nil {
		return m, err
	}

	// The record length was checked above, so the reads below cannot fail.
	m.Unk1, _ = rec.U32()
	m.Unk2, _ = rec.U32()
	m.Unk3, _ = rec.U32()
	m.Emission, _ = rec.Vec4()
	m.RGBA1, _ = rec.Vec4()
	m.RGBA2, _ = rec.Vec4()
	m.Unk4, _ = rec.F32()
	m.Unk5, _ = rec.U32()
	reserved, _ := rec.Bytes(len(m.Reserved))
	copy(m.Reserved[:], reserved)
	m.TextureRef, _ = rec.U32()
	return m, nil
}

func (p *parser) readTextures(b *blockHeader) error {
	for i := uint32(0); i < b.count; i++ {
		t, err := p.readTextureRef()
		if err != nil {
			return fmt.Errorf("texture %d: %w", i, err)
		}
		p.model.Textures = append(p.model.Textures, t)
	}
	return nil
}

func (p *parser) readTextureRef() (TextureRef, error) {
	var t TextureRef
	rec, err := p.r.Sub(textureRefSize)
	if err != nil {
		return t, err
	}

	t.Kind, _ = rec.U32()
	t.Count, _ = rec.U32()
	t.DeclaredSize, _ = rec.U32()
	t.ImageID, _ = rec.U32()
	t.Width, _ = rec.U32()
	t.Height, _ = rec.U32()
	reserved, _ := rec.Bytes(len(t.Reserved))
	copy(t.Reserved[:], reserved)
	return t, nil
}
