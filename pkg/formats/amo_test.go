package formats

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/Faultbox/amh-tools/internal/testutil"
	"github.com/Faultbox/amh-tools/pkg/binreader"
)

// amoBuilder encodes synthetic model blocks in one byte order.
type amoBuilder struct {
	order binary.ByteOrder
}

func (b amoBuilder) values(vs ...any) []byte {
	return testutil.Values(b.order, vs...)
}

func (b amoBuilder) block(tag Tag, count uint32, payload ...[]byte) []byte {
	return testutil.Block(b.order, tag, count, payload...)
}

// container builds a block whose count is the number of children.
func (b amoBuilder) container(tag Tag, children ...[]byte) []byte {
	return b.block(tag, uint32(len(children)), children...)
}

func (b amoBuilder) model(blocks ...[]byte) []byte {
	return testutil.Model(b.order, blocks...)
}

// strips encodes strip headers in the layout of the builder's byte order.
func (b amoBuilder) strips(tag Tag, strips ...[]uint32) []byte {
	var payload [][]byte
	for _, s := range strips {
		if b.order == binary.BigEndian {
			payload = append(payload, b.values(uint16(0xFFFF), uint16(len(s))))
		} else {
			payload = append(payload, b.values(uint16(len(s)), uint16(0xFFFF)))
		}
		payload = append(payload, b.values(s))
	}
	return b.block(tag, uint32(len(strips)), payload...)
}

func (b amoBuilder) material(texture uint32) []byte {
	return b.values(
		uint32(1), uint32(2), uint32(3),
		[4]float32{0.5, 0.5, 0.5, 1},
		[4]float32{1, 0, 0, 1},
		[4]float32{0, 1, 0, 1},
		float32(7.5), uint32(9),
		[200]byte{},
		texture,
	)
}

func (b amoBuilder) textureRef(imageID uint32) []byte {
	return b.values(uint32(1), uint32(1), uint32(0x400), imageID, uint32(64), uint32(32), [244]byte{})
}

// fullModel returns a model exercising every known tag.
func (b amoBuilder) fullModel() []byte {
	object := b.container(TagObject,
		b.block(TagVertices, 4, b.values([4][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {1, 1, 0}})),
		b.block(TagNormals, 4, b.values([4][3]float32{{0, 0, 1}, {0, 0, 1}, {0, 0, 1}, {0, 0, 1}})),
		b.block(TagUVs, 4, b.values([4][2]float32{{0, 0.25}, {1, 0.5}, {0, 1}, {1, 1}})),
		b.block(TagColors, 4, b.values([4][4]float32{{255, 0, 0, 255}, {0, 255, 0, 255}, {0, 0, 255, 255}, {51, 51, 51, 0}})),
		b.block(TagWeights, 2,
			b.values(uint32(1), uint32(3), float32(100)),
			b.values(uint32(2), uint32(3), float32(25), uint32(4), float32(75)),
		),
		b.block(TagRenderFlags, 18, b.values([18]uint32{12: 2, 17: 99})),
		b.container(TagFace,
			b.strips(TagStripsA, []uint32{0, 1, 2, 3}),
			b.strips(TagStripsB, []uint32{3, 2, 1}),
			b.block(TagMaterialRemap, 2, b.values([]uint32{1, 0})),
			b.block(TagMaterialIndex, 2, b.values([]uint32{0, 1})),
		),
	)

	header := b.block(TagHeader, 3,
		b.values(uint32(0)),
		b.container(TagMain, object),
		b.block(TagMaterialData, 2, b.material(0), b.material(1)),
		b.block(TagTextureData, 2, b.textureRef(5), b.textureRef(6)),
	)
	return b.model(header)
}

var byteOrders = []binary.ByteOrder{binary.LittleEndian, binary.BigEndian}

func TestParseModel_SingleTriangle(t *testing.T) {
	b := amoBuilder{binary.LittleEndian}
	data := b.model(b.container(TagMain,
		b.container(TagObject,
			b.block(TagVertices, 3, b.values([3][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}})),
			b.strips(TagStripsA, []uint32{0, 1, 2}),
		),
	))

	m, err := ParseModel(data, binary.LittleEndian, DefaultModelOptions())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(m.Objects) != 1 {
		t.Fatalf("expected 1 object, got %d", len(m.Objects))
	}

	obj := m.Objects[0]
	if len(obj.Positions) != 3 || obj.Positions[1] != [3]float32{1, 0, 0} {
		t.Errorf("unexpected positions: %v", obj.Positions)
	}
	if len(obj.StripsA) != 1 || len(obj.StripsA[0]) != 3 {
		t.Fatalf("unexpected strips: %v", obj.StripsA)
	}
	for i, want := range []uint32{0, 1, 2} {
		if obj.StripsA[0][i] != want {
			t.Errorf("strip[%d] = %d, want %d", i, obj.StripsA[0][i], want)
		}
	}
	if obj.StripsB != nil || obj.Normals != nil || obj.RenderFlags != nil {
		t.Error("absent blocks should leave fields nil")
	}
}

func TestParseModel_AllTags(t *testing.T) {
	for _, order := range byteOrders {
		t.Run(order.String(), func(t *testing.T) {
			b := amoBuilder{order}
			m, err := ParseModel(b.fullModel(), order, DefaultModelOptions())
			if err != nil {
				t.Fatalf("parse: %v", err)
			}

			if len(m.Objects) != 1 {
				t.Fatalf("expected 1 object, got %d", len(m.Objects))
			}
			obj := m.Objects[0]

			if len(obj.Positions) != 4 || len(obj.Normals) != 4 || len(obj.UVs) != 4 {
				t.Errorf("attribute counts: pos=%d nrm=%d uv=%d", len(obj.Positions), len(obj.Normals), len(obj.UVs))
			}
			if obj.UVs[0] != [2]float32{0, 0.25} {
				t.Errorf("uv[0] = %v, V should not be flipped by default", obj.UVs[0])
			}
			if obj.Colors[0] != [4]float32{1, 0, 0, 1} || obj.Colors[3] != [4]float32{0.2, 0.2, 0.2, 0} {
				t.Errorf("colors not normalized: %v", obj.Colors)
			}

			if len(obj.Weights) != 2 || len(obj.Weights[1]) != 2 {
				t.Fatalf("unexpected weights: %v", obj.Weights)
			}
			if obj.Weights[1][1] != (BoneWeight{Bone: 4, Weight: 0.75}) {
				t.Errorf("weight = %+v", obj.Weights[1][1])
			}

			if len(obj.StripsA) != 1 || len(obj.StripsA[0]) != 4 {
				t.Errorf("strips A: %v", obj.StripsA)
			}
			if len(obj.StripsB) != 1 || obj.StripsB[0][0] != 3 {
				t.Errorf("strips B: %v", obj.StripsB)
			}
			if len(obj.Strips()) != 2 {
				t.Errorf("Strips() should join both groups, got %d", len(obj.Strips()))
			}
			if obj.MaterialRemap[0] != 1 || obj.MaterialPerStrip[1] != 1 {
				t.Errorf("remap=%v per-strip=%v", obj.MaterialRemap, obj.MaterialPerStrip)
			}

			if obj.RenderFlags == nil || !obj.RenderFlags.Additive() || obj.RenderFlags.Fields[17] != 99 {
				t.Errorf("render flags: %+v", obj.RenderFlags)
			}

			if len(m.Materials) != 2 || m.Materials[1].TextureRef != 1 || m.Materials[0].Unk4 != 7.5 {
				t.Errorf("materials: %+v", m.Materials)
			}
			if m.Materials[0].RGBA1 != [4]float32{1, 0, 0, 1} || m.Materials[0].Unk5 != 9 {
				t.Errorf("material fields out of place: %+v", m.Materials[0])
			}
			if len(m.Textures) != 2 || m.Textures[1].ImageID != 6 || m.Textures[0].Width != 64 {
				t.Errorf("textures: %+v", m.Textures)
			}
			if m.Version != 1 {
				t.Errorf("version = %d", m.Version)
			}
		})
	}
}

func TestParseModel_EndianAgreement(t *testing.T) {
	le, err := ParseModel(amoBuilder{binary.LittleEndian}.fullModel(), binary.LittleEndian, DefaultModelOptions())
	if err != nil {
		t.Fatal(err)
	}
	be, err := ParseModel(amoBuilder{binary.BigEndian}.fullModel(), binary.BigEndian, DefaultModelOptions())
	if err != nil {
		t.Fatal(err)
	}

	a, b := le.Objects[0], be.Objects[0]
	for i := range a.StripsA[0] {
		if a.StripsA[0][i] != b.StripsA[0][i] {
			t.Errorf("strip index %d differs: %d vs %d", i, a.StripsA[0][i], b.StripsA[0][i])
		}
	}
	for i := range a.Positions {
		if a.Positions[i] != b.Positions[i] {
			t.Errorf("position %d differs: %v vs %v", i, a.Positions[i], b.Positions[i])
		}
	}
	if len(le.Blocks) != len(be.Blocks) {
		t.Errorf("block traces differ: %d vs %d", len(le.Blocks), len(be.Blocks))
	}
}

func TestParseModel_FlipV(t *testing.T) {
	b := amoBuilder{binary.LittleEndian}
	data := b.model(b.container(TagMain,
		b.block(TagUVs, 1, b.values([2]float32{0.5, 0.25})),
	))

	opts := DefaultModelOptions()
	opts.FlipV = true
	m, err := ParseModel(data, binary.LittleEndian, opts)
	if err != nil {
		t.Fatal(err)
	}
	if got := m.Objects[0].UVs[0]; got != [2]float32{0.5, -0.25} {
		t.Errorf("uv = %v, want [0.5 -0.25]", got)
	}
}

func TestParseModel_WeightNormalization(t *testing.T) {
	b := amoBuilder{binary.LittleEndian}
	data := b.model(b.container(TagMain,
		b.block(TagWeights, 1, b.values(uint32(2), uint32(0), float32(100), uint32(1), float32(0))),
	))

	m, err := ParseModel(data, binary.LittleEndian, DefaultModelOptions())
	if err != nil {
		t.Fatal(err)
	}
	w := m.Objects[0].Weights[0]
	if w[0].Weight != 1.0 {
		t.Errorf("weight 100 decoded to %v, want 1", w[0].Weight)
	}
	if w[1].Weight != 0.0 {
		t.Errorf("weight 0 decoded to %v, want 0", w[1].Weight)
	}
}

func TestParseModel_MainOpensObjectPerChild(t *testing.T) {
	b := amoBuilder{binary.LittleEndian}
	data := b.model(b.container(TagMain,
		b.container(TagObject, b.block(TagVertices, 1, b.values([3]float32{1, 1, 1}))),
		b.container(TagObject, b.block(TagVertices, 1, b.values([3]float32{2, 2, 2}))),
		b.container(TagObject),
	))

	m, err := ParseModel(data, binary.LittleEndian, DefaultModelOptions())
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Objects) != 3 {
		t.Fatalf("expected 3 objects, got %d", len(m.Objects))
	}
	if m.Objects[1].Positions[0] != [3]float32{2, 2, 2} {
		t.Errorf("second object got %v", m.Objects[1].Positions)
	}
	if m.Objects[2].Positions != nil {
		t.Error("empty object should have no positions")
	}
}

func TestReadBlock_UnknownTagSkip(t *testing.T) {
	for _, order := range byteOrders {
		t.Run(order.String(), func(t *testing.T) {
			b := amoBuilder{order}
			// Payload looks like a block header to make sure it is not interpreted.
			junk := b.values(uint32(TagMain), uint32(5), uint32(12), uint32(0xCAFEBABE), uint8(1), uint8(2))
			data := append([]byte{0xEE, 0xEE, 0xEE, 0xEE}, b.block(Tag(0x00990000), 3, junk)...)

			p := &parser{r: binreader.New(data, order), opts: DefaultModelOptions(), model: &Model{}}
			if err := p.r.Seek(4); err != nil {
				t.Fatal(err)
			}
			if err := p.readBlock(0); err != nil {
				t.Fatalf("unknown block should be skipped: %v", err)
			}

			want := 4 + blockHeaderSize + len(junk)
			if p.r.Pos() != want {
				t.Errorf("cursor at %d, want %d", p.r.Pos(), want)
			}
			if len(p.model.Blocks) != 1 || p.model.Blocks[0].Tag.Known() {
				t.Errorf("block trace: %+v", p.model.Blocks)
			}
		})
	}
}

func TestParseModel_UnknownTagKeepsAlignment(t *testing.T) {
	b := amoBuilder{binary.LittleEndian}
	data := b.model(
		b.block(Tag(0x12345678), 0, make([]byte, 37)),
		b.block(TagMaterialData, 1, b.material(3)),
	)

	m, err := ParseModel(data, binary.LittleEndian, DefaultModelOptions())
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Materials) != 1 || m.Materials[0].TextureRef != 3 {
		t.Errorf("block after unknown tag misread: %+v", m.Materials)
	}
	if m.Blocks[0].Tag.String() != "Unknown(0x12345678)" {
		t.Errorf("tag name = %s", m.Blocks[0].Tag)
	}
}

func TestParseModel_Errors(t *testing.T) {
	b := amoBuilder{binary.LittleEndian}
	full := b.fullModel()

	// Prefix claims a large size but a block needs more bytes than remain.
	truncated := b.model(b.container(TagMain, b.block(TagVertices, 3, b.values([3]float32{1, 2, 3}))))

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrUnexpectedEOF},
		{"short prefix", full[:8], ErrUnexpectedEOF},
		{"truncated vertices", truncated, ErrUnexpectedEOF},
		{"cut mid tree", full[:len(full)-100], ErrUnexpectedEOF},
		{"leaf before object", b.model(b.block(TagVertices, 1, b.values([3]float32{}))), ErrMalformedTree},
		{"strips before object", b.model(b.strips(TagStripsA, []uint32{0, 1, 2})), ErrMalformedTree},
		{"render flags before object", b.model(b.block(TagRenderFlags, 18, b.values([18]uint32{}))), ErrMalformedTree},
		{"unknown with short size", b.model(b.values(uint32(0x7777), uint32(0), uint32(4))), ErrMalformedTree},
		{"unknown past end", b.model(b.values(uint32(0x7777), uint32(0), uint32(400))), ErrUnexpectedEOF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ParseModel(tt.data, binary.LittleEndian, DefaultModelOptions())
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if m != nil {
				t.Error("no partial model should be returned")
			}
		})
	}
}

func TestParseModel_MaxDepth(t *testing.T) {
	b := amoBuilder{binary.LittleEndian}
	nested := b.container(TagObject)
	for i := 0; i < 10; i++ {
		nested = b.container(TagObject, nested)
	}

	opts := DefaultModelOptions()
	opts.MaxDepth = 5
	if _, err := ParseModel(b.model(nested), binary.LittleEndian, opts); !errors.Is(err, ErrMalformedTree) {
		t.Errorf("expected ErrMalformedTree, got %v", err)
	}

	opts.MaxDepth = 20
	if _, err := ParseModel(b.model(nested), binary.LittleEndian, opts); err != nil {
		t.Errorf("depth within limit: %v", err)
	}
}

func TestParseModel_StripGuard(t *testing.T) {
	b := amoBuilder{binary.LittleEndian}

	// Declares two strips but the block only has room for the first.
	payload := b.values(uint16(3), uint16(0), []uint32{0, 1, 2})
	short := b.block(TagStripsA, 2, payload)
	data := b.model(b.container(TagMain, short))

	m, err := ParseModel(data, binary.LittleEndian, DefaultModelOptions())
	if err != nil {
		t.Fatal(err)
	}
	if got := m.Objects[0].StripsA; len(got) != 1 || len(got[0]) != 3 {
		t.Errorf("strips = %v, want one strip of 3", got)
	}
}

func TestParseModel_StripGuardTrailingShortStrip(t *testing.T) {
	b := amoBuilder{binary.LittleEndian}

	// The second strip header claims 4 indices but the block ends after 1.
	payload := b.values(uint16(3), uint16(0), []uint32{0, 1, 2}, uint16(4), uint16(0), uint32(7))
	tail := b.block(TagMaterialData, 1, b.material(2))
	data := b.model(b.container(TagMain, b.block(TagStripsB, 2, payload)), tail)

	m, err := ParseModel(data, binary.LittleEndian, DefaultModelOptions())
	if err != nil {
		t.Fatal(err)
	}
	strips := m.Objects[0].StripsB
	if len(strips) != 2 || len(strips[1]) != 1 || strips[1][0] != 7 {
		t.Errorf("strips = %v", strips)
	}
	if len(m.Materials) != 1 || m.Materials[0].TextureRef != 2 {
		t.Error("block following the strips was misaligned")
	}
}

func TestParseModel_StopsAtTotalSize(t *testing.T) {
	b := amoBuilder{binary.LittleEndian}
	data := b.model(b.block(TagTextureData, 1, b.textureRef(1)))
	data = append(data, 0xFF, 0xFF, 0xFF) // trailing bytes beyond the declared size

	m, err := ParseModel(data, binary.LittleEndian, DefaultModelOptions())
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Textures) != 1 || m.TotalSize != uint32(len(data)-3) {
		t.Errorf("textures=%d total=%d", len(m.Textures), m.TotalSize)
	}
}

func TestParseModelArchive(t *testing.T) {
	b := amoBuilder{binary.BigEndian}
	model := b.fullModel()
	skeleton := []byte("skeleton")

	data := testutil.Archive(binary.BigEndian, model, skeleton)

	m, err := ParseModelArchive(data, binary.BigEndian, DefaultModelOptions())
	if err != nil {
		t.Fatalf("parse archive: %v", err)
	}
	if len(m.Objects) != 1 || len(m.Materials) != 2 {
		t.Errorf("objects=%d materials=%d", len(m.Objects), len(m.Materials))
	}
}

func TestTagString(t *testing.T) {
	tests := []struct {
		tag  Tag
		want string
	}{
		{TagMain, "Main"},
		{TagStripsB, "StripsB"},
		{TagRenderFlags, "RenderFlags"},
		{Tag(0x1), "Unknown(0x1)"},
	}
	for _, tt := range tests {
		if got := tt.tag.String(); got != tt.want {
			t.Errorf("Tag(0x%X).String() = %q, want %q", uint32(tt.tag), got, tt.want)
		}
	}
}

func TestParseModel_StripCountField(t *testing.T) {
	tests := []struct {
		name  string
		order binary.ByteOrder
		field StripCountField
		first uint16
		sec   uint16
	}{
		{"auto little", binary.LittleEndian, StripCountAuto, 3, 0xFFFF},
		{"auto big", binary.BigEndian, StripCountAuto, 0xFFFF, 3},
		{"second little", binary.LittleEndian, StripCountSecond, 1, 3},
		{"first big", binary.BigEndian, StripCountFirst, 3, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := amoBuilder{tt.order}
			strips := b.block(TagStripsA, 1, b.values(tt.first, tt.sec, []uint32{0, 1, 2}))
			data := b.model(b.container(TagMain, strips), b.block(TagMaterialData, 1, b.material(4)))

			opts := DefaultModelOptions()
			opts.StripCount = tt.field
			m, err := ParseModel(data, tt.order, opts)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if got := m.Objects[0].StripsA; len(got) != 1 || len(got[0]) != 3 || got[0][2] != 2 {
				t.Errorf("strips = %v, want [[0 1 2]]", got)
			}
			if len(m.Materials) != 1 || m.Materials[0].TextureRef != 4 {
				t.Error("block following the strips was misaligned")
			}
		})
	}
}

func TestStripCountFieldString(t *testing.T) {
	for f, want := range map[StripCountField]string{
		StripCountAuto:     "auto",
		StripCountFirst:    "first",
		StripCountSecond:   "second",
		StripCountField(9): "StripCountField(9)",
	} {
		if got := f.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}

func TestParseModel_RenderFlagsRealign(t *testing.T) {
	b := amoBuilder{binary.LittleEndian}
	flags := b.block(TagRenderFlags, 18, b.values([18]uint32{12: 2}), []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x11, 0x22})
	data := b.model(
		b.container(TagMain, b.container(TagObject, flags)),
		b.block(TagMaterialData, 1, b.material(8)),
	)

	m, err := ParseModel(data, binary.LittleEndian, DefaultModelOptions())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rf := m.Objects[0].RenderFlags; rf == nil || rf.Fields[12] != 2 {
		t.Errorf("render flags = %+v", rf)
	}
	if len(m.Materials) != 1 || m.Materials[0].TextureRef != 8 {
		t.Error("block following oversized render flags was misaligned")
	}
}

func TestParseModel_SizeErrors(t *testing.T) {
	b := amoBuilder{binary.LittleEndian}
	shortFlags := b.values(uint32(TagRenderFlags), uint32(18), uint32(blockHeaderSize+40), [18]uint32{})

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"render flags smaller than fields", b.model(b.container(TagMain, b.container(TagObject, shortFlags))), ErrMalformedTree},
		{"unknown past end", b.model(b.values(uint32(0x7777), uint32(0), uint32(0xFFFFFFF0))), ErrUnexpectedEOF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseModel(tt.data, binary.LittleEndian, DefaultModelOptions()); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}
