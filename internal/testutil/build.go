// Package testutil encodes synthetic _amh and _tex data for tests.
package testutil

import (
	"bytes"
	"encoding/binary"
)

// ModelMagic is the magic written by Model.
const ModelMagic = 0x004F4D41

// Values encodes each value in order with binary.Write.
func Values(order binary.ByteOrder, vs ...any) []byte {
	var buf bytes.Buffer
	for _, v := range vs {
		if err := binary.Write(&buf, order, v); err != nil {
			panic(err)
		}
	}
	return buf.Bytes()
}

// Block wraps payload in a (tag, count, size) header whose size covers
// header and payload.
func Block[T ~uint32](order binary.ByteOrder, tag T, count uint32, payload ...[]byte) []byte {
	body := bytes.Join(payload, nil)
	return append(Values(order, uint32(tag), count, uint32(12+len(body))), body...)
}

// Model prefixes blocks with magic, version 1 and the total size.
func Model(order binary.ByteOrder, blocks ...[]byte) []byte {
	body := bytes.Join(blocks, nil)
	return append(Values(order, uint32(ModelMagic), uint32(1), uint32(12+len(body))), body...)
}

// Archive builds an entry count, an (offset, size) table and the payloads.
func Archive(order binary.ByteOrder, payloads ...[]byte) []byte {
	var buf bytes.Buffer
	buf.Write(Values(order, uint32(len(payloads))))
	offset := uint32(4 + 8*len(payloads))
	for _, p := range payloads {
		buf.Write(Values(order, offset, uint32(len(p))))
		offset += uint32(len(p))
	}
	for _, p := range payloads {
		buf.Write(p)
	}
	return buf.Bytes()
}

// Image describes a paletted texture in the on-disk header layout.
type Image struct {
	BitDepth     uint16
	Width        uint16
	Height       uint16
	PaletteDepth uint16
	Indices      []byte // Raw pixel index bytes
	Palette      []byte // Raw palette bytes
}

// Encode writes the header, index data and palette.
func (img Image) Encode(order binary.ByteOrder) []byte {
	return Values(order,
		uint32(len(img.Indices)), uint32(len(img.Palette)),
		img.BitDepth, img.Width, img.Height, uint16(0), img.PaletteDepth, uint16(0),
		uint32(0), uint32(0),
		img.Indices, img.Palette,
	)
}

// Entry prefixes the encoded image with its u32 size, as stored in a _tex archive.
func (img Image) Entry(order binary.ByteOrder) []byte {
	body := img.Encode(order)
	return append(Values(order, uint32(len(body)+4)), body...)
}
