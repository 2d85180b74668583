// Package formats provides decoders for the _amh model and _tex texture formats.
//
// Both formats exist in a little-endian (PS2) and a big-endian (Wii) layout.
// The byte order is passed explicitly to every entry point.
package formats

import (
	"errors"

	"github.com/Faultbox/amh-tools/pkg/archive"
	"github.com/Faultbox/amh-tools/pkg/binreader"
)

// Decode errors shared by the model and texture decoders.
var (
	ErrUnexpectedEOF          = binreader.ErrUnexpectedEOF
	ErrMalformedTree          = archive.ErrMalformedTree
	ErrUnsupportedFormat      = errors.New("unsupported format")
	ErrPaletteIndexOutOfRange = errors.New("palette index out of range")
)
