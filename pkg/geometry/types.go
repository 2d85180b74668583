// Package geometry turns decoded model objects into flat triangle meshes.
package geometry

import "errors"

// ErrAttributeIndexOutOfRange is returned when an index exceeds the attribute array it addresses.
var ErrAttributeIndexOutOfRange = errors.New("attribute index out of range")

// Triangle holds three vertex indices.
type Triangle [3]uint32

// Bounds holds the axis-aligned bounding box of a mesh.
type Bounds struct {
	Min [3]float32
	Max [3]float32
}

// VertexWeight is one vertex influenced by a bone.
type VertexWeight struct {
	Vertex uint32
	Weight float32
}

// BoneGroup lists every vertex weighted to one bone.
type BoneGroup struct {
	Bone     uint32
	Vertices []VertexWeight
}

// MaterialGroup is a run of triangles sharing one model material.
type MaterialGroup struct {
	Material  uint32
	Triangles []int // Indices into Mesh.Triangles
}

// Mesh is an assembled object ready for a scene builder.
// Per-face slices are aligned with Triangles; per-corner slices hold three entries per face.
type Mesh struct {
	Positions [][3]float32
	Normals   [][3]float32
	Triangles []Triangle

	FaceStrip          []int    // Strip index (A then B) each face came from
	FaceMaterial       []uint32 // Object-local material slot, nil without a material index buffer
	FaceGlobalMaterial []uint32 // Model material index, nil without a remap table

	CornerUVs    [][2]float32
	CornerColors [][4]float32

	BoneGroups     []BoneGroup
	MaterialGroups []MaterialGroup

	Bounds   Bounds
	Additive bool
}
