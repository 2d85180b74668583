package geometry

import (
	"fmt"
	"sort"

	"github.com/chewxy/math32"

	"github.com/Faultbox/amh-tools/pkg/formats"
)

// Assemble builds a mesh from a decoded object.
// Every index is checked against the array it addresses; the first violation
// is returned as ErrAttributeIndexOutOfRange.
func Assemble(obj *formats.MeshObject) (*Mesh, error) {
	mesh := &Mesh{
		Positions: obj.Positions,
		Normals:   obj.Normals,
		Additive:  obj.RenderFlags != nil && obj.RenderFlags.Additive(),
	}

	for si, strip := range obj.Strips() {
		before := len(mesh.Triangles)
		mesh.Triangles = appendStrip(mesh.Triangles, strip)
		for range mesh.Triangles[before:] {
			mesh.FaceStrip = append(mesh.FaceStrip, si)
		}
	}

	if err := checkVertices(mesh, obj); err != nil {
		return nil, err
	}
	if err := assignMaterials(mesh, obj); err != nil {
		return nil, err
	}

	var err error
	if obj.UVs != nil {
		if mesh.CornerUVs, err = gatherCorners(mesh.Triangles, obj.UVs, "uv"); err != nil {
			return nil, err
		}
	}
	if obj.Colors != nil {
		if mesh.CornerColors, err = gatherCorners(mesh.Triangles, obj.Colors, "color"); err != nil {
			return nil, err
		}
	}
	if mesh.BoneGroups, err = boneGroups(obj); err != nil {
		return nil, err
	}

	mesh.Bounds = computeBounds(obj.Positions)
	return mesh, nil
}

func checkVertices(mesh *Mesh, obj *formats.MeshObject) error {
	for f, tri := range mesh.Triangles {
		for _, v := range tri {
			if int(v) >= len(obj.Positions) {
				return fmt.Errorf("%w: triangle %d uses vertex %d, %d positions",
					ErrAttributeIndexOutOfRange, f, v, len(obj.Positions))
			}
			if obj.Normals != nil && int(v) >= len(obj.Normals) {
				return fmt.Errorf("%w: triangle %d uses vertex %d, %d normals",
					ErrAttributeIndexOutOfRange, f, v, len(obj.Normals))
			}
		}
	}
	return nil
}

// assignMaterials resolves strip -> local slot -> model material for every face.
func assignMaterials(mesh *Mesh, obj *formats.MeshObject) error {
	if obj.MaterialPerStrip == nil {
		return nil
	}

	mesh.FaceMaterial = make([]uint32, len(mesh.Triangles))
	if obj.MaterialRemap != nil {
		mesh.FaceGlobalMaterial = make([]uint32, len(mesh.Triangles))
	}

	for f, si := range mesh.FaceStrip {
		if si >= len(obj.MaterialPerStrip) {
			return fmt.Errorf("%w: strip %d has no material entry, %d entries",
				ErrAttributeIndexOutOfRange, si, len(obj.MaterialPerStrip))
		}
		local := obj.MaterialPerStrip[si]
		mesh.FaceMaterial[f] = local

		if obj.MaterialRemap == nil {
			continue
		}
		if int(local) >= len(obj.MaterialRemap) {
			return fmt.Errorf("%w: material slot %d, remap table has %d entries",
				ErrAttributeIndexOutOfRange, local, len(obj.MaterialRemap))
		}
		mesh.FaceGlobalMaterial[f] = obj.MaterialRemap[local]
	}

	mesh.MaterialGroups = materialGroups(mesh)
	return nil
}

// materialGroups groups faces by model material, falling back to the local slot.
func materialGroups(mesh *Mesh) []MaterialGroup {
	faceMat := mesh.FaceGlobalMaterial
	if faceMat == nil {
		faceMat = mesh.FaceMaterial
	}

	byMat := make(map[uint32][]int)
	for f, m := range faceMat {
		byMat[m] = append(byMat[m], f)
	}

	groups := make([]MaterialGroup, 0, len(byMat))
	for m, faces := range byMat {
		groups = append(groups, MaterialGroup{Material: m, Triangles: faces})
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Material < groups[j].Material
	})
	return groups
}

func gatherCorners[T any](tris []Triangle, attr []T, name string) ([]T, error) {
	out := make([]T, 0, len(tris)*3)
	for f, tri := range tris {
		for _, v := range tri {
			if int(v) >= len(attr) {
				return nil, fmt.Errorf("%w: triangle %d uses vertex %d, %d %ss",
					ErrAttributeIndexOutOfRange, f, v, len(attr), name)
			}
			out = append(out, attr[v])
		}
	}
	return out, nil
}

// boneGroups inverts per-vertex weights into per-bone vertex lists, ordered by bone.
func boneGroups(obj *formats.MeshObject) ([]BoneGroup, error) {
	if len(obj.Weights) == 0 {
		return nil, nil
	}
	if len(obj.Weights) > len(obj.Positions) {
		return nil, fmt.Errorf("%w: %d weighted vertices, %d positions",
			ErrAttributeIndexOutOfRange, len(obj.Weights), len(obj.Positions))
	}

	byBone := make(map[uint32][]VertexWeight)
	for v, pairs := range obj.Weights {
		for _, p := range pairs {
			byBone[p.Bone] = append(byBone[p.Bone], VertexWeight{Vertex: uint32(v), Weight: p.Weight})
		}
	}

	groups := make([]BoneGroup, 0, len(byBone))
	for bone, verts := range byBone {
		groups = append(groups, BoneGroup{Bone: bone, Vertices: verts})
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Bone < groups[j].Bone
	})
	return groups, nil
}

func computeBounds(positions [][3]float32) Bounds {
	if len(positions) == 0 {
		return Bounds{}
	}

	b := Bounds{Min: positions[0], Max: positions[0]}
	for _, p := range positions[1:] {
		for i := 0; i < 3; i++ {
			b.Min[i] = math32.Min(b.Min[i], p[i])
			b.Max[i] = math32.Max(b.Max[i], p[i])
		}
	}
	return b
}

// Size returns the extent of the box on each axis.
func (b Bounds) Size() [3]float32 {
	return [3]float32{b.Max[0] - b.Min[0], b.Max[1] - b.Min[1], b.Max[2] - b.Min[2]}
}

// Radius returns half the diagonal of the box.
func (b Bounds) Radius() float32 {
	s := b.Size()
	return math32.Sqrt(s[0]*s[0]+s[1]*s[1]+s[2]*s[2]) / 2
}

// ResolveImage follows material -> texture reference -> image position.
func ResolveImage(m *formats.Model, material int, imageCount int) (int, error) {
	if material < 0 || material >= len(m.Materials) {
		return 0, fmt.Errorf("%w: material %d, %d materials", ErrAttributeIndexOutOfRange, material, len(m.Materials))
	}
	ref := m.Materials[material].TextureRef
	if int(ref) >= len(m.Textures) {
		return 0, fmt.Errorf("%w: material %d references texture %d, %d textures",
			ErrAttributeIndexOutOfRange, material, ref, len(m.Textures))
	}
	id := m.Textures[ref].ImageID
	if int(id) >= imageCount {
		return 0, fmt.Errorf("%w: texture %d references image %d, %d images",
			ErrAttributeIndexOutOfRange, ref, id, imageCount)
	}
	return int(id), nil
}
