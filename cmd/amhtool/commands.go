package main

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/image/bmp"

	"github.com/Faultbox/amh-tools/internal/loader"
	"github.com/Faultbox/amh-tools/internal/logger"
	"github.com/Faultbox/amh-tools/pkg/formats"
	"github.com/Faultbox/amh-tools/pkg/geometry"
)

func printInfo(w io.Writer, asset *loader.Asset) {
	m := asset.Model

	fmt.Fprintf(w, "Archive:   %s\n", asset.Path)
	fmt.Fprintf(w, "Entries:   %d\n", asset.Archive.Len())
	for i, e := range asset.Archive.Entries {
		role := ""
		switch i {
		case 0:
			role = " (model)"
		case 1:
			role = " (skeleton, not decoded)"
		}
		fmt.Fprintf(w, "  [%d] offset 0x%08X size %d%s\n", i, e.Offset, e.Size, role)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Model:     magic 0x%08X version %d size %d\n", m.Magic, m.Version, m.TotalSize)
	fmt.Fprintf(w, "Blocks:    %d\n", len(m.Blocks))
	fmt.Fprintf(w, "Objects:   %d\n", len(m.Objects))
	fmt.Fprintf(w, "Materials: %d\n", len(m.Materials))
	fmt.Fprintf(w, "Textures:  %d\n", len(m.Textures))
	for i, t := range m.Textures {
		fmt.Fprintf(w, "  [%d] image %d, %dx%d\n", i, t.ImageID, t.Width, t.Height)
	}

	if asset.TexturePath != "" {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Images:    %d from %s\n", len(asset.Images), asset.TexturePath)
		for i, img := range asset.Images {
			if img.Pixels == nil {
				fmt.Fprintf(w, "  [%d] failed\n", i)
				continue
			}
			fmt.Fprintf(w, "  [%d] %dx%d\n", i, img.Width, img.Height)
		}
	}

	printFailures(w, asset.Failures)
}

func printFailures(w io.Writer, failures []loader.Failure) {
	if len(failures) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Failures:  %d\n", len(failures))
	for _, f := range failures {
		fmt.Fprintf(w, "  %s: %v\n", f.Unit, f.Err)
	}
}

// printTree prints one line per visited block, indented by nesting depth.
func printTree(w io.Writer, m *formats.Model) {
	fmt.Fprintln(w, "pos | tag | count | size")
	for _, b := range m.Blocks {
		fmt.Fprintf(w, "%s0x%X | %s | %d | %d\n", strings.Repeat("  ", b.Depth), b.Offset, b.Tag, b.Count, b.Size)
	}
}

func printMeshes(w io.Writer, asset *loader.Asset) {
	for i, mesh := range asset.Meshes {
		fmt.Fprintf(w, "Object %d:\n", i)
		if mesh == nil {
			fmt.Fprintln(w, "  not assembled")
			continue
		}

		fmt.Fprintf(w, "  Vertices:  %d\n", len(mesh.Positions))
		fmt.Fprintf(w, "  Triangles: %d\n", len(mesh.Triangles))
		fmt.Fprintf(w, "  Bounds:    min %v max %v radius %.3f\n", mesh.Bounds.Min, mesh.Bounds.Max, mesh.Bounds.Radius())
		if mesh.Additive {
			fmt.Fprintln(w, "  Blending:  additive")
		}

		for _, g := range mesh.MaterialGroups {
			fmt.Fprintf(w, "  Material %d: %d triangles%s\n", g.Material, len(g.Triangles), imageNote(asset, g))
		}
		for _, g := range mesh.BoneGroups {
			fmt.Fprintf(w, "  Bone %d: %d vertices\n", g.Bone, len(g.Vertices))
		}
	}

	printFailures(w, asset.Failures)
}

// imageNote names the image a material group draws with, when it resolves.
func imageNote(asset *loader.Asset, g geometry.MaterialGroup) string {
	if len(asset.Images) == 0 {
		return ""
	}
	img, err := geometry.ResolveImage(asset.Model, int(g.Material), len(asset.Images))
	if err != nil {
		return " (no image)"
	}
	return fmt.Sprintf(" (image %d)", img)
}

// exportTextures writes every decoded image to dir. Failed images are skipped.
func exportTextures(w io.Writer, asset *loader.Asset, dir, format string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(asset.Path), filepath.Ext(asset.Path))
	written := 0
	for i := range asset.Images {
		img := &asset.Images[i]
		if img.Pixels == nil {
			continue
		}

		path := filepath.Join(dir, fmt.Sprintf("%s_%03d.%s", base, i, format))
		if err := writeImage(path, img.ToNRGBA(), format); err != nil {
			logger.Log.Warn("texture export failed", zap.String("path", path), zap.Error(err))
			continue
		}
		logger.Sugar.Debugf("exported image %d (%dx%d) to %s", i, img.Width, img.Height, path)
		written++
	}

	fmt.Fprintf(w, "Exported %d of %d images to %s\n", written, len(asset.Images), dir)
	printFailures(w, asset.Failures)
	return nil
}

func writeImage(path string, img image.Image, format string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	switch format {
	case "bmp":
		err = bmp.Encode(f, img)
	default:
		err = png.Encode(f, img)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
