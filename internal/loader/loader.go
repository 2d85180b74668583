// Package loader decodes a model archive and its textures into an asset.
package loader

import (
	"context"
	"encoding/binary"
	"fmt"
	"image"
	_ "image/png" // PNG decoder registration
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"go.uber.org/zap"
	_ "golang.org/x/image/bmp" // BMP decoder registration
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/amh-tools/internal/config"
	"github.com/Faultbox/amh-tools/pkg/archive"
	"github.com/Faultbox/amh-tools/pkg/formats"
	"github.com/Faultbox/amh-tools/pkg/geometry"
)

// Outer archive entries.
const (
	modelEntry    = 0
	skeletonEntry = 1
)

// Options controls how an asset is loaded.
type Options struct {
	Order        binary.ByteOrder
	Model        formats.ModelOptions
	Texture      formats.TextureOptions
	LoadTextures bool
	TexturePath  string // Derived from the model path when empty
	Workers      int    // NumCPU when zero
}

// OptionsFromConfig translates tool settings into loader options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Order:        cfg.ByteOrder(),
		Model:        cfg.ModelOptions(),
		Texture:      cfg.TextureOptions(),
		LoadTextures: cfg.Textures.Load,
		TexturePath:  cfg.Textures.Path,
		Workers:      cfg.Textures.Workers,
	}
}

// Failure records a decode unit that could not be loaded.
type Failure struct {
	Unit string
	Err  error
}

func (f Failure) Error() string {
	return f.Unit + ": " + f.Err.Error()
}

func (f Failure) Unwrap() error {
	return f.Err
}

// Asset is everything decoded from one model file.
type Asset struct {
	Path        string
	Archive     *archive.Index
	HasSkeleton bool

	Model  *formats.Model
	Meshes []*geometry.Mesh // Aligned with Model.Objects; nil where assembly failed

	TexturePath string
	Images      []formats.DecodedImage // Zero value where decoding failed

	Failures []Failure
}

// Loader loads assets with fixed options.
type Loader struct {
	opts Options
	log  *zap.Logger
}

// New creates a loader. A nil logger discards output.
func New(opts Options, log *zap.Logger) *Loader {
	if opts.Order == nil {
		opts.Order = binary.LittleEndian
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{opts: opts, log: log}
}

// Load decodes the model archive at path and, when enabled, its textures.
// Only a model failure is returned as an error; object and texture failures
// are collected in Asset.Failures.
func (l *Loader) Load(ctx context.Context, path string) (*Asset, error) {
	idx, err := archive.Open(path, l.opts.Order)
	if err != nil {
		return nil, fmt.Errorf("opening model archive %s: %w", path, err)
	}

	asset := &Asset{
		Path:        path,
		Archive:     idx,
		HasSkeleton: idx.Len() > skeletonEntry,
	}

	sub, err := idx.Subfile(modelEntry)
	if err != nil {
		return nil, fmt.Errorf("locating model in %s: %w", path, err)
	}
	asset.Model, err = formats.ParseModel(sub, l.opts.Order, l.opts.Model)
	if err != nil {
		return nil, fmt.Errorf("decoding model in %s: %w", path, err)
	}
	l.log.Debug("model decoded",
		zap.String("path", path),
		zap.Int("objects", len(asset.Model.Objects)),
		zap.Int("blocks", len(asset.Model.Blocks)))

	l.assemble(asset)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if l.opts.LoadTextures {
		if err := l.loadTextures(ctx, asset); err != nil {
			return nil, err
		}
	}

	l.log.Info("asset loaded",
		zap.String("path", path),
		zap.Int("meshes", len(asset.Meshes)),
		zap.Int("images", len(asset.Images)),
		zap.Int("failures", len(asset.Failures)))
	return asset, nil
}

func (l *Loader) assemble(asset *Asset) {
	asset.Meshes = make([]*geometry.Mesh, len(asset.Model.Objects))
	for i := range asset.Model.Objects {
		mesh, err := geometry.Assemble(&asset.Model.Objects[i])
		if err != nil {
			l.fail(asset, fmt.Sprintf("object %d", i), err)
			continue
		}
		asset.Meshes[i] = mesh
	}
}

func (l *Loader) fail(asset *Asset, unit string, err error) {
	l.log.Warn("decode unit failed", zap.String("unit", unit), zap.Error(err))
	asset.Failures = append(asset.Failures, Failure{Unit: unit, Err: err})
}

// TexturePath returns the texture archive next to a model: the explicit path
// when set, otherwise the model path with _amh replaced by _tex.
func TexturePath(modelPath, explicit string) string {
	if explicit != "" {
		return explicit
	}
	dir, base := filepath.Split(modelPath)
	if i := strings.LastIndex(base, "_amh"); i >= 0 {
		return dir + base[:i] + "_tex" + base[i+len("_amh"):]
	}
	return ""
}

func (l *Loader) loadTextures(ctx context.Context, asset *Asset) error {
	path := TexturePath(asset.Path, l.opts.TexturePath)
	if path == "" {
		l.log.Debug("no texture path for model", zap.String("path", asset.Path))
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		if l.opts.TexturePath == "" && os.IsNotExist(err) {
			l.log.Info("texture archive not found", zap.String("path", path))
			return nil
		}
		l.fail(asset, "textures", err)
		return nil
	}
	asset.TexturePath = path

	if info.IsDir() {
		return l.loadImageDir(ctx, asset, path)
	}
	return l.loadTextureArchive(ctx, asset, path)
}

func (l *Loader) loadTextureArchive(ctx context.Context, asset *Asset, path string) error {
	idx, err := archive.Open(path, l.opts.Order)
	if err != nil {
		l.fail(asset, "textures", err)
		return nil
	}

	images := make([]formats.DecodedImage, idx.Len())
	errs := make([]error, idx.Len())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.Workers)
	for i := range images {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sub, err := idx.Subfile(i)
			if err != nil {
				errs[i] = err
				return nil
			}
			img, err := formats.ParseTexture(sub, l.opts.Order, l.opts.Texture)
			if err != nil {
				errs[i] = err
				return nil
			}
			images[i] = *img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	asset.Images = images
	for i, err := range errs {
		if err != nil {
			l.fail(asset, fmt.Sprintf("image %d", i), err)
		}
	}
	l.log.Debug("texture archive decoded", zap.String("path", path), zap.Int("images", len(images)))
	return nil
}

// imageExts lists the standalone image files a texture directory may hold.
var imageExts = map[string]bool{".png": true, ".bmp": true}

// loadImageDir loads standalone images in file name order.
func (l *Loader) loadImageDir(ctx context.Context, asset *Asset, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		l.fail(asset, "textures", err)
		return nil
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	asset.Images = make([]formats.DecodedImage, len(names))
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		img, err := readImageFile(filepath.Join(dir, name))
		if err != nil {
			l.fail(asset, "image "+name, err)
			continue
		}
		asset.Images[i] = formats.ImageFromGo(img)
	}
	l.log.Debug("image directory loaded", zap.String("path", dir), zap.Int("images", len(names)))
	return nil
}

func readImageFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	return img, nil
}
