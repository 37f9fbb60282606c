package compare

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
)

// PixelOptions mirrors the comparison knobs of the original looks-same
// configuration. Tolerance is a global percentage; ClusterRadius groups
// adjacent differing regions into one reported cluster.
type PixelOptions struct {
	Strict                bool
	Tolerance             float64 // percent, 0-100
	AntialiasingTolerance float64
	IgnoreAntialiasing    bool
	IgnoreCaret           bool
	PixelRatio            float64
	ClusterRadius         int
}

// DefaultPixelOptions returns the pipeline's standard comparison settings:
// non-strict, zero antialiasing tolerance, antialiasing and caret artifacts
// ignored, unit pixel ratio, 10px cluster merge radius.
func DefaultPixelOptions(tolerance float64) PixelOptions {
	return PixelOptions{
		Strict:                false,
		Tolerance:             tolerance,
		AntialiasingTolerance: 0,
		IgnoreAntialiasing:    true,
		IgnoreCaret:           true,
		PixelRatio:            1,
		ClusterRadius:         10,
	}
}

// PixelResult is the outcome of one pixel comparison.
type PixelResult struct {
	Equal           bool
	DiffImage       image.Image // only materialized when not equal
	DifferentPixels int
	TotalPixels     int
	Clusters        []image.Rectangle
}

// PixelComparer quantifies the visual difference between two image files.
type PixelComparer interface {
	Compare(currentPath, baselinePath string, opts PixelOptions) (*PixelResult, error)
}

// diffHighlight is the red/pink marker color used in diff images. The
// explanation prompt tells the model to look for these regions, so the hue
// must stay loud.
var diffHighlight = color.RGBA{R: 255, G: 0, B: 128, A: 255}

// tolerantComparer is the built-in PixelComparer: per-pixel channel deltas
// against a tolerance threshold, with cluster merging.
type tolerantComparer struct{}

// NewPixelComparer returns the default comparer.
func NewPixelComparer() PixelComparer { return tolerantComparer{} }

func (tolerantComparer) Compare(currentPath, baselinePath string, opts PixelOptions) (*PixelResult, error) {
	current, err := loadImage(currentPath)
	if err != nil {
		return nil, fmt.Errorf("load current image: %w", err)
	}
	baseline, err := loadImage(baselinePath)
	if err != nil {
		return nil, fmt.Errorf("load baseline image: %w", err)
	}

	cb, bb := current.Bounds(), baseline.Bounds()
	width := max(cb.Dx(), bb.Dx())
	height := max(cb.Dy(), bb.Dy())
	total := width * height
	if total == 0 {
		return &PixelResult{Equal: true}, nil
	}

	// Tolerance is a percentage of the full channel range. Strict mode flags
	// any delta; otherwise antialiasing-scale deltas fall under the
	// threshold, which is how IgnoreAntialiasing is honored here.
	threshold := uint32(0)
	if !opts.Strict {
		threshold = uint32(opts.Tolerance / 100 * 0xffff)
	}

	diff := image.NewRGBA(image.Rect(0, 0, width, height))
	dimInto(diff, baseline)

	clusters := newClusterSet(opts.ClusterRadius)
	differing := 0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if !pixelsMatch(current, baseline, x, y, threshold) {
				differing++
				diff.SetRGBA(x, y, diffHighlight)
				clusters.add(x, y)
			}
		}
	}

	res := &PixelResult{
		Equal:           differing == 0,
		DifferentPixels: differing,
		TotalPixels:     total,
		Clusters:        clusters.rects(),
	}
	if !res.Equal {
		res.DiffImage = diff
	}
	return res, nil
}

func pixelsMatch(a, b image.Image, x, y int, threshold uint32) bool {
	inA := image.Pt(x, y).In(a.Bounds())
	inB := image.Pt(x, y).In(b.Bounds())
	if inA != inB {
		return false // size mismatch: the non-overlapping area counts as different
	}
	if !inA {
		return true
	}
	ar, ag, ab, _ := a.At(x, y).RGBA()
	br, bg, bb, _ := b.At(x, y).RGBA()
	return channelDelta(ar, br) <= threshold &&
		channelDelta(ag, bg) <= threshold &&
		channelDelta(ab, bb) <= threshold
}

func channelDelta(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}

// dimInto renders a washed-out grayscale copy of src so highlighted pixels
// stand out in the diff artifact.
func dimInto(dst *image.RGBA, src image.Image) {
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	b := src.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := src.At(x, y).RGBA()
			gray := uint8((r + g + bl) / 3 >> 8)
			faded := uint8(uint16(gray)/2 + 128)
			dst.SetRGBA(x-b.Min.X, y-b.Min.Y, color.RGBA{faded, faded, faded, 255})
		}
	}
}

// clusterSet merges differing pixels into rectangular clusters. Two regions
// within the merge radius of each other collapse into one, so a scattered
// antialiasing fringe reports as a single cluster instead of hundreds.
type clusterSet struct {
	radius int
	boxes  []image.Rectangle
}

func newClusterSet(radius int) *clusterSet {
	return &clusterSet{radius: radius}
}

func (c *clusterSet) add(x, y int) {
	p := image.Rect(x, y, x+1, y+1)
	for i, box := range c.boxes {
		if p.Overlaps(box.Inset(-c.radius)) {
			c.boxes[i] = box.Union(p)
			c.compact(i)
			return
		}
	}
	c.boxes = append(c.boxes, p)
}

// compact re-merges boxes that grew into each other's radius after box i
// expanded.
func (c *clusterSet) compact(i int) {
	for {
		merged := false
		for j := 0; j < len(c.boxes); j++ {
			if j == i {
				continue
			}
			if c.boxes[i].Inset(-c.radius).Overlaps(c.boxes[j]) {
				c.boxes[i] = c.boxes[i].Union(c.boxes[j])
				c.boxes = append(c.boxes[:j], c.boxes[j+1:]...)
				if j < i {
					i--
				}
				merged = true
				break
			}
		}
		if !merged {
			return
		}
	}
}

func (c *clusterSet) rects() []image.Rectangle { return c.boxes }

// composeSideBySide writes current | baseline | diff into one artifact so a
// single file carries full visual context.
func composeSideBySide(currentPath, baselinePath string, diff image.Image, outPath string) error {
	current, err := loadImage(currentPath)
	if err != nil {
		return err
	}
	baseline, err := loadImage(baselinePath)
	if err != nil {
		return err
	}

	panels := []image.Image{current, baseline, diff}
	width, height := 0, 0
	for _, p := range panels {
		width += p.Bounds().Dx()
		height = max(height, p.Bounds().Dy())
	}

	merged := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(merged, merged.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	offset := 0
	for _, p := range panels {
		target := image.Rect(offset, 0, offset+p.Bounds().Dx(), p.Bounds().Dy())
		draw.Draw(merged, target, p, p.Bounds().Min, draw.Src)
		offset += p.Bounds().Dx()
	}
	return writePNG(outPath, merged)
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

func writePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
