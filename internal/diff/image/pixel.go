package image

import (
	"image"
	"image/color"
	"image/draw"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// PixelDiff marks pixels that got brighter than the baseline by more than
// threshold in red and pixels that got darker in blue.
type PixelDiff struct {
	threshold float64
}

func NewPixelDiff(threshold float64) *PixelDiff {
	return &PixelDiff{
		threshold,
	}
}

var (
	added   = color.RGBA{R: 255, A: 255}
	removed = color.RGBA{B: 255, A: 255}
)

func (p *PixelDiff) Calculate(baseline image.Image, target image.Image) *DiffResult {
	if baseline == target {
		return &DiffResult{
			Image:      baseline,
			DiffAmount: 0.0,
		}
	}

	// Areas covered by only one of the images compare against white.
	bounds := baseline.Bounds().Union(target.Bounds())
	b := toRGBA(baseline, bounds)
	t := toRGBA(target, bounds)
	diff := image.NewRGBA(bounds)

	// Use GOMAXPROCS instead of runtime.NumCPU() to consider cgroup.
	bands := runtime.GOMAXPROCS(0)
	rows := max((bounds.Dy()+bands-1)/bands, 1)

	var changed atomic.Int64
	var eg errgroup.Group
	for y0 := bounds.Min.Y; y0 < bounds.Max.Y; y0 += rows {
		y1 := min(y0+rows, bounds.Max.Y)
		eg.Go(func() error {
			changed.Add(p.compareRows(b, t, diff, y0, y1))
			return nil
		})
	}
	_ = eg.Wait()

	amount := 0.0
	if total := bounds.Dx() * bounds.Dy(); total > 0 {
		amount = float64(changed.Load()) / float64(total)
	}

	return &DiffResult{
		Image:      diff,
		DiffAmount: amount,
	}
}

func (p *PixelDiff) compareRows(baseline *image.RGBA, target *image.RGBA, diff *image.RGBA, y0 int, y1 int) int64 {
	var changed int64
	r := diff.Bounds()
	for y := y0; y < y1; y++ {
		start := diff.PixOffset(r.Min.X, y)
		end := start + r.Dx()*4
		for i := start; i < end; i += 4 {
			bp := baseline.Pix[i : i+4 : i+4]
			tp := target.Pix[i : i+4 : i+4]
			c := color.RGBA{R: bp[0], G: bp[1], B: bp[2], A: bp[3]}
			if bp[0] != tp[0] || bp[1] != tp[1] || bp[2] != tp[2] || bp[3] != tp[3] {
				c = p.diffColor(bp, tp)
				if c == added || c == removed {
					changed++
				}
			}
			diff.Pix[i], diff.Pix[i+1], diff.Pix[i+2], diff.Pix[i+3] = c.R, c.G, c.B, c.A
		}
	}
	return changed
}

func (p *PixelDiff) diffColor(baseline []uint8, target []uint8) color.RGBA {
	b := int(baseline[0]) + int(baseline[1]) + int(baseline[2])
	t := int(target[0]) + int(target[1]) + int(target[2])
	d := float64(t-b) / (255.0 * 3.0)

	switch {
	case d > p.threshold:
		return added
	case d < -p.threshold:
		return removed
	default:
		return color.RGBA{R: baseline[0], G: baseline[1], B: baseline[2], A: baseline[3]}
	}
}

func toRGBA(img image.Image, bounds image.Rectangle) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect == bounds && rgba.Stride == 4*bounds.Dx() {
		return rgba
	}
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, img.Bounds(), img, img.Bounds().Min, draw.Src)
	return dst
}
