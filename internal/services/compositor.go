package services

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/bobarin/beatframe/internal/models"
)

// Compositing constants
const (
	wobbleFrequency = 0.5  // rad/s of the bass-synced zoom wobble
	wobbleAmplitude = 0.02 // zoom added per unit of low at the wobble peak

	aberrationThreshold = 0.05  // high below this never shifts channels
	aberrationSpread    = 0.016 // fraction of width per unit of high

	brightnessPerLow  = 0.8
	vignetteLowRelief = 0.15
)

// FrameParams are the per-frame inputs to RenderFrame.
type FrameParams struct {
	FrameIndex int
	TimeSec    float64
	Low        float64
	Mid        float64
	High       float64
}

// CoverGeometry fills the canvas with the source image, preserving aspect
// ratio and cropping the excess.
type CoverGeometry struct {
	Scale   float64
	Width   float64 // scaled image width
	Height  float64 // scaled image height
	OffsetX float64 // negative when the image is cropped horizontally
	OffsetY float64
}

func coverFit(srcW, srcH, dstW, dstH int) CoverGeometry {
	scale := math.Max(float64(dstW)/float64(srcW), float64(dstH)/float64(srcH))
	w := float64(srcW) * scale
	h := float64(srcH) * scale
	return CoverGeometry{
		Scale:   scale,
		Width:   w,
		Height:  h,
		OffsetX: (float64(dstW) - w) / 2,
		OffsetY: (float64(dstH) - h) / 2,
	}
}

// ---------------------------------------------------------------------------
// Compositor renders one job's frames into a reused RGBA canvas
// ---------------------------------------------------------------------------

type Compositor struct {
	width  int
	height int

	src    *image.RGBA
	geom   CoverGeometry
	canvas *image.RGBA

	rowScratch []byte
	vignette   []float64 // distance from centre / max distance, per pixel
}

func NewCompositor(width, height int) *Compositor {
	c := &Compositor{
		width:      width,
		height:     height,
		canvas:     image.NewRGBA(image.Rect(0, 0, width, height)),
		rowScratch: make([]byte, width*4),
		vignette:   make([]float64, width*height),
	}

	cx, cy := float64(width)/2, float64(height)/2
	maxDist := math.Hypot(cx, cy)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c.vignette[y*width+x] = math.Hypot(float64(x)+0.5-cx, float64(y)+0.5-cy) / maxDist
		}
	}
	return c
}

// LoadImage decodes the job's image and caches its cover-fit geometry.
func (c *Compositor) LoadImage(data []byte) error {
	if mt := mimetype.Detect(data); !strings.HasPrefix(mt.String(), "image/") {
		return fmt.Errorf("unsupported image type %s", mt.String())
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to decode image: %w", err)
	}

	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return fmt.Errorf("image has no pixels")
	}

	src := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(src, src.Bounds(), img, b.Min, draw.Src)

	c.src = src
	c.geom = coverFit(b.Dx(), b.Dy(), c.width, c.height)
	return nil
}

// RenderFrame draws one frame and returns its raw RGBA bytes, row-major.
// The returned slice is reused by the next call.
func (c *Compositor) RenderFrame(p FrameParams, fx models.EffectConfig) []byte {
	// Clear to opaque black
	pix := c.canvas.Pix
	for i := 0; i < len(pix); i += 4 {
		pix[i] = 0
		pix[i+1] = 0
		pix[i+2] = 0
		pix[i+3] = 255
	}

	if c.src != nil {
		zoom := 1 + p.Low*fx.BreathingScale + math.Sin(p.TimeSec*wobbleFrequency)*p.Low*wobbleAmplitude
		xdraw.ApproxBiLinear.Scale(c.canvas, c.zoomedRect(zoom), c.src, c.src.Bounds(), xdraw.Src, nil)
	}

	if p.High > aberrationThreshold {
		if offset := AberrationOffset(p.High, c.width, fx.ChromaticAberration); offset > 0 {
			c.shiftChannels(offset)
		}
	}

	c.grade(p, fx)
	return pix
}

// zoomedRect scales the cover rectangle about the canvas centre.
func (c *Compositor) zoomedRect(zoom float64) image.Rectangle {
	cx, cy := float64(c.width)/2, float64(c.height)/2
	x0 := cx + (c.geom.OffsetX-cx)*zoom
	y0 := cy + (c.geom.OffsetY-cy)*zoom
	x1 := x0 + c.geom.Width*zoom
	y1 := y0 + c.geom.Height*zoom
	return image.Rect(
		int(math.Floor(x0)), int(math.Floor(y0)),
		int(math.Ceil(x1)), int(math.Ceil(y1)),
	)
}

// AberrationOffset is the horizontal red/blue channel shift in pixels.
func AberrationOffset(high float64, width int, intensity float64) int {
	return int(math.Round(high * aberrationSpread * float64(width) * intensity))
}

// shiftChannels samples red from offset pixels to the left and blue from
// offset pixels to the right, so red moves right and blue moves left.
func (c *Compositor) shiftChannels(offset int) {
	pix := c.canvas.Pix
	stride := c.canvas.Stride
	last := c.width - 1

	for y := 0; y < c.height; y++ {
		row := pix[y*stride : y*stride+c.width*4]
		copy(c.rowScratch, row)

		for x := 0; x < c.width; x++ {
			rx := x - offset
			if rx < 0 {
				rx = 0
			}
			bx := x + offset
			if bx > last {
				bx = last
			}
			row[x*4] = c.rowScratch[rx*4]
			row[x*4+2] = c.rowScratch[bx*4+2]
		}
	}
}

// grade applies brightness, film grain and vignette in one pass.
func (c *Compositor) grade(p FrameParams, fx models.EffectConfig) {
	brightness := 1 + p.Low*brightnessPerLow
	grain := fx.GrainAmount * 255
	strength := clamp(fx.VignetteStrength-p.Low*vignetteLowRelief, 0, 1)
	seed := uint32(int64(math.Floor(p.TimeSec * 1000)))

	pix := c.canvas.Pix
	for i, d := range c.vignette {
		o := i * 4

		var noise float64
		if grain > 0 {
			noise = (grainNoise(seed, uint32(i)) - 0.5) * grain
		}
		shade := 1 - d*strength

		for ch := 0; ch < 3; ch++ {
			v := math.Min(float64(pix[o+ch])*brightness, 255)
			v = clamp(v+noise, 0, 255) * shade
			pix[o+ch] = uint8(v + 0.5)
		}
	}
}

// grainNoise hashes (seed, pixel) to a reproducible value in [0, 1].
func grainNoise(seed, pixel uint32) float64 {
	x := seed*0x9e3779b9 + pixel
	x ^= x >> 16
	x *= 0x7feb352d
	x ^= x >> 15
	x *= 0x846ca68b
	x ^= x >> 16
	return float64(x) / math.MaxUint32
}
