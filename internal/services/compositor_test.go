package services

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobarin/beatframe/internal/models"
)

func solidPNG(t *testing.T, w, h int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func pixelAt(buf []byte, width, x, y int) (r, g, b, a uint8) {
	o := (y*width + x) * 4
	return buf[o], buf[o+1], buf[o+2], buf[o+3]
}

func TestCoverFit(t *testing.T) {
	// Wide source into a square canvas: crop left and right
	g := coverFit(200, 100, 100, 100)
	assert.Equal(t, 1.0, g.Scale)
	assert.Equal(t, 200.0, g.Width)
	assert.Equal(t, 100.0, g.Height)
	assert.Equal(t, -50.0, g.OffsetX)
	assert.Equal(t, 0.0, g.OffsetY)

	// Small tall source into a wide canvas: upscale, crop top and bottom
	g = coverFit(50, 100, 200, 100)
	assert.Equal(t, 4.0, g.Scale)
	assert.Equal(t, 200.0, g.Width)
	assert.Equal(t, 400.0, g.Height)
	assert.Equal(t, 0.0, g.OffsetX)
	assert.Equal(t, -150.0, g.OffsetY)
}

func TestCompositorLoadImage(t *testing.T) {
	c := NewCompositor(100, 100)
	require.NoError(t, c.LoadImage(solidPNG(t, 200, 100, color.RGBA{R: 10, G: 20, B: 30, A: 255})))
	assert.Equal(t, -50.0, c.geom.OffsetX)

	assert.Error(t, c.LoadImage([]byte("definitely not an image")))
}

func TestRenderFrameIsDeterministic(t *testing.T) {
	c := NewCompositor(120, 80)
	require.NoError(t, c.LoadImage(solidPNG(t, 64, 64, color.RGBA{R: 120, G: 90, B: 60, A: 255})))

	fx := models.DefaultEffectConfig()
	p := FrameParams{FrameIndex: 42, TimeSec: 1.4, Low: 0.7, Mid: 0.3, High: 0.9}

	first := bytes.Clone(c.RenderFrame(p, fx))
	c.RenderFrame(FrameParams{FrameIndex: 7, TimeSec: 0.23, Low: 0.1}, fx)
	second := c.RenderFrame(p, fx)

	assert.Len(t, first, 4*c.width*c.height)
	assert.True(t, bytes.Equal(first, second), "same frame must render byte-identical")

	other := c.RenderFrame(FrameParams{FrameIndex: 43, TimeSec: 1.433, Low: 0.7, Mid: 0.3, High: 0.9}, fx)
	assert.False(t, bytes.Equal(first, other), "grain seed must vary with time")
}

func TestRenderFrameVignetteDarkensCorners(t *testing.T) {
	c := NewCompositor(101, 101)
	require.NoError(t, c.LoadImage(solidPNG(t, 10, 10, color.RGBA{R: 200, G: 200, B: 200, A: 255})))

	fx := models.DefaultEffectConfig()
	fx.GrainAmount = 0
	buf := c.RenderFrame(FrameParams{}, fx)

	cr, cg, cb, ca := pixelAt(buf, 101, 50, 50)
	kr, _, _, ka := pixelAt(buf, 101, 0, 0)
	assert.Equal(t, uint8(255), ca)
	assert.Equal(t, uint8(255), ka)
	assert.Equal(t, cr, cg)
	assert.Equal(t, cg, cb)
	assert.Greater(t, cr, kr)
	assert.InDelta(t, 200, int(cr), 2)
}

func TestRenderFrameBrightnessClamps(t *testing.T) {
	c := NewCompositor(100, 100)
	require.NoError(t, c.LoadImage(solidPNG(t, 10, 10, color.RGBA{R: 250, G: 250, B: 250, A: 255})))

	fx := models.EffectConfig{}
	buf := c.RenderFrame(FrameParams{Low: 1}, fx)

	r, g, b, _ := pixelAt(buf, 100, 50, 50)
	assert.Equal(t, []uint8{255, 255, 255}, []uint8{r, g, b})
}

func TestRenderFrameWithoutImageIsBlack(t *testing.T) {
	c := NewCompositor(100, 100)
	fx := models.EffectConfig{}
	buf := c.RenderFrame(FrameParams{Low: 1, High: 1}, fx)
	for i := 0; i < len(buf); i += 4 {
		require.Equal(t, []byte{0, 0, 0, 255}, buf[i:i+4])
	}
}

func TestAberrationOffset(t *testing.T) {
	assert.Equal(t, 0, AberrationOffset(0.01, 1920, 1.0))
	assert.Equal(t, 31, AberrationOffset(1.0, 1920, 1.0))
	assert.Equal(t, 15, AberrationOffset(0.5, 1920, 1.0))
	assert.Equal(t, 0, AberrationOffset(1.0, 1920, 0))
}

func TestShiftChannels(t *testing.T) {
	c := NewCompositor(4, 1)
	copy(c.canvas.Pix, []byte{
		10, 0, 110, 255,
		20, 0, 120, 255,
		30, 0, 130, 255,
		40, 0, 140, 255,
	})

	c.shiftChannels(1)

	assert.Equal(t, []byte{
		10, 0, 120, 255,
		10, 0, 130, 255,
		20, 0, 140, 255,
		30, 0, 140, 255,
	}, c.canvas.Pix)
}

func TestGrainNoiseRange(t *testing.T) {
	for i := uint32(0); i < 1000; i++ {
		n := grainNoise(1234, i)
		require.GreaterOrEqual(t, n, 0.0)
		require.LessOrEqual(t, n, 1.0)
	}
	assert.Equal(t, grainNoise(5, 6), grainNoise(5, 6))
	assert.NotEqual(t, grainNoise(5, 6), grainNoise(6, 6))
}
