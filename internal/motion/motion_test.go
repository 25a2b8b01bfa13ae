package motion

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

var white = color.RGBA{255, 255, 255, 0}

func blankFrame(rows, cols int) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), rows, cols, gocv.MatTypeCV8UC3)
}

func frameWithBox(rows, cols int, box image.Rectangle) gocv.Mat {
	m := blankFrame(rows, cols)
	gocv.Rectangle(&m, box, white, -1)
	return m
}

func TestDetector_FirstFrameNeverMoves(t *testing.T) {
	d := NewDetector(nil)
	defer d.Close()

	f := frameWithBox(200, 200, image.Rect(50, 50, 150, 150))
	defer f.Close()

	res, err := d.Detect(f, 1)
	require.NoError(t, err)
	assert.False(t, res.Motion)
}

func TestDetector_IdenticalFrames(t *testing.T) {
	d := NewDetector(nil)
	defer d.Close()

	f := frameWithBox(200, 200, image.Rect(50, 50, 150, 150))
	defer f.Close()

	for i := 0; i < 5; i++ {
		res, err := d.Detect(f, 1)
		require.NoError(t, err)
		assert.False(t, res.Motion, "iteration %d", i)
	}
}

func TestDetector_AreaThreshold(t *testing.T) {
	base := blankFrame(200, 200)
	defer base.Close()
	big := frameWithBox(200, 200, image.Rect(80, 80, 120, 120))
	defer big.Close()
	small := frameWithBox(200, 200, image.Rect(97, 97, 103, 103))
	defer small.Close()

	t.Run("large region moves", func(t *testing.T) {
		d := NewDetector(nil)
		defer d.Close()
		_, err := d.Detect(base, 500)
		require.NoError(t, err)
		res, err := d.Detect(big, 500)
		require.NoError(t, err)
		assert.True(t, res.Motion)
		assert.Greater(t, res.Area, 500.0)
		assert.NotEmpty(t, res.Contour)
	})

	t.Run("small region is ignored", func(t *testing.T) {
		d := NewDetector(nil)
		defer d.Close()
		_, err := d.Detect(base, 500)
		require.NoError(t, err)
		res, err := d.Detect(small, 500)
		require.NoError(t, err)
		assert.False(t, res.Motion)
	})

	t.Run("threshold is exclusive", func(t *testing.T) {
		d := NewDetector(nil)
		defer d.Close()
		_, err := d.Detect(base, 1)
		require.NoError(t, err)
		res, err := d.Detect(big, 1)
		require.NoError(t, err)
		require.True(t, res.Motion)

		d.Reset()
		_, err = d.Detect(base, res.Area)
		require.NoError(t, err)
		again, err := d.Detect(big, res.Area)
		require.NoError(t, err)
		assert.False(t, again.Motion)
	})
}

func TestDetector_HistoryAdvancesEveryFrame(t *testing.T) {
	d := NewDetector(nil)
	defer d.Close()

	base := blankFrame(200, 200)
	defer base.Close()
	big := frameWithBox(200, 200, image.Rect(80, 80, 120, 120))
	defer big.Close()

	_, err := d.Detect(base, 500)
	require.NoError(t, err)
	res, err := d.Detect(big, 500)
	require.NoError(t, err)
	require.True(t, res.Motion)

	// Same frame again: compared against the previous call, not the first.
	res, err = d.Detect(big, 500)
	require.NoError(t, err)
	assert.False(t, res.Motion)
}

func TestDetector_SizeChangeReseeds(t *testing.T) {
	d := NewDetector(nil)
	defer d.Close()

	a := blankFrame(100, 100)
	defer a.Close()
	b := frameWithBox(120, 160, image.Rect(10, 10, 90, 90))
	defer b.Close()

	_, err := d.Detect(a, 1)
	require.NoError(t, err)
	res, err := d.Detect(b, 1)
	require.NoError(t, err)
	assert.False(t, res.Motion)
}

func TestDetector_EmptyFrame(t *testing.T) {
	d := NewDetector(nil)
	defer d.Close()

	empty := gocv.NewMat()
	defer empty.Close()
	_, err := d.Detect(empty, 500)
	assert.ErrorIs(t, err, ErrEmptyFrame)
}

func TestDetector_MaskedOverlayIgnored(t *testing.T) {
	overlayChange := image.Rect(1760, 40, 1880, 60)

	base := blankFrame(120, 2000)
	defer base.Close()
	changed := frameWithBox(120, 2000, overlayChange)
	defer changed.Close()

	unmasked := NewDetector(nil)
	defer unmasked.Close()
	_, err := unmasked.Detect(base, 500)
	require.NoError(t, err)
	res, err := unmasked.Detect(changed, 500)
	require.NoError(t, err)
	assert.True(t, res.Motion)

	m, err := NewMasker(ProfileFor(2))
	require.NoError(t, err)
	masked := NewDetector(m)
	defer masked.Close()
	_, err = masked.Detect(base, 500)
	require.NoError(t, err)
	res, err = masked.Detect(changed, 500)
	require.NoError(t, err)
	assert.False(t, res.Motion)
}

func TestProfileFor(t *testing.T) {
	assert.Equal(t, image.Rect(2245, 88, 2460, 138), ProfileFor(1).Overlay)
	assert.Empty(t, ProfileFor(1).Corridor)

	for _, id := range []int{2, 3, 5} {
		p := ProfileFor(id)
		assert.Equal(t, image.Rect(1755, 35, 1890, 65), p.Overlay, "camera %d", id)
		assert.Empty(t, p.Corridor, "camera %d", id)
	}

	p := ProfileFor(4)
	assert.Equal(t, image.Rect(1755, 35, 1890, 65), p.Overlay)
	assert.Len(t, p.Corridor, 3)
	assert.Equal(t, 200, p.CorridorSamples)
	assert.Equal(t, 45, p.CorridorThickness)
}

func TestMasker_Apply(t *testing.T) {
	m, err := NewMasker(ProfileFor(4))
	require.NoError(t, err)

	corridor := m.Corridor()
	require.Len(t, corridor, 200)
	assert.Equal(t, image.Pt(1279, 271), corridor[0])
	assert.Equal(t, image.Pt(1710, 980), corridor[199])

	gray := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 0, 0, 0), 1100, 2000, gocv.MatTypeCV8U)
	defer gray.Close()
	m.Apply(&gray)

	assert.Equal(t, uint8(0), gray.GetUCharAt(50, 1800), "overlay")
	assert.Equal(t, uint8(0), gray.GetUCharAt(577, 1490), "corridor control point")
	assert.Equal(t, uint8(0), gray.GetUCharAt(577+15, 1490), "corridor width")
	assert.Equal(t, uint8(255), gray.GetUCharAt(100, 100))
	assert.Equal(t, uint8(255), gray.GetUCharAt(577, 1600))
}

func TestMasker_NoCorridor(t *testing.T) {
	m, err := NewMasker(ProfileFor(1))
	require.NoError(t, err)
	assert.Nil(t, m.Corridor())

	_, err = NewMasker(Profile{Corridor: []image.Point{{1, 1}}, CorridorSamples: 10})
	assert.Error(t, err)
}

func TestDrawContour(t *testing.T) {
	frame := blankFrame(50, 50)
	defer frame.Close()

	out := DrawContour(frame, []image.Point{{10, 10}, {40, 10}, {40, 40}, {10, 40}})
	defer out.Close()

	assert.Equal(t, uint8(0), frame.GetVecbAt(10, 10)[1], "source untouched")
	assert.Equal(t, uint8(255), out.GetVecbAt(10, 10)[1])
}
