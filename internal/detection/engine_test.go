package detection

import (
	"image"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestAlignSize(t *testing.T) {
	tests := []struct {
		w, h int
		want image.Point
	}{
		{2688, 1520, image.Pt(2688, 1536)},
		{1920, 1080, image.Pt(1920, 1088)},
		{640, 480, image.Pt(640, 480)},
		{1, 33, image.Pt(32, 64)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AlignSize(tt.w, tt.h), "%dx%d", tt.w, tt.h)
	}
}

func TestDetection_Box(t *testing.T) {
	d := Detection{Center: image.Pt(100, 50), Size: image.Pt(40, 20)}
	assert.Equal(t, image.Rect(80, 40, 120, 60), d.Box())
}

func TestClassLabel(t *testing.T) {
	assert.Equal(t, "cat", ClassLabel(ClassCat))
	assert.Equal(t, "dog", ClassLabel(ClassDog))
	assert.Equal(t, "class 3", ClassLabel(3))
}

func TestRequestWants(t *testing.T) {
	assert.True(t, Request{}.wants(7))
	r := Request{Classes: MonitoredClasses}
	assert.True(t, r.wants(ClassCat))
	assert.True(t, r.wants(ClassDog))
	assert.False(t, r.wants(0))
}

// tensor lays out detections as [attrs][n] the way the model emits them.
func tensor(classes int, rows ...[]float32) []float32 {
	attrs := 4 + classes
	n := len(rows)
	data := make([]float32, attrs*n)
	for i, row := range rows {
		for a, v := range row {
			data[a*n+i] = v
		}
	}
	return data
}

func TestDecodeYOLO(t *testing.T) {
	const classes = 17
	row := func(cx, cy, w, h float32, class int, score float32) []float32 {
		r := make([]float32, 4+classes)
		r[0], r[1], r[2], r[3] = cx, cy, w, h
		r[4+class] = score
		return r
	}
	data := tensor(classes,
		row(100, 100, 20, 10, ClassCat, 0.9),
		row(200, 50, 30, 30, ClassDog, 0.1),  // below floor
		row(300, 300, 10, 10, 0, 0.95),       // person, filtered
		row(50, 60, 8, 4, ClassDog, 0.4),
	)
	req := Request{ConfidenceFloor: 0.2, Classes: MonitoredClasses}

	got := decodeYOLO(data, 4+classes, 4, req, [2]float64{2, 1})
	want := []Detection{
		{ClassID: ClassCat, Label: "cat", Confidence: 0.9, Center: image.Pt(200, 100), Size: image.Pt(40, 10)},
		{ClassID: ClassDog, Label: "dog", Confidence: 0.4, Center: image.Pt(100, 60), Size: image.Pt(16, 4)},
	}
	if diff := cmp.Diff(want, got, cmp.Comparer(func(a, b float64) bool {
		d := a - b
		return d < 1e-6 && d > -1e-6
	})); diff != "" {
		t.Errorf("decodeYOLO mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeYOLO_ShortBuffer(t *testing.T) {
	assert.Nil(t, decodeYOLO(make([]float32, 3), 6, 2, Request{}, [2]float64{1, 1}))
}

func TestAnnotate(t *testing.T) {
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 120, 160, gocv.MatTypeCV8UC3)
	defer frame.Close()

	out := Annotate(frame, []Detection{{ClassID: ClassCat, Label: "cat", Confidence: 0.9, Center: image.Pt(80, 60), Size: image.Pt(40, 40)}})
	defer out.Close()

	require.Equal(t, frame.Rows(), out.Rows())
	assert.Equal(t, uint8(0), frame.GetVecbAt(60, 60)[2], "source untouched")
	assert.Equal(t, uint8(255), out.GetVecbAt(60, 60)[2], "box edge drawn")
}

func TestEncodeJPEG(t *testing.T) {
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(10, 20, 30, 0), 16, 16, gocv.MatTypeCV8UC3)
	defer frame.Close()

	data, err := EncodeJPEG(frame)
	require.NoError(t, err)
	require.Greater(t, len(data), 2)
	assert.Equal(t, []byte{0xFF, 0xD8}, data[:2])
}
