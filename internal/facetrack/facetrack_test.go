package facetrack

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/viralcut/clipper/internal/models"
)

func TestDetectionRatio(t *testing.T) {
	samples := []Sample{
		{T: 0, X: 0.5, OK: true},
		{T: 0.5, OK: false},
		{T: 1.0, X: 0.6, OK: true},
		{T: 1.5, OK: false},
	}
	if got := DetectionRatio(samples); got != 0.5 {
		t.Errorf("ratio = %v", got)
	}
	if got := DetectionRatio(nil); got != 0 {
		t.Errorf("empty ratio = %v", got)
	}
}

func TestFillGaps(t *testing.T) {
	samples := []Sample{
		{T: 0, OK: false},
		{T: 1, X: 0.4, OK: true},
		{T: 2, OK: false},
		{T: 3, OK: false},
		{T: 4, X: 0.7, OK: true},
	}
	filled := FillGaps(samples)
	want := []float64{0.4, 0.4, 0.4, 0.4, 0.7}
	for i, w := range want {
		if filled[i].X != w || !filled[i].OK {
			t.Errorf("filled[%d] = %+v, want X=%v", i, filled[i], w)
		}
	}
}

func TestSmoothClampsSpeed(t *testing.T) {
	// A sudden jump must be limited to maxStep per sample.
	xs := []float64{0.2, 0.2, 0.9, 0.9, 0.9}
	out := Smooth(xs, 0.5, 0.05)
	for i := 1; i < len(out); i++ {
		if step := math.Abs(out[i] - out[i-1]); step > 0.05+1e-12 {
			t.Errorf("step %d = %v exceeds clamp", i, step)
		}
	}
	if out[0] != 0.2 {
		t.Errorf("first sample should pass through, got %v", out[0])
	}
}

func TestSmoothConvergesWithoutOvershoot(t *testing.T) {
	xs := []float64{0.5, 0.52, 0.51, 0.5, 0.52}
	out := Smooth(xs, 0.15, 0.05)
	for i, v := range out {
		if v < 0.49 || v > 0.53 {
			t.Errorf("smoothed[%d] = %v left the input range", i, v)
		}
	}
}

func TestMapToOutputTrimAndFade(t *testing.T) {
	target := models.RenderTarget{
		Segments: []models.Segment{{Start: 10, End: 20}, {Start: 30, End: 40}},
		Options:  models.RenderOptions{FadeDuration: 1.0, Speed: 1.0},
	}
	samples := []Sample{
		{T: 10, OK: true}, // output t=0
		{T: 15, OK: true}, // output t=5
		{T: 25, OK: true}, // inside neither segment, dropped
		{T: 30, OK: true}, // second segment starts at 10-1=9 on output
		{T: 35, OK: true}, // output t=14
	}
	xs := []float64{0.1, 0.2, 0.3, 0.4, 0.5}
	points := MapToOutput(samples, xs, target)
	if len(points) != 4 {
		t.Fatalf("points = %d, want 4", len(points))
	}
	wantT := []float64{0, 5, 9, 14}
	wantX := []float64{0.1, 0.2, 0.4, 0.5}
	for i := range points {
		if math.Abs(points[i].T-wantT[i]) > 1e-9 || points[i].X != wantX[i] {
			t.Errorf("points[%d] = %+v, want t=%v x=%v", i, points[i], wantT[i], wantX[i])
		}
	}
}

func TestMapToOutputIgnoresSpeed(t *testing.T) {
	// The crop runs ahead of the speed filters, so the trajectory stays on
	// the pre-speed timeline.
	target := models.RenderTarget{
		Segments: []models.Segment{{Start: 0, End: 10}},
		Options:  models.RenderOptions{Speed: 2.0},
	}
	samples := []Sample{{T: 4, OK: true}}
	points := MapToOutput(samples, []float64{0.5}, target)
	if len(points) != 1 || points[0].T != 4 {
		t.Errorf("points = %+v, want t=4", points)
	}
}

func TestSimplifyCollinear(t *testing.T) {
	points := []Point{{0, 0.1}, {1, 0.2}, {2, 0.3}, {3, 0.4}}
	got := Simplify(points, 0.008)
	if len(got) != 2 {
		t.Errorf("collinear points should reduce to endpoints, got %d", len(got))
	}
}

func TestSimplifyKeepsCorner(t *testing.T) {
	points := []Point{{0, 0.2}, {1, 0.2}, {2, 0.2}, {3, 0.8}, {4, 0.8}}
	got := Simplify(points, 0.008)
	if len(got) < 3 {
		t.Errorf("the corner keyframe must survive, got %v", got)
	}
}

func TestCropXExpr(t *testing.T) {
	expr := CropXExpr([]Point{{0, 0.3}, {2.5, 0.6}, {5, 0.6}})
	if !strings.HasPrefix(expr, "min(max(") || !strings.HasSuffix(expr, "iw-ow)") {
		t.Errorf("expression must clamp to frame bounds: %q", expr)
	}
	if !strings.Contains(expr, "if(lt(t,2.5)") {
		t.Errorf("expression must branch at keyframes: %q", expr)
	}
	if CropXExpr([]Point{{0, 0.5}}) != "" {
		t.Error("fewer than two keyframes cannot form a trajectory")
	}
}

type stubSampler struct {
	frames []Frame
	err    error
}

func (s stubSampler) SampleFrames(context.Context, string, float64, int) ([]Frame, error) {
	return s.frames, s.err
}

type stubDetector struct {
	xs []float64
	ok []bool
	i  int
}

func (d *stubDetector) FaceCenter(context.Context, Frame) (float64, bool, error) {
	x, ok := d.xs[d.i], d.ok[d.i]
	d.i++
	return x, ok, nil
}

func TestCropExprNilDetectorDisables(t *testing.T) {
	tr := New(stubSampler{}, nil)
	target := models.RenderTarget{Segments: []models.Segment{{Start: 0, End: 30}}}
	if got := tr.CropExpr(context.Background(), "in.mp4", target); got != "" {
		t.Errorf("nil detector should disable tracking, got %q", got)
	}
}

func TestCropExprLowDetectionRatio(t *testing.T) {
	frames := make([]Frame, 10)
	xs := make([]float64, 10)
	oks := make([]bool, 10)
	for i := range frames {
		frames[i] = Frame{T: float64(i) / 2}
		oks[i] = i < 2 // 20% detection, below the floor
		xs[i] = 0.5
	}
	tr := New(stubSampler{frames: frames}, &stubDetector{xs: xs, ok: oks})
	target := models.RenderTarget{
		Segments: []models.Segment{{Start: 0, End: 5}},
		Options:  models.RenderOptions{Speed: 1.0},
	}
	if got := tr.CropExpr(context.Background(), "in.mp4", target); got != "" {
		t.Errorf("sparse detections should fall back to center crop, got %q", got)
	}
}

func TestCropExprShortClipSkipped(t *testing.T) {
	tr := New(stubSampler{}, &stubDetector{})
	target := models.RenderTarget{Segments: []models.Segment{{Start: 0, End: 2}}}
	if got := tr.CropExpr(context.Background(), "in.mp4", target); got != "" {
		t.Errorf("clips under the minimum length skip tracking, got %q", got)
	}
}

func TestCropExprProducesExpression(t *testing.T) {
	frames := make([]Frame, 20)
	xs := make([]float64, 20)
	oks := make([]bool, 20)
	for i := range frames {
		frames[i] = Frame{T: float64(i) / 2}
		oks[i] = true
		xs[i] = 0.3 + 0.02*float64(i)
	}
	tr := New(stubSampler{frames: frames}, &stubDetector{xs: xs, ok: oks})
	target := models.RenderTarget{
		Segments: []models.Segment{{Start: 0, End: 10}},
		Options:  models.RenderOptions{Speed: 1.0},
	}
	expr := tr.CropExpr(context.Background(), "in.mp4", target)
	if expr == "" {
		t.Fatal("expected a trajectory expression")
	}
	if !strings.Contains(expr, "iw-ow") {
		t.Errorf("expression should clamp: %q", expr)
	}
}
