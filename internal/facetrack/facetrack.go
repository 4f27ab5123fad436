package facetrack

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/viralcut/clipper/internal/models"
)

// Tracking parameters. Sampling is deliberately coarse; the smoothed
// trajectory only needs to follow slow subject movement.
const (
	sampleFPS        = 2.0
	sampleWidth      = 320
	emaAlpha         = 0.15
	maxStepPerSample = 0.05
	minDetectRatio   = 0.3
	rdpEpsilon       = 0.008
	minClipSeconds   = 3.0
)

// Frame is one sampled video frame handed to the detector.
type Frame struct {
	T      float64
	Width  int
	Height int
	Pix    []byte
}

// FrameSampler extracts low-resolution frames from a video file.
// The media engine implements it with an ffmpeg rawvideo pipe.
type FrameSampler interface {
	SampleFrames(ctx context.Context, videoPath string, fps float64, width int) ([]Frame, error)
}

// Detector finds the horizontal face center in one frame, normalized to
// [0,1]. ok=false means no face in this frame.
type Detector interface {
	FaceCenter(ctx context.Context, frame Frame) (x float64, ok bool, err error)
}

// Sample is one point of the raw detection series.
type Sample struct {
	T  float64
	X  float64
	OK bool
}

// Point is one keyframe of the final trajectory on the output timeline.
type Point struct {
	T float64
	X float64
}

// Tracker turns a source video plus a render target into a crop x
// expression for the filter graph. A nil detector disables tracking.
type Tracker struct {
	sampler  FrameSampler
	detector Detector
}

func New(sampler FrameSampler, detector Detector) *Tracker {
	return &Tracker{sampler: sampler, detector: detector}
}

// CropExpr computes the piecewise-linear crop x expression for a target, or
// "" when tracking is unavailable. Every failure path is non-fatal: the
// caller falls back to a centered crop.
func (t *Tracker) CropExpr(ctx context.Context, videoPath string, target models.RenderTarget) string {
	if t == nil || t.detector == nil || t.sampler == nil {
		return ""
	}
	if target.TotalDuration() < minClipSeconds {
		return ""
	}
	frames, err := t.sampler.SampleFrames(ctx, videoPath, sampleFPS, sampleWidth)
	if err != nil || len(frames) == 0 {
		log.Printf("[FaceTrack] Frame sampling failed, using center crop: %v", err)
		return ""
	}
	samples := make([]Sample, 0, len(frames))
	for _, f := range frames {
		x, ok, derr := t.detector.FaceCenter(ctx, f)
		if derr != nil {
			log.Printf("[FaceTrack] Detector failed, using center crop: %v", derr)
			return ""
		}
		samples = append(samples, Sample{T: f.T, X: x, OK: ok})
	}
	if DetectionRatio(samples) < minDetectRatio {
		return ""
	}
	filled := FillGaps(samples)
	xs := make([]float64, len(filled))
	for i, s := range filled {
		xs[i] = s.X
	}
	smoothed := Smooth(xs, emaAlpha, maxStepPerSample)
	points := MapToOutput(filled, smoothed, target)
	points = Simplify(points, rdpEpsilon)
	if len(points) < 2 {
		return ""
	}
	return CropXExpr(points)
}

// DetectionRatio is the fraction of samples with a face present.
func DetectionRatio(samples []Sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	hits := 0
	for _, s := range samples {
		if s.OK {
			hits++
		}
	}
	return float64(hits) / float64(len(samples))
}

// FillGaps replaces missing detections with the nearest detected value,
// forward first, then backward for a leading gap.
func FillGaps(samples []Sample) []Sample {
	out := make([]Sample, len(samples))
	copy(out, samples)
	last := -1.0
	for i := range out {
		if out[i].OK {
			last = out[i].X
		} else if last >= 0 {
			out[i].X = last
			out[i].OK = true
		}
	}
	next := -1.0
	for i := len(out) - 1; i >= 0; i-- {
		if out[i].OK {
			next = out[i].X
		} else if next >= 0 {
			out[i].X = next
			out[i].OK = true
		}
	}
	return out
}

// Smooth applies an exponential moving average with a per-sample speed
// clamp, which suppresses detector jitter and single-frame misfires.
func Smooth(xs []float64, alpha, maxStep float64) []float64 {
	if len(xs) == 0 {
		return nil
	}
	out := make([]float64, len(xs))
	out[0] = xs[0]
	for i := 1; i < len(xs); i++ {
		next := out[i-1] + alpha*(xs[i]-out[i-1])
		step := next - out[i-1]
		if step > maxStep {
			next = out[i-1] + maxStep
		} else if step < -maxStep {
			next = out[i-1] - maxStep
		}
		out[i] = next
	}
	return out
}

// MapToOutput projects source-timeline samples onto the stitched output
// timeline of the target: trim offsets shift and crossfade overlaps
// compress. The crop filter runs before any speed change, so no speed
// rescaling applies. Samples outside every segment are dropped.
func MapToOutput(samples []Sample, xs []float64, target models.RenderTarget) []Point {
	fade := target.Options.FadeDuration
	var points []Point
	outBase := 0.0
	for k, seg := range target.Segments {
		for i, s := range samples {
			if s.T < seg.Start || s.T >= seg.End {
				continue
			}
			points = append(points, Point{T: outBase + (s.T - seg.Start), X: xs[i]})
		}
		segOut := seg.Duration()
		if k < len(target.Segments)-1 {
			nextDur := target.Segments[k+1].Duration()
			if fade > 0 && fade < segOut && fade < nextDur {
				segOut -= fade
			}
		}
		outBase += segOut
	}
	return points
}

// Simplify reduces the trajectory to its keyframes with the
// Ramer-Douglas-Peucker algorithm.
func Simplify(points []Point, epsilon float64) []Point {
	if len(points) <= 2 {
		return points
	}
	maxDist := 0.0
	maxIdx := 0
	first, last := points[0], points[len(points)-1]
	for i := 1; i < len(points)-1; i++ {
		d := perpendicularDistance(points[i], first, last)
		if d > maxDist {
			maxDist = d
			maxIdx = i
		}
	}
	if maxDist <= epsilon {
		return []Point{first, last}
	}
	left := Simplify(points[:maxIdx+1], epsilon)
	right := Simplify(points[maxIdx:], epsilon)
	out := make([]Point, 0, len(left)+len(right)-1)
	out = append(out, left[:len(left)-1]...)
	out = append(out, right...)
	return out
}

func perpendicularDistance(p, a, b Point) float64 {
	dt := b.T - a.T
	dx := b.X - a.X
	if dt == 0 && dx == 0 {
		return math.Hypot(p.T-a.T, p.X-a.X)
	}
	num := math.Abs(dx*p.T - dt*p.X + b.T*a.X - b.X*a.T)
	return num / math.Hypot(dt, dx)
}

// CropXExpr renders the trajectory as a nested-if piecewise-linear ffmpeg
// expression for the crop filter's x option. Keyframe values are normalized
// face centers; the expression converts to pixels and clamps to the frame.
func CropXExpr(points []Point) string {
	if len(points) < 2 {
		return ""
	}
	expr := fmtF(points[len(points)-1].X)
	for i := len(points) - 2; i >= 0; i-- {
		a, b := points[i], points[i+1]
		span := b.T - a.T
		if span <= 0 {
			continue
		}
		lerp := fmt.Sprintf("%s+(t-%s)*(%s-%s)/%s",
			fmtF(a.X), fmtF(a.T), fmtF(b.X), fmtF(a.X), fmtF(span))
		expr = fmt.Sprintf("if(lt(t,%s),%s,%s)", fmtF(b.T), lerp, expr)
	}
	// Center the crop window on the face and clamp to the frame edges.
	return fmt.Sprintf("min(max((%s)*iw-ow/2,0),iw-ow)", expr)
}

func fmtF(v float64) string {
	s := fmt.Sprintf("%.4f", v)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}
