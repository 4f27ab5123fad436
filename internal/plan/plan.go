package plan

import (
	"fmt"

	"github.com/viralcut/clipper/internal/models"
)

// Duration policy for generated clips, in seconds.
const (
	PerClipCapSeconds         = 80.0
	MultiClipMinSourceSeconds = 600.0
	youtubeShortsMaxSeconds   = 70.0
	tiktokInstagramMaxSeconds = 160.0
)

// Option defaults and bounds. Out-of-range values clamp instead of failing.
const (
	defaultZoomLevel = 1400
	minZoomLevel     = 500
	maxZoomLevel     = 3000

	defaultFade = 1.0
	maxFade     = 5.0

	defaultWidth  = 1080
	defaultHeight = 1920
	minDimension  = 360
	maxDimension  = 3840

	minSpeed = 0.9
	maxSpeed = 1.2

	minPitch = 0.9
	maxPitch = 1.1

	maxNoise = 0.1

	defaultMaxClips = 1
	maxMaxClips     = 10
)

// NormalizeOptions applies defaults and clamps raw request options into the
// option set the filter graph builder consumes. Unknown layout or caption
// style strings fall back to the defaults.
func NormalizeOptions(raw models.ProcessingOptions) models.RenderOptions {
	opts := models.RenderOptions{
		Layout:       models.LayoutBlurZoom,
		ZoomLevel:    defaultZoomLevel,
		FadeDuration: defaultFade,
		Width:        defaultWidth,
		Height:       defaultHeight,
		Speed:        1.0,
		PitchShift:   1.0,
		CaptionStyle: models.CaptionStyleClassic,
	}
	if raw.Layout != nil {
		switch models.Layout(*raw.Layout) {
		case models.LayoutBlurZoom, models.LayoutVertical, models.LayoutHorizontal, models.LayoutBlur:
			opts.Layout = models.Layout(*raw.Layout)
		}
	}
	if raw.ZoomLevel != nil {
		opts.ZoomLevel = clampInt(*raw.ZoomLevel, minZoomLevel, maxZoomLevel)
	}
	if raw.FadeDuration != nil {
		opts.FadeDuration = clampFloat(*raw.FadeDuration, 0, maxFade)
	}
	if raw.Width != nil {
		opts.Width = clampInt(*raw.Width, minDimension, maxDimension)
	}
	if raw.Height != nil {
		opts.Height = clampInt(*raw.Height, minDimension, maxDimension)
	}
	if raw.Mirror != nil {
		opts.Mirror = *raw.Mirror
	}
	if raw.Speed != nil {
		opts.Speed = clampFloat(*raw.Speed, minSpeed, maxSpeed)
	}
	if raw.ColorFilter != nil {
		opts.ColorFilter = *raw.ColorFilter
	}
	if raw.PitchShift != nil {
		opts.PitchShift = clampFloat(*raw.PitchShift, minPitch, maxPitch)
	}
	if raw.BackgroundNoise != nil {
		opts.BackgroundNoise = clampFloat(*raw.BackgroundNoise, 0, maxNoise)
	}
	if raw.GhostEffect != nil {
		opts.GhostEffect = *raw.GhostEffect
	}
	if raw.DynamicZoom != nil {
		opts.DynamicZoom = *raw.DynamicZoom
	}
	if raw.FaceTracking != nil {
		opts.FaceTracking = *raw.FaceTracking
	}
	if raw.Captions != nil {
		opts.Captions = *raw.Captions
	}
	if raw.CaptionStyle != nil {
		switch models.CaptionStyle(*raw.CaptionStyle) {
		case models.CaptionStyleClassic, models.CaptionStyleBold, models.CaptionStyleBox:
			opts.CaptionStyle = models.CaptionStyle(*raw.CaptionStyle)
		}
	}
	return opts
}

// MaxClips resolves how many highlight clips the analysis may return.
// Sources shorter than the multi-clip threshold always yield one.
func MaxClips(raw models.ProcessingOptions, sourceDuration float64) int {
	n := defaultMaxClips
	if raw.MaxClips != nil {
		n = clampInt(*raw.MaxClips, 1, maxMaxClips)
	}
	if sourceDuration < MultiClipMinSourceSeconds {
		return 1
	}
	return n
}

// CompileManualCut turns user-supplied clip timestamps into a plan where each
// clip is an independent single-segment target.
func CompileManualCut(sourceDuration float64, clips []models.ClipRequest, opts models.RenderOptions) (models.RenderPlan, error) {
	if len(clips) == 0 {
		return models.RenderPlan{}, models.Errorf(models.ErrKindValidation, "at least one clip is required")
	}
	var plan models.RenderPlan
	for i, c := range clips {
		seg := models.Segment{Start: c.Start.Seconds(), End: c.End.Seconds(), Title: c.Title}
		if err := validateSegment(seg, sourceDuration, fmt.Sprintf("clip %d", i+1)); err != nil {
			return models.RenderPlan{}, err
		}
		target := models.RenderTarget{
			Index:    i,
			Title:    clipTitle(c.Title, i),
			Platform: models.PlatformUniversal,
			Segments: capSegments([]models.Segment{seg}),
			Options:  opts,
		}
		plan.Targets = append(plan.Targets, target)
	}
	return plan, nil
}

// CompileManualEdit turns user-supplied segments into a single stitched target.
func CompileManualEdit(sourceDuration float64, segments []models.SegmentRequest, title string, opts models.RenderOptions) (models.RenderPlan, error) {
	if len(segments) == 0 {
		return models.RenderPlan{}, models.Errorf(models.ErrKindValidation, "at least one segment is required")
	}
	segs := make([]models.Segment, 0, len(segments))
	for i, s := range segments {
		seg := models.Segment{Start: s.Start.Seconds(), End: s.End.Seconds()}
		if err := validateSegment(seg, sourceDuration, fmt.Sprintf("segment %d", i+1)); err != nil {
			return models.RenderPlan{}, err
		}
		segs = append(segs, seg)
	}
	target := models.RenderTarget{
		Index:    0,
		Title:    clipTitle(title, 0),
		Platform: models.PlatformUniversal,
		Segments: capSegments(segs),
		Options:  opts,
	}
	return models.RenderPlan{Targets: []models.RenderTarget{target}}, nil
}

// CompileCuts turns analysis-discovered highlights into independent targets
// with platform tags. Cuts that fail validation against the known source
// duration are skipped rather than failing the plan; an all-invalid set is an
// analysis failure upstream.
func CompileCuts(sourceDuration float64, cuts []models.Segment, opts models.RenderOptions) (models.RenderPlan, error) {
	var plan models.RenderPlan
	for _, c := range cuts {
		if err := validateSegment(c, sourceDuration, "cut"); err != nil {
			continue
		}
		i := len(plan.Targets)
		plan.Targets = append(plan.Targets, models.RenderTarget{
			Index:    i,
			Title:    clipTitle(c.Title, i),
			Segments: capSegments([]models.Segment{c}),
			Options:  opts,
		})
	}
	if len(plan.Targets) == 0 {
		return models.RenderPlan{}, models.Errorf(models.ErrKindAnalysis, "no viable highlight segments found")
	}
	tagPlatforms(plan.Targets)
	return plan, nil
}

func tagPlatforms(targets []models.RenderTarget) {
	if len(targets) == 1 {
		targets[0].Platform = models.PlatformUniversal
		return
	}
	for i := range targets {
		dur := targets[i].TotalDuration()
		switch {
		case i == 0 && dur <= youtubeShortsMaxSeconds:
			targets[i].Platform = models.PlatformYouTubeShorts
		case dur <= tiktokInstagramMaxSeconds:
			targets[i].Platform = models.PlatformTikTokIG
		default:
			targets[i].Platform = models.PlatformUniversal
		}
	}
}

func validateSegment(s models.Segment, sourceDuration float64, label string) error {
	if s.End <= s.Start {
		return models.Errorf(models.ErrKindValidation, "%s: end (%.2fs) must be after start (%.2fs)", label, s.End, s.Start)
	}
	if s.Start < 0 {
		return models.Errorf(models.ErrKindValidation, "%s: start must not be negative", label)
	}
	if sourceDuration > 0 {
		if s.Start >= sourceDuration {
			return models.Errorf(models.ErrKindValidation, "%s: start (%.2fs) is beyond source duration (%.2fs)", label, s.Start, sourceDuration)
		}
		if s.End > sourceDuration {
			return models.Errorf(models.ErrKindValidation, "%s: end (%.2fs) is beyond source duration (%.2fs)", label, s.End, sourceDuration)
		}
	}
	return nil
}

// capSegments enforces the per-clip duration cap by trimming, not rejecting:
// once the running total reaches the cap the current segment is shortened to
// fit and everything after it is dropped.
func capSegments(segs []models.Segment) []models.Segment {
	out := make([]models.Segment, 0, len(segs))
	total := 0.0
	for _, s := range segs {
		remaining := PerClipCapSeconds - total
		if remaining <= 0 {
			break
		}
		if s.Duration() > remaining {
			s.End = s.Start + remaining
		}
		out = append(out, s)
		total += s.Duration()
	}
	return out
}

func clipTitle(title string, index int) string {
	if title != "" {
		return title
	}
	return fmt.Sprintf("Clip %d", index+1)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
