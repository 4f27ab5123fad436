package filtergraph

import (
	"fmt"
	"strings"

	"github.com/viralcut/clipper/internal/captions"
	"github.com/viralcut/clipper/internal/models"
)

const (
	// OutputFPS is the frame rate every segment is normalized to before
	// crossfading; mixed-rate inputs break xfade offsets otherwise.
	OutputFPS = 30

	audioSampleRate = 44100
)

// BuildInput is everything the builder needs for one output clip. Cue times
// are on the stitched output timeline before any speed change, since the
// caption overlay runs ahead of the speed filters. BoldFontFile replaces
// FontFile for styles with a bold weight. CropXExpr, when set, replaces the
// centered crop x position for the vertical and blur_zoom layouts.
type BuildInput struct {
	Target       models.RenderTarget
	Cues         []models.CaptionCue
	Style        captions.Style
	FontFile     string
	BoldFontFile string
	CropXExpr    string
}

// Build compiles one render target into a validated filter graph with
// terminal pads [vout] and [aout]. The same input always produces a
// structurally identical graph.
func Build(in BuildInput) (*Graph, error) {
	t := in.Target
	if len(t.Segments) == 0 {
		return nil, fmt.Errorf("target %d has no segments", t.Index)
	}
	g := New("0:v", "0:a")

	// A pad feeds exactly one consumer, so multi-segment targets fan the
	// source out through split/asplit before the per-segment trims.
	srcV := make([]string, len(t.Segments))
	srcA := make([]string, len(t.Segments))
	if n := len(t.Segments); n == 1 {
		srcV[0], srcA[0] = "0:v", "0:a"
	} else {
		for i := range srcV {
			srcV[i] = fmt.Sprintf("src%dv", i)
			srcA[i] = fmt.Sprintf("src%da", i)
		}
		g.Add("split", []Arg{{"", fmt.Sprintf("%d", n)}}, []string{"0:v"}, srcV)
		g.Add("asplit", []Arg{{"", fmt.Sprintf("%d", n)}}, []string{"0:a"}, srcA)
	}

	// Per-segment trim and normalization.
	for i, s := range t.Segments {
		v := fmt.Sprintf("seg%dv", i)
		a := fmt.Sprintf("seg%da", i)
		g.Chain("trim", []Arg{{"start", ff(s.Start)}, {"end", ff(s.End)}}, srcV[i], tmp(v, 0))
		g.Chain("setpts", []Arg{{"", "PTS-STARTPTS"}}, tmp(v, 0), tmp(v, 1))
		g.Chain("fps", []Arg{{"fps", fmt.Sprintf("%d", OutputFPS)}}, tmp(v, 1), tmp(v, 2))
		g.Chain("format", []Arg{{"pix_fmts", "yuv420p"}}, tmp(v, 2), v)

		g.Chain("atrim", []Arg{{"start", ff(s.Start)}, {"end", ff(s.End)}}, srcA[i], tmp(a, 0))
		g.Chain("asetpts", []Arg{{"", "PTS-STARTPTS"}}, tmp(a, 0), tmp(a, 1))
		g.Chain("aformat", []Arg{
			{"sample_fmts", "fltp"},
			{"sample_rates", fmt.Sprintf("%d", audioSampleRate)},
			{"channel_layouts", "stereo"},
		}, tmp(a, 1), a)
	}

	curV, curA, _ := joinSegments(g, t)
	curV, curA = applyEffects(g, in, curV, curA)

	g.Chain("format", []Arg{{"pix_fmts", "yuv420p"}}, curV, "vout")
	g.Chain("aformat", []Arg{
		{"sample_fmts", "fltp"},
		{"sample_rates", fmt.Sprintf("%d", audioSampleRate)},
		{"channel_layouts", "stereo"},
	}, curA, "aout")

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("filter graph for target %d: %w", t.Index, err)
	}
	return g, nil
}

// joinSegments chains the per-segment pads with crossfades. A boundary where
// the fade would not fit inside both adjacent segments degrades to a hard
// cut; the xfade offset clamps at zero, never negative.
func joinSegments(g *Graph, t models.RenderTarget) (string, string, float64) {
	curV, curA := "seg0v", "seg0a"
	curDur := t.Segments[0].Duration()
	fade := t.Options.FadeDuration

	for k := 1; k < len(t.Segments); k++ {
		nextV := fmt.Sprintf("seg%dv", k)
		nextA := fmt.Sprintf("seg%da", k)
		joinV := fmt.Sprintf("join%dv", k)
		joinA := fmt.Sprintf("join%da", k)
		prevDur := t.Segments[k-1].Duration()
		nextDur := t.Segments[k].Duration()

		if fade > 0 && fade < prevDur && fade < nextDur {
			offset := curDur - fade
			if offset < 0 {
				offset = 0
			}
			g.Add("xfade", []Arg{
				{"transition", "fade"},
				{"duration", ff(fade)},
				{"offset", ff(offset)},
			}, []string{curV, nextV}, []string{joinV})
			g.Add("acrossfade", []Arg{{"d", ff(fade)}}, []string{curA, nextA}, []string{joinA})
			curDur += nextDur - fade
		} else {
			g.Add("concat", []Arg{{"n", "2"}, {"v", "1"}, {"a", "0"}}, []string{curV, nextV}, []string{joinV})
			g.Add("concat", []Arg{{"n", "2"}, {"v", "0"}, {"a", "1"}}, []string{curA, nextA}, []string{joinA})
			curDur += nextDur
		}
		curV, curA = joinV, joinA
	}
	return curV, curA, curDur
}

// applyEffects runs the fixed effect order: layout (with the face-tracking
// crop), dynamic zoom, mirror, color, ghost, captions, speed, pitch,
// background noise. Captions and the crop trajectory come before the speed
// change, so their times live on the pre-speed output timeline.
func applyEffects(g *Graph, in BuildInput, curV, curA string) (string, string) {
	opts := in.Target.Options

	curV = applyLayout(g, in, curV)

	// zoompan needs a fixed output size, which the horizontal layout does
	// not guarantee, so the pulse only applies to the sized layouts.
	if opts.DynamicZoom && opts.Layout != models.LayoutHorizontal {
		g.Chain("zoompan", []Arg{
			{"z", "'1.02+0.01*sin(2*PI*in_time/5)'"},
			{"d", "1"},
			{"x", "'iw/2-(iw/zoom/2)'"},
			{"y", "'ih/2-(ih/zoom/2)'"},
			{"s", fmt.Sprintf("%dx%d", opts.Width, opts.Height)},
			{"fps", fmt.Sprintf("%d", OutputFPS)},
		}, curV, "dzv")
		curV = "dzv"
	}

	if opts.Mirror {
		g.Chain("hflip", nil, curV, "mirv")
		curV = "mirv"
	}

	if opts.ColorFilter {
		g.Chain("eq", []Arg{
			{"brightness", "0.04"},
			{"contrast", "1.06"},
			{"saturation", "1.12"},
		}, curV, "colv")
		curV = "colv"
	}

	if opts.GhostEffect {
		g.Chain("eq", []Arg{
			{"brightness", "'if(lt(mod(t,11),0.067),0.06,0)'"},
			{"eval", "frame"},
		}, curV, "ghv")
		curV = "ghv"
	}

	if opts.Captions && len(in.Cues) > 0 {
		curV = applyCaptions(g, in, curV)
	}

	if opts.Speed != 1.0 {
		g.Chain("setpts", []Arg{{"", fmt.Sprintf("PTS/%s", ff(opts.Speed))}}, curV, "spdv")
		g.Chain("atempo", []Arg{{"", ff(opts.Speed)}}, curA, "spda")
		curV, curA = "spdv", "spda"
	}

	if opts.PitchShift != 1.0 {
		g.Chain("asetrate", []Arg{{"", fmt.Sprintf("%d*%s", audioSampleRate, ff(opts.PitchShift))}}, curA, "ptc0")
		g.Chain("atempo", []Arg{{"", ff(1.0 / opts.PitchShift)}}, "ptc0", "ptc1")
		g.Chain("aresample", []Arg{{"", fmt.Sprintf("%d", audioSampleRate)}}, "ptc1", "ptca")
		curA = "ptca"
	}

	if opts.BackgroundNoise > 0 {
		g.Add("anoisesrc", []Arg{
			{"color", "pink"},
			{"amplitude", ff(opts.BackgroundNoise)},
			{"sample_rate", fmt.Sprintf("%d", audioSampleRate)},
		}, nil, []string{"noise"})
		g.Add("amix", []Arg{
			{"inputs", "2"},
			{"duration", "first"},
			{"dropout_transition", "0"},
		}, []string{curA, "noise"}, []string{"mixa"})
		g.Chain("volume", []Arg{{"", "2.0"}}, "mixa", "nsa")
		curA = "nsa"
	}

	return curV, curA
}

func applyLayout(g *Graph, in BuildInput, curV string) string {
	opts := in.Target.Options
	w, h := opts.Width, opts.Height
	cropX := "(iw-ow)/2"
	if in.CropXExpr != "" {
		cropX = in.CropXExpr
	}

	switch opts.Layout {
	case models.LayoutVertical:
		g.Chain("scale", []Arg{{"w", "-2"}, {"h", fmt.Sprintf("%d", h)}}, curV, "lv0")
		g.Chain("crop", []Arg{
			{"w", fmt.Sprintf("%d", w)},
			{"h", fmt.Sprintf("%d", h)},
			{"x", quoteExpr(cropX)},
			{"y", "0"},
		}, "lv0", "layv")
		return "layv"

	case models.LayoutHorizontal:
		g.Chain("setsar", []Arg{{"", "1"}}, curV, "layv")
		return "layv"

	case models.LayoutBlur:
		g.Add("split", nil, []string{curV}, []string{"bgsrc", "fgsrc"})
		g.Chain("scale", []Arg{
			{"w", fmt.Sprintf("%d", w)},
			{"h", fmt.Sprintf("%d", h)},
			{"force_original_aspect_ratio", "increase"},
		}, "bgsrc", "bg0")
		g.Chain("crop", []Arg{{"w", fmt.Sprintf("%d", w)}, {"h", fmt.Sprintf("%d", h)}}, "bg0", "bg1")
		g.Chain("boxblur", []Arg{{"luma_radius", "20"}, {"luma_power", "2"}}, "bg1", "bg")
		g.Chain("scale", []Arg{{"w", fmt.Sprintf("%d", w)}, {"h", "-2"}}, "fgsrc", "fg")
		g.Add("overlay", []Arg{
			{"x", "(main_w-overlay_w)/2"},
			{"y", "(main_h-overlay_h)/2"},
		}, []string{"bg", "fg"}, []string{"layv"})
		return "layv"

	default: // blur_zoom
		g.Add("split", nil, []string{curV}, []string{"bgsrc", "fgsrc"})
		g.Chain("scale", []Arg{
			{"w", fmt.Sprintf("%d", w)},
			{"h", fmt.Sprintf("%d", h)},
			{"force_original_aspect_ratio", "increase"},
		}, "bgsrc", "bg0")
		g.Chain("crop", []Arg{{"w", fmt.Sprintf("%d", w)}, {"h", fmt.Sprintf("%d", h)}}, "bg0", "bg1")
		g.Chain("boxblur", []Arg{{"luma_radius", "20"}, {"luma_power", "2"}}, "bg1", "bg")
		fg := "fgsrc"
		g.Chain("scale", []Arg{{"w", fmt.Sprintf("%d", opts.ZoomLevel)}, {"h", "-2"}}, fg, "fg0")
		fg = "fg0"
		if in.CropXExpr != "" && opts.ZoomLevel > w {
			g.Chain("crop", []Arg{
				{"w", fmt.Sprintf("%d", w)},
				{"h", "ih"},
				{"x", quoteExpr(in.CropXExpr)},
				{"y", "0"},
			}, fg, "fg1")
			fg = "fg1"
		}
		g.Add("overlay", []Arg{
			{"x", "(main_w-overlay_w)/2"},
			{"y", "(main_h-overlay_h)/2"},
		}, []string{"bg", fg}, []string{"layv"})
		return "layv"
	}
}

// applyCaptions appends one enable-gated drawtext node per cue.
func applyCaptions(g *Graph, in BuildInput, curV string) string {
	style := in.Style
	fontFile := in.FontFile
	if style.Bold && in.BoldFontFile != "" {
		fontFile = in.BoldFontFile
	}
	for i, cue := range in.Cues {
		args := []Arg{
			{"text", "'" + escapeDrawtext(style.Render(cue.Text)) + "'"},
			{"fontsize", fmt.Sprintf("%d", style.FontSize)},
			{"fontcolor", style.FontColor},
		}
		if fontFile != "" {
			args = append(args, Arg{"fontfile", fontFile})
		}
		if style.BorderWidth > 0 {
			args = append(args,
				Arg{"borderw", fmt.Sprintf("%d", style.BorderWidth)},
				Arg{"bordercolor", style.BorderColor})
		}
		if style.Box {
			args = append(args,
				Arg{"box", "1"},
				Arg{"boxcolor", style.BoxColor},
				Arg{"boxborderw", fmt.Sprintf("%d", style.BoxBorderW)})
		}
		args = append(args,
			Arg{"x", "(w-text_w)/2"},
			Arg{"y", "h-260"},
			Arg{"enable", fmt.Sprintf("'between(t,%s,%s)'", ff(cue.Start), ff(cue.End))})

		out := fmt.Sprintf("cap%dv", i)
		g.Chain("drawtext", args, curV, out)
		curV = out
	}
	return curV
}

// escapeDrawtext neutralizes characters that terminate or corrupt a quoted
// drawtext text value. Single quotes become typographic apostrophes, which
// render identically and avoid the three-level escaping dance.
func escapeDrawtext(s string) string {
	r := strings.NewReplacer(
		"\\", "\\\\",
		"'", "’",
		":", "\\:",
		";", "\\;",
		",", "\\,",
		"%", "\\%",
		"[", "\\[",
		"]", "\\]",
	)
	return r.Replace(s)
}

// quoteExpr wraps an expression containing commas so the filter parser does
// not split it into separate options.
func quoteExpr(expr string) string {
	if strings.ContainsAny(expr, ",:") && !strings.HasPrefix(expr, "'") {
		return "'" + expr + "'"
	}
	return expr
}

// tmp names an intermediate pad in a linear stretch.
func tmp(base string, i int) string {
	return fmt.Sprintf("%s_%d", base, i)
}

// ff formats seconds and ratios for filter arguments.
func ff(v float64) string {
	s := fmt.Sprintf("%.4f", v)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}
