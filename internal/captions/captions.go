package captions

import (
	"strings"

	"github.com/viralcut/clipper/internal/models"
)

// Cue grouping thresholds. A new cue starts when the silence between words
// exceeds the gap, or the cue would exceed the word or character limits.
const (
	maxWordsPerCue    = 4
	maxCharsPerCue    = 28
	newCueGapSeconds  = 0.8
	minCueDisplaySecs = 0.3
)

// Plan groups word timestamps into caption cues. An empty transcript yields
// an empty plan; words with non-increasing bounds are skipped.
func Plan(words []models.WordTimestamp) []models.CaptionCue {
	var cues []models.CaptionCue
	var cur []models.WordTimestamp
	curLen := 0

	flush := func() {
		if len(cur) == 0 {
			return
		}
		texts := make([]string, len(cur))
		for i, w := range cur {
			texts[i] = strings.TrimSpace(w.Word)
		}
		start := cur[0].Start
		end := cur[len(cur)-1].End
		if end < start+minCueDisplaySecs {
			end = start + minCueDisplaySecs
		}
		cues = append(cues, models.CaptionCue{
			Start: start,
			End:   end,
			Text:  strings.Join(texts, " "),
		})
		cur = nil
		curLen = 0
	}

	for _, w := range words {
		word := strings.TrimSpace(w.Word)
		if word == "" || w.End <= w.Start {
			continue
		}
		if len(cur) > 0 {
			gap := w.Start - cur[len(cur)-1].End
			if gap > newCueGapSeconds || len(cur) >= maxWordsPerCue || curLen+1+len(word) > maxCharsPerCue {
				flush()
			}
		}
		if len(cur) == 0 {
			curLen = len(word)
		} else {
			curLen += 1 + len(word)
		}
		cur = append(cur, w)
	}
	flush()

	// A stretched minimum display may overlap the next cue; pull it back.
	for i := 0; i < len(cues)-1; i++ {
		if cues[i].End > cues[i+1].Start {
			cues[i].End = cues[i+1].Start
		}
	}
	return cues
}

// Style holds the drawtext parameters for one caption look.
type Style struct {
	FontSize    int
	FontColor   string
	BorderWidth int
	BorderColor string
	Box         bool
	BoxColor    string
	BoxBorderW  int
	Uppercase   bool
	Bold        bool
}

var styles = map[models.CaptionStyle]Style{
	models.CaptionStyleClassic: {
		FontSize:    54,
		FontColor:   "white",
		BorderWidth: 3,
		BorderColor: "black",
	},
	models.CaptionStyleBold: {
		FontSize:    64,
		FontColor:   "white",
		BorderWidth: 5,
		BorderColor: "black",
		Uppercase:   true,
		Bold:        true,
	},
	models.CaptionStyleBox: {
		FontSize:   54,
		FontColor:  "white",
		Box:        true,
		BoxColor:   "black@0.6",
		BoxBorderW: 14,
	},
}

// StyleFor resolves a caption style name, falling back to classic.
func StyleFor(name models.CaptionStyle) Style {
	if s, ok := styles[name]; ok {
		return s
	}
	return styles[models.CaptionStyleClassic]
}

// Render applies the style's text transform to cue text.
func (s Style) Render(text string) string {
	if s.Uppercase {
		return strings.ToUpper(text)
	}
	return text
}
