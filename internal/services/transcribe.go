package services

import (
	"context"
	"fmt"
	"log"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/viralcut/clipper/internal/models"
)

const defaultWhisperModel = "openai/whisper-large-v3"

// TranscriptionService produces word-level timestamps for an audio file.
// Primary path is Whisper through an OpenAI-compatible endpoint; when that
// fails the Gemini text transcript is spread over detected speech regions.
type TranscriptionService struct {
	whisper      *openai.Client
	whisperModel string
	gemini       *GeminiService
	engine       *FFmpegService
}

// NewTranscriptionService wires the providers. apiKey may be empty, which
// disables the Whisper path entirely.
func NewTranscriptionService(apiKey, baseURL, model string, gemini *GeminiService, engine *FFmpegService) *TranscriptionService {
	svc := &TranscriptionService{
		whisperModel: model,
		gemini:       gemini,
		engine:       engine,
	}
	if svc.whisperModel == "" {
		svc.whisperModel = defaultWhisperModel
	}
	if apiKey != "" {
		cfg := openai.DefaultConfig(apiKey)
		if baseURL != "" {
			cfg.BaseURL = baseURL
		}
		client := openai.NewClientWithConfig(cfg)
		svc.whisper = client
	}
	return svc
}

// Transcribe returns word timestamps for the audio file. An error here means
// both providers failed; callers treat that as "no captions", never as a
// pipeline failure.
func (s *TranscriptionService) Transcribe(ctx context.Context, audioPath string) ([]models.WordTimestamp, error) {
	if s.whisper != nil {
		words, err := s.transcribeWhisper(ctx, audioPath)
		if err == nil {
			return words, nil
		}
		log.Printf("[Transcribe] Whisper failed, falling back to Gemini: %v", err)
	}
	if s.gemini == nil {
		return nil, fmt.Errorf("no transcription provider available")
	}
	return s.transcribeGemini(ctx, audioPath)
}

func (s *TranscriptionService) transcribeWhisper(ctx context.Context, audioPath string) ([]models.WordTimestamp, error) {
	resp, err := s.whisper.CreateTranscription(ctx, openai.AudioRequest{
		Model:    s.whisperModel,
		FilePath: audioPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularityWord,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("whisper transcription failed: %w", err)
	}
	words := make([]models.WordTimestamp, 0, len(resp.Words))
	for _, w := range resp.Words {
		word := strings.TrimSpace(w.Word)
		if word == "" {
			continue
		}
		words = append(words, models.WordTimestamp{Word: word, Start: w.Start, End: w.End})
	}
	log.Printf("[Transcribe] Whisper returned %d words", len(words))
	return words, nil
}

func (s *TranscriptionService) transcribeGemini(ctx context.Context, audioPath string) ([]models.WordTimestamp, error) {
	text, err := s.gemini.TranscribeAudioText(ctx, audioPath)
	if err != nil {
		return nil, err
	}
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return nil, nil
	}
	var regions []SpeechRegion
	if s.engine != nil {
		regions, err = s.engine.DetectSpeechRegions(ctx, audioPath)
		if err != nil {
			log.Printf("[Transcribe] Speech detection failed, spreading words over full duration: %v", err)
		}
	}
	if len(regions) == 0 {
		dur := 0.0
		if s.engine != nil {
			dur, _ = s.engine.ProbeDuration(ctx, audioPath)
		}
		if dur <= 0 {
			return nil, fmt.Errorf("cannot place %d words without timing information", len(tokens))
		}
		regions = []SpeechRegion{{Start: 0, End: dur}}
	}
	words := DistributeWords(tokens, regions)
	log.Printf("[Transcribe] Gemini fallback produced %d words over %d speech regions", len(words), len(regions))
	return words, nil
}

// DistributeWords spreads tokens evenly across speech regions in proportion
// to each region's length.
func DistributeWords(tokens []string, regions []SpeechRegion) []models.WordTimestamp {
	total := 0.0
	for _, r := range regions {
		if r.End > r.Start {
			total += r.End - r.Start
		}
	}
	if total <= 0 || len(tokens) == 0 {
		return nil
	}
	perWord := total / float64(len(tokens))

	words := make([]models.WordTimestamp, 0, len(tokens))
	ri := 0
	cursor := regions[0].Start
	for _, tok := range tokens {
		// Advance past exhausted regions.
		for ri < len(regions)-1 && cursor >= regions[ri].End {
			ri++
			cursor = regions[ri].Start
		}
		end := cursor + perWord
		if end > regions[ri].End && ri < len(regions)-1 {
			end = regions[ri].End
		}
		words = append(words, models.WordTimestamp{Word: tok, Start: cursor, End: end})
		cursor = end
	}
	return words
}
