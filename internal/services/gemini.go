package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/viralcut/clipper/internal/models"
)

const (
	defaultGeminiModel      = "gemini-2.5-flash"
	analysisPollInterval    = 5 * time.Second
	analysisMaxPollDuration = 600 * time.Second
)

// GeminiService finds highlight segments in a source video and serves as the
// transcription fallback. Uploads go through the Gemini File API; the
// uploaded file is always deleted afterwards, success or not.
type GeminiService struct {
	apiKey string
	model  string
}

func NewGeminiService(apiKey, model string) *GeminiService {
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiService{apiKey: apiKey, model: model}
}

// rawCut is the JSON shape the model is asked to return.
type rawCut struct {
	Start       models.Timestamp `json:"start"`
	End         models.Timestamp `json:"end"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
}

func analysisPrompt(instruction string, maxClips int, sourceDuration float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a viral video editor. Watch this %.0f second video and pick the %d most engaging, self-contained highlight moments.\n\n", sourceDuration, maxClips)
	if instruction != "" {
		fmt.Fprintf(&b, "Editor instruction: %s\n\n", instruction)
	}
	b.WriteString(`Rules:
- Each highlight must be between 15 and 80 seconds long.
- Highlights must not overlap.
- Timestamps must stay within the video's actual duration.
- Prefer moments with a clear hook in the first 3 seconds.

Respond with ONLY a JSON array, no commentary:
[{"start": "m:ss", "end": "m:ss", "title": "short punchy title", "description": "why this moment works"}]`)
	return b.String()
}

// AnalyzeVideo uploads the video, waits for the File API to finish
// processing, and asks the model for highlight cuts. The poll ceiling maps
// to a timeout error so the pipeline reports it distinctly.
func (s *GeminiService) AnalyzeVideo(ctx context.Context, videoPath, instruction string, maxClips int, sourceDuration float64) ([]models.Segment, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  s.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, models.Errorf(models.ErrKindAnalysis, "failed to create genai client: %w", err)
	}

	file, err := s.uploadAndWait(ctx, client, videoPath, "video/mp4")
	if file != nil {
		defer func() {
			delCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, derr := client.Files.Delete(delCtx, file.Name, nil); derr != nil {
				log.Printf("[Gemini] Failed to delete uploaded file %s: %v", file.Name, derr)
			}
		}()
	}
	if err != nil {
		return nil, err
	}

	parts := []*genai.Part{
		genai.NewPartFromURI(file.URI, file.MIMEType),
		genai.NewPartFromText(analysisPrompt(instruction, maxClips, sourceDuration)),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := client.Models.GenerateContent(ctx, s.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, models.Errorf(models.ErrKindAnalysis, "highlight analysis failed: %w", err)
	}

	cuts, err := parseCuts(resp.Text())
	if err != nil {
		return nil, err
	}
	if len(cuts) > maxClips {
		cuts = cuts[:maxClips]
	}
	log.Printf("[Gemini] Analysis returned %d highlight cut(s)", len(cuts))
	return cuts, nil
}

// TranscribeAudioText returns the plain spoken-word transcript of an audio
// file. Word timing is reconstructed by the caller from speech regions.
func (s *GeminiService) TranscribeAudioText(ctx context.Context, audioPath string) (string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  s.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create genai client: %w", err)
	}

	file, err := s.uploadAndWait(ctx, client, audioPath, "audio/mpeg")
	if file != nil {
		defer func() {
			delCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, derr := client.Files.Delete(delCtx, file.Name, nil); derr != nil {
				log.Printf("[Gemini] Failed to delete uploaded file %s: %v", file.Name, derr)
			}
		}()
	}
	if err != nil {
		return "", err
	}

	parts := []*genai.Part{
		genai.NewPartFromURI(file.URI, file.MIMEType),
		genai.NewPartFromText("Transcribe this audio. Respond with ONLY the spoken words in order, separated by single spaces. No punctuation, no timestamps, no commentary."),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := client.Models.GenerateContent(ctx, s.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("gemini transcription failed: %w", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

// uploadAndWait pushes a file to the File API and polls until it becomes
// ACTIVE. The returned file is non-nil whenever an upload happened, so the
// caller can always clean it up.
func (s *GeminiService) uploadAndWait(ctx context.Context, client *genai.Client, path, mimeType string) (*genai.File, error) {
	file, err := client.Files.UploadFromPath(ctx, path, &genai.UploadFileConfig{MIMEType: mimeType})
	if err != nil {
		return nil, models.Errorf(models.ErrKindAnalysis, "file upload failed: %w", err)
	}
	log.Printf("[Gemini] Uploaded %s as %s, waiting for processing", path, file.Name)

	deadline := time.Now().Add(analysisMaxPollDuration)
	for file.State == genai.FileStateProcessing {
		if time.Now().After(deadline) {
			return file, models.Errorf(models.ErrKindTimeout, "file processing exceeded %s", analysisMaxPollDuration)
		}
		select {
		case <-ctx.Done():
			return file, models.Errorf(models.ErrKindCancelled, "upload wait cancelled: %w", ctx.Err())
		case <-time.After(analysisPollInterval):
		}
		file, err = client.Files.Get(ctx, file.Name, nil)
		if err != nil {
			return file, models.Errorf(models.ErrKindAnalysis, "file state poll failed: %w", err)
		}
	}
	if file.State != genai.FileStateActive {
		return file, models.Errorf(models.ErrKindAnalysis, "uploaded file entered state %s", file.State)
	}
	return file, nil
}

// parseCuts decodes the model's JSON answer, tolerating markdown fences.
func parseCuts(text string) ([]models.Segment, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var raw []rawCut
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, models.Errorf(models.ErrKindAnalysis, "unparseable analysis response: %w", err)
	}
	cuts := make([]models.Segment, 0, len(raw))
	for _, c := range raw {
		cuts = append(cuts, models.Segment{
			Start:       c.Start.Seconds(),
			End:         c.End.Seconds(),
			Title:       strings.TrimSpace(c.Title),
			Description: strings.TrimSpace(c.Description),
		})
	}
	return cuts, nil
}
