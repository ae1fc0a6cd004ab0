package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/rs/zerolog"
)

const summarizePrompt = "Summarize the following document for a patient in plain language. " +
	"List any medication names, dosages and dates it mentions.\n\n"

// AssistantService fronts the generative-text and OCR collaborators used
// next to the call. Their failures are passed through, never retried.
type AssistantService struct {
	generator  port.TextGenerator
	recognizer port.TextRecognizer
	logger     zerolog.Logger
}

func NewAssistantService(generator port.TextGenerator, recognizer port.TextRecognizer, logger zerolog.Logger) *AssistantService {
	return &AssistantService{
		generator:  generator,
		recognizer: recognizer,
		logger:     logger.With().Str("component", "assistant").Logger(),
	}
}

func (s *AssistantService) Ask(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", errors.New("question cannot be empty")
	}
	answer, err := s.generator.Generate(ctx, question)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Generation failed")
		return "", err
	}
	return answer, nil
}

// AnalyzeDocument extracts the text of a scanned document and summarizes
// it. No summary is attempted on partial or empty text.
func (s *AssistantService) AnalyzeDocument(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("%w: empty image", domain.ErrExtractionFailed)
	}
	text, err := s.recognizer.Recognize(ctx, image)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Text extraction failed")
		if errors.Is(err, domain.ErrExtractionFailed) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", domain.ErrExtractionFailed, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: no text found", domain.ErrExtractionFailed)
	}
	return s.Ask(ctx, summarizePrompt+text)
}
