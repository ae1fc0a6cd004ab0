package port

import "context"

type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type TextRecognizer interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}
