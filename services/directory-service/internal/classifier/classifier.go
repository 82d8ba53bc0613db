// Package classifier maps a free-text symptom description to a medical specialty.
package classifier

import (
	"context"
	"errors"
	"log/slog"
	"math"
)

var ErrUnavailable = errors.New("classifier unavailable")

type Prediction struct {
	Specialty     string             `json:"specialty"`
	Reasoning     string             `json:"reasoning"`
	Probabilities map[string]float64 `json:"probabilities"`
}

type Classifier interface {
	Classify(ctx context.Context, text string) (Prediction, error)
}

// Fallback asks primary first and secondary when primary fails.
type Fallback struct {
	primary   Classifier
	secondary Classifier
	logger    *slog.Logger
}

func WithFallback(primary, secondary Classifier, logger *slog.Logger) *Fallback {
	return &Fallback{primary: primary, secondary: secondary, logger: logger}
}

func (f *Fallback) Classify(ctx context.Context, text string) (Prediction, error) {
	p, err := f.primary.Classify(ctx, text)
	if err == nil {
		return p, nil
	}
	if ctx.Err() != nil {
		return Prediction{}, ctx.Err()
	}
	if f.logger != nil {
		f.logger.Warn("classifier failed, using fallback", "err", err)
	}
	return f.secondary.Classify(ctx, text)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
