package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Remote calls a model server that answers POST {"text": ...} with {"label", "scores"}.
type Remote struct {
	url    string
	client *http.Client
}

func NewRemote(url string, timeout time.Duration) *Remote {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Remote{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type remoteResponse struct {
	Label  string             `json:"label"`
	Scores map[string]float64 `json:"scores"`
}

func (c *Remote) Classify(ctx context.Context, text string) (Prediction, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return Prediction{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Prediction{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Prediction{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var out remoteResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return Prediction{}, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	if strings.TrimSpace(out.Label) == "" {
		return Prediction{}, fmt.Errorf("%w: empty label", ErrUnavailable)
	}

	probs := make(map[string]float64, len(out.Scores))
	for label, p := range out.Scores {
		probs[label] = round3(p)
	}
	return Prediction{
		Specialty:     out.Label,
		Reasoning:     fmt.Sprintf("Based on the symptom description, this was most closely associated with '%s' cases in training.", out.Label),
		Probabilities: probs,
	}, nil
}
