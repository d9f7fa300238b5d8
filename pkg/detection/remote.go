package detection

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/teslashibe/go-lumina/internal/httpc"
	"github.com/teslashibe/go-lumina/pkg/capture"
)

// Remote posts each frame as a JPEG to an HTTP inference service and reads
// back predictions as JSON:
//
//	{"predictions": [{"label": "cup", "confidence": 0.8, "x": 0.1, "y": 0.2, "w": 0.3, "h": 0.4}]}
type Remote struct {
	url     string
	name    string
	apiKey  string
	quality int
	minConf float64
	client  *http.Client
}

// RemoteOption configures a Remote model.
type RemoteOption func(*Remote)

// WithRemoteName sets the model name reported on predictions.
func WithRemoteName(name string) RemoteOption {
	return func(r *Remote) { r.name = name }
}

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) RemoteOption {
	return func(r *Remote) { r.apiKey = key }
}

// WithMinConfidence drops predictions scored below c.
func WithMinConfidence(c float64) RemoteOption {
	return func(r *Remote) { r.minConf = c }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) RemoteOption {
	return func(r *Remote) { r.client = httpc.NewClient(d) }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *Remote) { r.client = c }
}

// NewRemote creates a model that calls url.
func NewRemote(url string, opts ...RemoteOption) *Remote {
	r := &Remote{
		url:     url,
		name:    "remote",
		quality: 85,
		client:  httpc.NewClient(10 * time.Second),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type remoteResponse struct {
	Predictions []capture.Prediction `json:"predictions"`
	Error       string               `json:"error,omitempty"`
}

// Name implements capture.Model.
func (r *Remote) Name() string { return r.name }

// Infer implements capture.Model.
func (r *Remote) Infer(ctx context.Context, f *capture.Frame) ([]capture.Prediction, error) {
	body, err := f.JPEG(r.quality)
	if err != nil {
		return nil, fmt.Errorf("detection: encode frame: %w", err)
	}

	headers := map[string]string{
		"X-Frame-Seq":    strconv.FormatUint(f.Seq, 10),
		"X-Frame-Width":  strconv.Itoa(f.Width),
		"X-Frame-Height": strconv.Itoa(f.Height),
	}
	if r.apiKey != "" {
		headers["Authorization"] = "Bearer " + r.apiKey
	}

	var resp remoteResponse
	if err := httpc.Post(ctx, r.client, r.url, "image/jpeg", body, headers, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("detection: remote error: %s", resp.Error)
	}
	return Filter(resp.Predictions, r.minConf), nil
}
