package external

import (
	"context"
	"time"
)

// KeywordMetrics is the analysis result for a single search term.
type KeywordMetrics struct {
	Volume     int    `json:"volume"`
	Difficulty int    `json:"difficulty"`
	Intent     string `json:"intent"`
}

// BriefContent is a generated content brief plus its article body.
type BriefContent struct {
	Title   string `json:"title"`
	Outline string `json:"outline"`
	Body    string `json:"body"`
}

// Generator is the AI content backend contract: submit a payload, eventually
// get a result. Its internals are out of scope.
type Generator interface {
	AnalyzeKeyword(ctx context.Context, term string) (KeywordMetrics, error)
	GenerateBrief(ctx context.Context, term string) (BriefContent, error)
}

// GenerationClient talks to the generation backend over HTTP.
type GenerationClient struct {
	http httpClient
}

var _ Generator = (*GenerationClient)(nil)

// NewGenerationClient builds a client for the configured backend.
func NewGenerationClient(baseURL, apiKey string, timeout time.Duration) *GenerationClient {
	return &GenerationClient{http: newHTTPClient(baseURL, apiKey, timeout)}
}

func (c *GenerationClient) AnalyzeKeyword(ctx context.Context, term string) (KeywordMetrics, error) {
	var out KeywordMetrics
	err := c.http.postJSON(ctx, "/v1/keywords/analyze", map[string]string{"term": term}, &out)
	return out, err
}

func (c *GenerationClient) GenerateBrief(ctx context.Context, term string) (BriefContent, error) {
	var out BriefContent
	err := c.http.postJSON(ctx, "/v1/briefs/generate", map[string]string{"term": term}, &out)
	return out, err
}
