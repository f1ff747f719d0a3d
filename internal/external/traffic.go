package external

import (
	"context"
	"time"
)

// TrafficEstimate is a competitor domain's estimated reach.
type TrafficEstimate struct {
	MonthlyTraffic int64    `json:"monthly_traffic"`
	TopKeywords    []string `json:"top_keywords"`
}

// TrafficEstimator estimates competitor traffic.
type TrafficEstimator interface {
	Estimate(ctx context.Context, domain string) (TrafficEstimate, error)
}

// TrafficClient talks to the traffic estimation service over HTTP.
type TrafficClient struct {
	http httpClient
}

var _ TrafficEstimator = (*TrafficClient)(nil)

func NewTrafficClient(baseURL string, timeout time.Duration) *TrafficClient {
	return &TrafficClient{http: newHTTPClient(baseURL, "", timeout)}
}

func (c *TrafficClient) Estimate(ctx context.Context, domain string) (TrafficEstimate, error) {
	var out TrafficEstimate
	err := c.http.postJSON(ctx, "/v1/traffic/estimate", map[string]string{"domain": domain}, &out)
	return out, err
}
