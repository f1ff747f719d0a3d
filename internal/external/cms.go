package external

import (
	"context"
	"time"
)

// Article is the unit of content pushed to the target CMS.
type Article struct {
	Title            string `json:"title"`
	Body             string `json:"body"`
	FeaturedImageURL string `json:"featured_image_url,omitempty"`
}

// Publisher pushes finished articles to an external CMS.
type Publisher interface {
	Publish(ctx context.Context, a Article) (url string, err error)
}

// CMSClient talks to the CMS publish endpoint over HTTP.
type CMSClient struct {
	http httpClient
}

var _ Publisher = (*CMSClient)(nil)

func NewCMSClient(baseURL, token string, timeout time.Duration) *CMSClient {
	return &CMSClient{http: newHTTPClient(baseURL, token, timeout)}
}

func (c *CMSClient) Publish(ctx context.Context, a Article) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	if err := c.http.postJSON(ctx, "/v1/posts", a, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}
