package deepgram

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
)

const DefaultBaseURL = "https://api.deepgram.com/v1/"

type Client struct {
	client *resty.Client
	ctx    context.Context
}

type ClientOption func(*resty.Client)

// WithBaseURL points the client at another endpoint, e.g. a self-hosted Deepgram.
func WithBaseURL(url string) ClientOption {
	return func(c *resty.Client) {
		c.SetBaseURL(url)
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *resty.Client) {
		c.SetTimeout(timeout)
	}
}

func NewClient(ctx context.Context, apiKey string, options ...ClientOption) *Client {

	client := resty.New().
		SetBaseURL(DefaultBaseURL).
		SetHeader("Accept", "application/json").
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5)).
		SetTimeout(5 * time.Minute).
		SetAuthScheme("Token").
		SetAuthToken(apiKey)

	for _, option := range options {
		option(client)
	}

	return &Client{
		client: client,
		ctx:    ctx,
	}
}
