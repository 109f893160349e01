package openaichat

import (
	"errors"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// newClient builds an OpenAI client whose requests are sent through transport.
// Authentication is the transport's job, so SDK credentials are stripped and
// SDK retries are disabled.
func newClient(baseURL string, transport http.RoundTripper) (*openai.Client, error) {
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	if baseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	client := openai.NewClient(
		option.WithBaseURL(baseURL),
		option.WithHTTPClient(&http.Client{Transport: transport}),
		option.WithMaxRetries(0),
		option.WithHeaderDel("authorization"),
	)
	return &client, nil
}
