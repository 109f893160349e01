package claudeadapter

import (
	"context"
	"iter"

	"github.com/florianilch/toolbridge/internal/claudestream"
	"github.com/florianilch/toolbridge/internal/toolify"
)

// Adapter defines the contract for serving client requests from a provider
// API.
//
// Type parameters:
//   - TRequest:  Client-specific request structure
//   - TResponse: Client-specific complete response
//   - TStream:   Handle of an open streaming response
type Adapter[TRequest, TResponse, TStream any] interface {
	// ProcessRequest calls the provider and returns the complete response.
	ProcessRequest(ctx context.Context, clientReq TRequest) (*TResponse, error)

	// ProcessStreamingRequest calls the provider streaming API. Provider
	// failures before the first chunk are returned as errors; later failures
	// surface through the stream.
	ProcessStreamingRequest(ctx context.Context, clientReq TRequest) (*TStream, error)

	// CountTokens estimates the input tokens the provider request would use.
	CountTokens(ctx context.Context, clientReq TRequest) (int, error)
}

// Stream is an open provider response translated into parser events.
type Stream struct {
	// Options seeds the translator for this response. Callers set the
	// aggregation interval.
	Options claudestream.Options
	// UpstreamModel is the model requested from the provider.
	UpstreamModel string
	// Events yields parser events, ending with End or an error. It must be
	// iterated exactly once; stopping early releases the provider call.
	Events iter.Seq2[toolify.Event, error]
}

// CreateMessageAdapter is the adapter serving the Claude Messages API.
type CreateMessageAdapter = Adapter[MessagesRequest, claudestream.Message, Stream]
