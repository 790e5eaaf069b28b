package llmclient_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convokehq/convoke/pkg/invoker"
	"github.com/convokehq/convoke/pkg/llmclient"
	"github.com/convokehq/convoke/pkg/messages"
)

// sliceStream replays fixed responses, then io.EOF.
type sliceStream struct {
	responses []*messages.Response
	closed    bool
}

func (s *sliceStream) Recv() (*messages.Response, error) {
	if len(s.responses) == 0 {
		return nil, io.EOF
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	return r, nil
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}

// streamingInvoker scripts stream-open outcomes.
type streamingInvoker struct {
	mu       sync.Mutex
	openErrs []error
	stream   *sliceStream
	opens    int
}

func (s *streamingInvoker) FullModelID() string { return "fake:streaming" }

func (s *streamingInvoker) Generate(context.Context, invoker.Request) (*messages.Response, error) {
	return nil, errors.New("unary not scripted")
}

func (s *streamingInvoker) GenerateStream(context.Context, invoker.Request) (invoker.ResponseStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.opens++
	if len(s.openErrs) > 0 {
		err := s.openErrs[0]
		s.openErrs = s.openErrs[1:]
		return nil, err
	}
	return s.stream, nil
}

func TestClientGenerateStream(t *testing.T) {
	inv := &streamingInvoker{stream: &sliceStream{responses: []*messages.Response{
		textResponse(messages.FinishReasonUnspecified, "Hel"),
		textResponse(messages.FinishReasonStop, "lo"),
	}}}
	c := llmclient.New(inv)

	stream, err := c.GenerateStream(context.Background(), messages.FromText("hi"))
	require.NoError(t, err)
	defer stream.Close()

	var got []string
	for {
		resp, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, resp.Text())
	}

	assert.Equal(t, []string{"Hel", "lo"}, got)
	require.NoError(t, stream.Close())
	assert.True(t, inv.stream.closed)
}

func TestClientGenerateStreamUnsupported(t *testing.T) {
	inv := newScriptedInvoker()
	c := llmclient.New(inv)

	_, err := c.GenerateStream(context.Background(), messages.FromText("hi"))

	var fe *invoker.FatalError
	require.ErrorAs(t, err, &fe)
	assert.ErrorIs(t, err, llmclient.ErrStreamingUnsupported)
}

func TestClientGenerateStreamRetriesOpen(t *testing.T) {
	inv := &streamingInvoker{
		openErrs: []error{&invoker.TransientError{Provider: "fake", StatusCode: 503, Err: errors.New("busy")}},
		stream:   &sliceStream{responses: []*messages.Response{textResponse(messages.FinishReasonStop, "ok")}},
	}
	c := llmclient.New(inv,
		llmclient.WithRetryConfig(llmclient.RetryConfig{Attempts: 2, Delay: time.Millisecond}),
		llmclient.WithRetryTimer(newInstantTimer()),
	)

	stream, err := c.GenerateStream(context.Background(), messages.FromText("hi"))

	require.NoError(t, err)
	defer stream.Close()
	assert.Equal(t, 2, inv.opens)
}
