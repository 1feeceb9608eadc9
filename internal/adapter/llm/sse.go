package llm

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"agentkit/internal/domain"
)

// maxEventLine bounds one SSE line. Deltas are small; a megabyte leaves room
// for chunked tool-call arguments.
const maxEventLine = 1 << 20

var (
	dataPrefix = []byte("data: ")
	doneMarker = []byte("[DONE]")
)

// decodeEventStream turns a provider's SSE response body into StreamDeltas.
// decode translates one data payload into a delta (nil delta skips the
// line). The channel closes when the stream ends or ctx is cancelled; the
// body is always closed.
func decodeEventStream(ctx context.Context, body io.ReadCloser, decode func(data []byte) (*domain.StreamDelta, error)) <-chan domain.StreamDelta {
	out := make(chan domain.StreamDelta, 16)
	go func() {
		defer close(out)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 64*1024), maxEventLine)

		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}

			line := scanner.Bytes()
			if !bytes.HasPrefix(line, dataPrefix) {
				// Blank keepalives, comments and field lines we don't use.
				continue
			}
			payload := bytes.TrimPrefix(line, dataPrefix)

			if bytes.Equal(payload, doneMarker) {
				out <- domain.StreamDelta{Done: true}
				return
			}

			delta, err := decode(payload)
			if err != nil || delta == nil {
				// A garbled line is dropped rather than killing the stream.
				continue
			}

			select {
			case out <- *delta:
			case <-ctx.Done():
				return
			}
			if delta.Done {
				return
			}
		}

		// An I/O error mid-stream terminates the consumer with a typed
		// failure; a truncated response must not pass for a complete one.
		if err := scanner.Err(); err != nil {
			select {
			case out <- domain.StreamDelta{
				Done: true,
				Err:  fmt.Errorf("%w: stream read: %v", domain.ErrProviderError, err),
			}:
			case <-ctx.Done():
			}
		}
	}()
	return out
}
