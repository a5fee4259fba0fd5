package docshot

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/docshot/docshot/internal/sink"
)

// Sink receives target results and cycle summaries.
type Sink = sink.Sink

// Callback signatures for NewCallbackSink.
type (
	ResultFunc = sink.ResultFunc
	CycleFunc  = sink.CycleFunc
)

// NewStdoutSink writes JSON lines to w (os.Stdout when nil).
func NewStdoutSink(w io.Writer, changesOnly bool) Sink {
	return sink.NewStdout(w, changesOnly)
}

// NewWebhookSink posts changed and failed results plus cycle summaries to url.
// A zero timeout keeps the 10s default.
func NewWebhookSink(url string, timeout time.Duration, logger *slog.Logger) Sink {
	opts := []sink.WebhookOption{sink.WithWebhookLogger(logger)}
	if timeout > 0 {
		opts = append(opts, sink.WithWebhookClient(&http.Client{Timeout: timeout}))
	}
	return sink.NewWebhook(url, opts...)
}

// NewCallbackSink delivers results to in-process functions. Either may be nil.
func NewCallbackSink(onResult ResultFunc, onCycle CycleFunc) Sink {
	return sink.NewCallback(onResult, onCycle)
}

func buildSinks(cfgs []SinkConfig, logger *slog.Logger) ([]Sink, error) {
	var out []Sink
	for i, sc := range cfgs {
		switch sc.Type {
		case "stdout":
			out = append(out, NewStdoutSink(nil, sc.ChangesOnly))
		case "webhook":
			out = append(out, NewWebhookSink(sc.URL, sc.Timeout, logger))
		default:
			return nil, fmt.Errorf("%w: sinks[%d]: unknown type %q", ErrInvalidConfig, i, sc.Type)
		}
	}
	return out, nil
}
