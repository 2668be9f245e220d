// Package fanout broadcasts a query to several services in parallel and
// aggregates their responses under a selectable strategy.
package fanout

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/loomworks/loom/internal/errors"
)

// Strategy selects how collected responses are aggregated.
type Strategy string

const (
	// StrategyFirst returns the response from the earliest service in the
	// fan-out order that answered.
	StrategyFirst Strategy = "first"
	// StrategyShortest returns the response with the shortest text.
	StrategyShortest Strategy = "shortest"
	// StrategyLongest returns the response with the longest text.
	StrategyLongest Strategy = "longest"
	// StrategyConfidence returns the response with the highest
	// metadata confidence (missing confidence counts as 0).
	StrategyConfidence Strategy = "confidence"
	// StrategyMerge concatenates all responses and unions their metadata.
	StrategyMerge Strategy = "merge"
)

// Response is one service's answer to a fanned-out query.
type Response struct {
	ServiceID string
	Text      string
	Metadata  map[string]any
}

// Handler answers a query for one service.
type Handler func(ctx context.Context, query string) (Response, error)

// Aggregator fans a query out to named handlers and aggregates the
// responses. Individual failures drop that service's entry; aggregation
// over zero responses yields an explicit empty response.
type Aggregator struct {
	logger *slog.Logger
}

// New creates an Aggregator.
func New(logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{logger: logger}
}

// FanOut invokes every handler in parallel and aggregates the successful
// responses with the strategy.
func (a *Aggregator) FanOut(ctx context.Context, query string, handlers map[string]Handler, strategy Strategy) (Response, error) {
	ids := make([]string, 0, len(handlers))
	for id := range handlers {
		ids = append(ids, id)
	}
	// Deterministic fan-out order for the "first" strategy.
	sort.Strings(ids)

	responses := make([]*Response, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		i, id := i, id
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := handlers[id](ctx, query)
			if err != nil {
				a.logger.Warn("fan-out service failed", "service_id", id, "error", err)
				return
			}
			resp.ServiceID = id
			responses[i] = &resp
		}()
	}
	wg.Wait()

	collected := make([]Response, 0, len(responses))
	for _, r := range responses {
		if r != nil {
			collected = append(collected, *r)
		}
	}
	return Aggregate(collected, strategy)
}

// Aggregate folds responses under the strategy. An empty input returns an
// empty response, never an error, so a total fan-out failure degrades
// gracefully.
func Aggregate(responses []Response, strategy Strategy) (Response, error) {
	if len(responses) == 0 {
		return Response{}, nil
	}

	switch strategy {
	case StrategyFirst, "":
		return responses[0], nil

	case StrategyShortest:
		best := responses[0]
		for _, r := range responses[1:] {
			if len(r.Text) < len(best.Text) {
				best = r
			}
		}
		return best, nil

	case StrategyLongest:
		best := responses[0]
		for _, r := range responses[1:] {
			if len(r.Text) > len(best.Text) {
				best = r
			}
		}
		return best, nil

	case StrategyConfidence:
		best := responses[0]
		bestConf := confidence(best)
		for _, r := range responses[1:] {
			if c := confidence(r); c > bestConf {
				best, bestConf = r, c
			}
		}
		return best, nil

	case StrategyMerge:
		parts := make([]string, 0, len(responses))
		metadata := make(map[string]any)
		for _, r := range responses {
			parts = append(parts, r.Text)
			for k, v := range r.Metadata {
				metadata[k] = v
			}
		}
		return Response{
			ServiceID: "merged",
			Text:      strings.Join(parts, "\n\n---\n\n"),
			Metadata:  metadata,
		}, nil

	default:
		return Response{}, errors.ValidationError("unknown aggregation strategy: "+string(strategy), "strategy")
	}
}

func confidence(r Response) float64 {
	switch v := r.Metadata["confidence"].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}
