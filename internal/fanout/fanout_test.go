package fanout

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/errors"
)

func fixed(text string, meta map[string]any) Handler {
	return func(ctx context.Context, query string) (Response, error) {
		return Response{Text: text, Metadata: meta}, nil
	}
}

func failing() Handler {
	return func(ctx context.Context, query string) (Response, error) {
		return Response{}, errors.NetworkError("unreachable", 0, nil)
	}
}

func TestFanOut_First(t *testing.T) {
	a := New(nil)
	resp, err := a.FanOut(context.Background(), "q", map[string]Handler{
		"b-second": fixed("from b", nil),
		"a-first":  fixed("from a", nil),
	}, StrategyFirst)
	require.NoError(t, err)
	assert.Equal(t, "a-first", resp.ServiceID, "earliest in fan-out order wins")
	assert.Equal(t, "from a", resp.Text)
}

func TestFanOut_ShortestAndLongest(t *testing.T) {
	handlers := map[string]Handler{
		"terse":   fixed("ok", nil),
		"verbose": fixed("a very long considered response", nil),
	}
	a := New(nil)

	resp, err := a.FanOut(context.Background(), "q", handlers, StrategyShortest)
	require.NoError(t, err)
	assert.Equal(t, "terse", resp.ServiceID)

	resp, err = a.FanOut(context.Background(), "q", handlers, StrategyLongest)
	require.NoError(t, err)
	assert.Equal(t, "verbose", resp.ServiceID)
}

func TestFanOut_Confidence(t *testing.T) {
	a := New(nil)
	resp, err := a.FanOut(context.Background(), "q", map[string]Handler{
		"unsure":  fixed("maybe", map[string]any{"confidence": 0.3}),
		"sure":    fixed("definitely", map[string]any{"confidence": 0.9}),
		"unrated": fixed("who knows", nil), // missing confidence counts as 0
	}, StrategyConfidence)
	require.NoError(t, err)
	assert.Equal(t, "sure", resp.ServiceID)
}

func TestFanOut_MergeUnionsMetadata(t *testing.T) {
	a := New(nil)
	resp, err := a.FanOut(context.Background(), "q", map[string]Handler{
		"x": fixed("part one", map[string]any{"from_x": true}),
		"y": fixed("part two", map[string]any{"from_y": true}),
	}, StrategyMerge)
	require.NoError(t, err)

	assert.Equal(t, "merged", resp.ServiceID)
	assert.Contains(t, resp.Text, "part one")
	assert.Contains(t, resp.Text, "part two")
	assert.Contains(t, resp.Text, "---")
	assert.Equal(t, true, resp.Metadata["from_x"])
	assert.Equal(t, true, resp.Metadata["from_y"])
}

func TestFanOut_FailuresAreAbsent(t *testing.T) {
	a := New(nil)
	resp, err := a.FanOut(context.Background(), "q", map[string]Handler{
		"dead":  failing(),
		"alive": fixed("still here", nil),
	}, StrategyLongest)
	require.NoError(t, err)
	assert.Equal(t, "alive", resp.ServiceID)
}

func TestFanOut_AllFailuresYieldEmptyResponse(t *testing.T) {
	a := New(nil)
	resp, err := a.FanOut(context.Background(), "q", map[string]Handler{
		"dead-1": failing(),
		"dead-2": failing(),
	}, StrategyMerge)
	require.NoError(t, err, "total failure degrades to an empty response")
	assert.Empty(t, resp.Text)
	assert.Empty(t, resp.ServiceID)
}

func TestAggregate_UnknownStrategy(t *testing.T) {
	_, err := Aggregate([]Response{{Text: "x"}}, Strategy("bogus"))
	assert.True(t, errors.IsValidation(err))
}
