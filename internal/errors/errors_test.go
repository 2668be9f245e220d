package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	cause := stderrors.New("underlying")
	err := New(ErrCodeTimeout, "operation timed out", cause)

	assert.Equal(t, ErrCodeTimeout, err.Code)
	assert.Equal(t, KindTimeout, err.Kind)
	assert.True(t, err.Retryable)
	assert.Equal(t, cause, err.Unwrap())
	assert.Contains(t, err.Error(), ErrCodeTimeout)
}

func TestIs_MatchesByCode(t *testing.T) {
	a := New(ErrCodeNotFound, "document missing", nil)
	b := New(ErrCodeNotFound, "different message", nil)

	assert.True(t, stderrors.Is(a, b))
	assert.False(t, stderrors.Is(a, New(ErrCodeTimeout, "x", nil)))
}

func TestTypedConstructors(t *testing.T) {
	tests := []struct {
		name string
		err  *LoomError
		kind Kind
	}{
		{"network", NetworkError("conn refused", 503, nil), KindNetwork},
		{"auth", AuthenticationError("bad key", nil), KindAuthentication},
		{"permission", PermissionError("denied", nil), KindPermission},
		{"validation", ValidationError("bad dimension", "embedding"), KindValidation},
		{"not_found", NotFoundError("document", "doc_1"), KindNotFound},
		{"timeout", TimeoutError("slow", 2*time.Second), KindTimeout},
		{"provider", ProviderError("openai", "boom", nil), KindProvider},
		{"state", StateError("store closed"), KindState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.err.Kind)
		})
	}
}

func TestValidationError_Field(t *testing.T) {
	err := ValidationError("must be positive", "chunk_size")
	assert.Equal(t, "chunk_size", err.Detail(DetailField))
}

func TestNotFoundError_Details(t *testing.T) {
	err := NotFoundError("collection", "col_9")
	assert.Equal(t, "collection", err.Detail(DetailResource))
	assert.Equal(t, "col_9", err.Detail(DetailResourceID))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NetworkError("down", 0, nil)))
	assert.False(t, IsRetryable(ValidationError("bad", "")))
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(stderrors.New("plain")))
}

func TestWrap_Nil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestClassify_Passthrough(t *testing.T) {
	orig := TimeoutError("slow call", time.Second)
	assert.Same(t, orig, Classify(orig))
}

func TestClassify_StandardKinds(t *testing.T) {
	le := Classify(fmt.Errorf("invalid argument: limit"))
	assert.Equal(t, KindValidation, le.Kind)

	le = Classify(fmt.Errorf("invalid state: pool drained"))
	assert.Equal(t, KindState, le.Kind)

	le = Classify(fmt.Errorf("some surprise"))
	assert.Equal(t, ErrCodeInternal, le.Code)
}

func TestMapProviderError(t *testing.T) {
	le := MapProviderError("anthropic", stderrors.New("401: invalid API key provided"))
	assert.Equal(t, KindAuthentication, le.Kind)
	assert.Equal(t, "anthropic", le.Detail(DetailProvider))

	le = MapProviderError("openai", stderrors.New("429: rate limit exceeded"))
	assert.Equal(t, ErrCodeRateLimited, le.Code)
	assert.Equal(t, "openai", le.Detail(DetailProvider))

	le = MapProviderError("openai", stderrors.New("request timeout after 30s"))
	assert.Equal(t, KindTimeout, le.Kind)

	le = MapProviderError("gemini", stderrors.New("weird internal thing"))
	assert.Equal(t, KindProvider, le.Kind)
	assert.Equal(t, "gemini", le.Detail(DetailProvider))
}

func TestHandler_Dispatch(t *testing.T) {
	h := NewHandler(nil)

	var got []*LoomError
	h.OnError(func(le *LoomError) { got = append(got, le) })

	le := h.Handle(stderrors.New("boom"))
	require.NotNil(t, le)
	require.Len(t, got, 1)
	assert.Equal(t, le, got[0])

	assert.Nil(t, h.Handle(nil))
	assert.Len(t, got, 1)
}

func TestHandler_CallbackPanicRecovered(t *testing.T) {
	h := NewHandler(nil)
	h.OnError(func(*LoomError) { panic("observer bug") })

	var called bool
	h.OnError(func(*LoomError) { called = true })

	assert.NotPanics(t, func() { h.Handle(stderrors.New("boom")) })
	assert.True(t, called)
}
