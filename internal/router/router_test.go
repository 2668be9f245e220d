package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/errors"
)

func TestRouter_KeywordScoring(t *testing.T) {
	r := NewRouter()
	r.Register(Service{ID: "weather", Keywords: []string{"weather", "forecast", "rain"}})
	r.Register(Service{ID: "stocks", Keywords: []string{"stock", "price", "market"}})

	assert.Equal(t, "weather", r.RouteByKeyword("What is the weather forecast for tomorrow?"))
	assert.Equal(t, "stocks", r.RouteByKeyword("current stock market price"))
	assert.Equal(t, "", r.RouteByKeyword("tell me a joke"), "zero matches route nowhere")
}

func TestRouter_KeywordTieGoesToFirstRegistered(t *testing.T) {
	r := NewRouter()
	r.Register(Service{ID: "first", Keywords: []string{"shared"}})
	r.Register(Service{ID: "second", Keywords: []string{"shared"}})

	assert.Equal(t, "first", r.RouteByKeyword("a shared keyword"))
}

func TestRouter_KeywordCaseInsensitive(t *testing.T) {
	r := NewRouter()
	r.Register(Service{ID: "svc", Keywords: []string{"Kubernetes"}})
	assert.Equal(t, "svc", r.RouteByKeyword("KUBERNETES cluster is down"))
}

func TestRouter_PropertyRouting(t *testing.T) {
	r := NewRouter()
	r.Register(Service{ID: "eu-fast", Properties: map[string]any{"region": "eu", "tier": "fast", "priority": 1}})
	r.Register(Service{ID: "eu-slow", Properties: map[string]any{"region": "eu", "tier": "slow"}})
	r.Register(Service{ID: "us", Properties: map[string]any{"region": "us", "tier": "fast"}})

	assert.Equal(t, "eu-slow", r.RouteByProperties(map[string]any{"region": "eu", "tier": "slow"}))
	assert.Equal(t, "", r.RouteByProperties(map[string]any{"region": "apac"}))
}

func TestRouter_PropertyPriorityBreaksTies(t *testing.T) {
	r := NewRouter()
	r.Register(Service{ID: "low", Properties: map[string]any{"region": "eu", "priority": 1}})
	r.Register(Service{ID: "high", Properties: map[string]any{"region": "eu", "priority": 9}})

	assert.Equal(t, "high", r.RouteByProperties(map[string]any{"region": "eu"}))
}

func TestRouter_GetServicesWithProperty(t *testing.T) {
	r := NewRouter()
	r.Register(Service{ID: "a", Properties: map[string]any{"lang": "go"}})
	r.Register(Service{ID: "b", Properties: map[string]any{"lang": "rust"}})
	r.Register(Service{ID: "c", Properties: map[string]any{"lang": "go"}})

	assert.Equal(t, []string{"a", "c"}, r.GetServicesWithProperty("lang", "go"))
}

func TestRouter_Unregister(t *testing.T) {
	r := NewRouter()
	r.Register(Service{ID: "a", Keywords: []string{"x"}})
	r.Register(Service{ID: "b", Keywords: []string{"x"}})
	r.Unregister("a")

	assert.Equal(t, "b", r.RouteByKeyword("x marks the spot"))
	assert.Equal(t, []string{"b"}, r.Services())
}

func TestBalancer_WeightedDistribution(t *testing.T) {
	b := NewBalancer()
	b.RegisterService("heavy", 3.0)
	b.RegisterService("light", 1.0)

	counts := map[string]int{}
	for i := 0; i < 400; i++ {
		counts[b.GetNextService()]++
	}
	assert.Equal(t, 300, counts["heavy"])
	assert.Equal(t, 100, counts["light"])
}

func TestBalancer_EmptyReturnsBlank(t *testing.T) {
	b := NewBalancer()
	assert.Equal(t, "", b.GetNextService())
}

func TestBalancer_UnregisterKeepsRotationValid(t *testing.T) {
	b := NewBalancer()
	b.RegisterService("a", 1.0)
	b.RegisterService("b", 1.0)

	// Interleave picks with removal; picks after removal must never return
	// the removed service.
	b.GetNextService()
	b.UnregisterService("a")
	for i := 0; i < 10; i++ {
		assert.Equal(t, "b", b.GetNextService())
	}

	b.UnregisterService("b")
	assert.Equal(t, "", b.GetNextService())
	assert.Zero(t, b.Len())
}

func TestPool_IdleReuse(t *testing.T) {
	p := NewPool(2)
	created := 0
	require.NoError(t, p.RegisterService("svc", func(ctx context.Context) (any, error) {
		created++
		return created, nil
	}))
	ctx := context.Background()

	a, err := p.GetService(ctx, "svc", time.Second)
	require.NoError(t, err)
	require.NoError(t, p.ReleaseService("svc", a))

	b, err := p.GetService(ctx, "svc", time.Second)
	require.NoError(t, err)
	assert.Equal(t, a, b, "idle instance is reused")
	assert.Equal(t, 1, created)
}

func TestPool_CreatesUpToLimit(t *testing.T) {
	p := NewPool(2)
	require.NoError(t, p.RegisterService("svc", func(ctx context.Context) (any, error) {
		return new(int), nil
	}))
	ctx := context.Background()

	_, err := p.GetService(ctx, "svc", time.Second)
	require.NoError(t, err)
	_, err = p.GetService(ctx, "svc", time.Second)
	require.NoError(t, err)

	inUse, idle, waiting := p.Stats("svc")
	assert.Equal(t, 2, inUse)
	assert.Zero(t, idle)
	assert.Zero(t, waiting)
}

func TestPool_ExhaustedTimesOut(t *testing.T) {
	p := NewPool(1)
	require.NoError(t, p.RegisterService("svc", func(ctx context.Context) (any, error) {
		return "instance", nil
	}))
	ctx := context.Background()

	_, err := p.GetService(ctx, "svc", time.Second)
	require.NoError(t, err)

	_, err = p.GetService(ctx, "svc", 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.IsTimeout(err))
}

func TestPool_ReleaseWakesOldestWaiter(t *testing.T) {
	p := NewPool(1)
	require.NoError(t, p.RegisterService("svc", func(ctx context.Context) (any, error) {
		return "the-instance", nil
	}))
	ctx := context.Background()

	held, err := p.GetService(ctx, "svc", time.Second)
	require.NoError(t, err)

	var wg sync.WaitGroup
	got := make(chan any, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		instance, err := p.GetService(ctx, "svc", 2*time.Second)
		if err == nil {
			got <- instance
		}
	}()

	// Let the waiter enqueue, then release.
	time.Sleep(50 * time.Millisecond)
	_, _, waiting := p.Stats("svc")
	assert.Equal(t, 1, waiting)

	require.NoError(t, p.ReleaseService("svc", held))
	wg.Wait()

	select {
	case instance := <-got:
		assert.Equal(t, "the-instance", instance)
	default:
		t.Fatal("waiter was not handed the released instance")
	}
}

func TestPool_TimeoutReleaseRaceKeepsCapacity(t *testing.T) {
	p := NewPool(1)
	require.NoError(t, p.RegisterService("svc", func(ctx context.Context) (any, error) {
		return "the-instance", nil
	}))
	ctx := context.Background()

	// Race a near-instant waiter timeout against the release. Whichever way
	// the race resolves, the instance must stay accounted for: a follow-up
	// acquire always succeeds.
	for i := 0; i < 200; i++ {
		held, err := p.GetService(ctx, "svc", time.Second)
		require.NoError(t, err)

		done := make(chan struct{})
		go func() {
			defer close(done)
			if instance, err := p.GetService(ctx, "svc", time.Microsecond); err == nil {
				_ = p.ReleaseService("svc", instance)
			}
		}()
		require.NoError(t, p.ReleaseService("svc", held))
		<-done

		recovered, err := p.GetService(ctx, "svc", 100*time.Millisecond)
		require.NoError(t, err, "iteration %d: pool capacity leaked", i)
		require.NoError(t, p.ReleaseService("svc", recovered))
	}
}

func TestPool_UnknownService(t *testing.T) {
	p := NewPool(1)
	_, err := p.GetService(context.Background(), "ghost", time.Second)
	assert.True(t, errors.IsNotFound(err))
	assert.True(t, errors.IsNotFound(p.ReleaseService("ghost", nil)))
}

func TestPool_FactoryErrorFreesSlot(t *testing.T) {
	p := NewPool(1)
	fail := true
	require.NoError(t, p.RegisterService("svc", func(ctx context.Context) (any, error) {
		if fail {
			return nil, errors.NetworkError("dial failed", 0, nil)
		}
		return "ok", nil
	}))
	ctx := context.Background()

	_, err := p.GetService(ctx, "svc", time.Second)
	require.Error(t, err)

	fail = false
	instance, err := p.GetService(ctx, "svc", time.Second)
	require.NoError(t, err, "failed creation must not leak pool capacity")
	assert.Equal(t, "ok", instance)
}
