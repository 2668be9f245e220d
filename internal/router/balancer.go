package router

import (
	"sync"
)

// Balancer distributes picks across services by weighted round-robin using
// floating-point deficit counters: each pick adds every service's weight to
// its credit and selects the highest credit, then subtracts the total.
type Balancer struct {
	mu       sync.Mutex
	order    []string
	weights  map[string]float64
	credits  map[string]float64
}

// NewBalancer creates an empty balancer.
func NewBalancer() *Balancer {
	return &Balancer{
		weights: make(map[string]float64),
		credits: make(map[string]float64),
	}
}

// RegisterService adds a service with the given weight. Non-positive
// weights default to 1. Re-registering updates the weight.
func (b *Balancer) RegisterService(id string, weight float64) {
	if weight <= 0 {
		weight = 1.0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.weights[id]; !exists {
		b.order = append(b.order, id)
		b.credits[id] = 0
	}
	b.weights[id] = weight
}

// UnregisterService removes a service. Its accumulated credit disappears
// with it, so the cursor can never dangle on a removed service.
func (b *Balancer) UnregisterService(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.weights[id]; !exists {
		return
	}
	delete(b.weights, id)
	delete(b.credits, id)
	for i, sid := range b.order {
		if sid == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// GetNextService returns the next service id, or "" when none are
// registered. Over many picks, each service is chosen in proportion to its
// weight.
func (b *Balancer) GetNextService() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.order) == 0 {
		return ""
	}

	var total float64
	bestID := ""
	bestCredit := 0.0
	for _, id := range b.order {
		w := b.weights[id]
		b.credits[id] += w
		total += w
		if bestID == "" || b.credits[id] > bestCredit {
			bestID, bestCredit = id, b.credits[id]
		}
	}
	b.credits[bestID] -= total
	return bestID
}

// Len returns the number of registered services.
func (b *Balancer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}
