// Package router routes requests to registered services by keyword or
// property matching, balances load across them, and pools client instances.
package router

import (
	"strings"
	"sync"
)

// Service describes one registered routing target.
type Service struct {
	ID         string
	Keywords   []string
	Properties map[string]any
}

// Router selects services for requests. Registration order matters: keyword
// ties resolve to the earliest registered service.
type Router struct {
	mu       sync.RWMutex
	services []Service
	byID     map[string]int
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{byID: make(map[string]int)}
}

// Register adds or replaces a service. Replacing keeps the original
// registration position.
func (r *Router) Register(svc Service) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if idx, ok := r.byID[svc.ID]; ok {
		r.services[idx] = svc
		return
	}
	r.byID[svc.ID] = len(r.services)
	r.services = append(r.services, svc)
}

// Unregister removes a service by id.
func (r *Router) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.byID[id]
	if !ok {
		return
	}
	r.services = append(r.services[:idx], r.services[idx+1:]...)
	delete(r.byID, id)
	for i := idx; i < len(r.services); i++ {
		r.byID[r.services[i].ID] = i
	}
}

// RouteByKeyword scores each service by how many of its keywords appear in
// the request text (case-insensitive substring). The highest score wins;
// ties go to the earliest registered service; zero matches return "".
func (r *Router) RouteByKeyword(request string) string {
	text := strings.ToLower(request)

	r.mu.RLock()
	defer r.mu.RUnlock()

	bestID := ""
	bestScore := 0
	for _, svc := range r.services {
		score := 0
		for _, kw := range svc.Keywords {
			if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
				score++
			}
		}
		if score > bestScore {
			bestID, bestScore = svc.ID, score
		}
	}
	return bestID
}

// RouteByProperties returns the id of a service whose properties match
// every filter key by equality. When several match, the one with the
// highest numeric "priority" property wins; otherwise the earliest
// registered. No match returns "".
func (r *Router) RouteByProperties(filters map[string]any) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bestID := ""
	bestPriority := 0.0
	found := false
	for _, svc := range r.services {
		if !propertiesMatch(svc.Properties, filters) {
			continue
		}
		priority := numericProperty(svc.Properties, "priority")
		if !found || priority > bestPriority {
			bestID, bestPriority, found = svc.ID, priority, true
		}
	}
	return bestID
}

// GetServicesWithProperty returns the ids of every service whose property
// k equals v, in registration order.
func (r *Router) GetServicesWithProperty(k string, v any) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for _, svc := range r.services {
		if got, ok := svc.Properties[k]; ok && got == v {
			out = append(out, svc.ID)
		}
	}
	return out
}

// Services returns a snapshot of registered service ids in order.
func (r *Router) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.services))
	for i, svc := range r.services {
		out[i] = svc.ID
	}
	return out
}

func propertiesMatch(props, filters map[string]any) bool {
	for k, want := range filters {
		got, ok := props[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

func numericProperty(props map[string]any, key string) float64 {
	switch v := props[key].(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	}
	return 0
}
