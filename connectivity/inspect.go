package connectivity

import (
	"slices"
	"strings"
)

// ServiceInfo is the admin view of a service: where its calls currently
// go. Local means the built-in provider client registered in process.
type ServiceInfo struct {
	Name     string `json:"name"`
	Strategy string `json:"strategy"`
	Endpoint string `json:"endpoint,omitempty"`
	HasLocal bool   `json:"has_local"`
	Disabled bool   `json:"disabled"`
}

// info must be called with mu held.
func (r *Router) info(name string) (ServiceInfo, bool) {
	rt, hasRoute := r.routes[name]
	_, hasLocal := r.local[name]
	if !hasRoute && !hasLocal {
		return ServiceInfo{}, false
	}
	si := ServiceInfo{Name: name, Strategy: StrategyLocal, HasLocal: hasLocal}
	if hasRoute {
		si.Strategy, si.Endpoint = rt.Strategy, rt.Endpoint
	}
	// A "local" row without a registered handler fails every call.
	si.Disabled = si.Strategy == StrategyNoop || (si.Strategy == StrategyLocal && !hasLocal)
	return si, true
}

// Inspect describes one service; ok is false when it is neither routed
// nor registered.
func (r *Router) Inspect(service string) (ServiceInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.info(service)
}

// Services describes every routed or registered service, sorted by name.
func (r *Router) Services() []ServiceInfo {
	r.mu.RLock()
	names := make([]string, 0, len(r.routes)+len(r.local))
	for n := range r.routes {
		names = append(names, n)
	}
	for n := range r.local {
		if _, routed := r.routes[n]; !routed {
			names = append(names, n)
		}
	}
	out := make([]ServiceInfo, 0, len(names))
	for _, n := range names {
		if si, ok := r.info(n); ok {
			out = append(out, si)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b ServiceInfo) int { return strings.Compare(a.Name, b.Name) })
	return out
}
