package listview

import (
	"sync"

	"smartvalue/internal/domain"
)

// Registry keeps one Controller per user.
type Registry struct {
	mu    sync.Mutex
	views map[string]*Controller
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{views: make(map[string]*Controller)}
}

// Get returns the user's controller, creating it on first use.
func (r *Registry) Get(user string) *Controller {
	if user == "" {
		user = domain.GuestUser
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.views[user]
	if !ok {
		c = NewController()
		r.views[user] = c
	}
	return c
}

// Drop forgets the user's controller.
func (r *Registry) Drop(user string) {
	r.mu.Lock()
	delete(r.views, user)
	r.mu.Unlock()
}
