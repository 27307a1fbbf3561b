package investigation

import (
	"sort"
	"sync"
	"time"

	"github.com/argusstack/argus/internal/models"
)

// Registry tracks incidents by ID for the operational status surface. The
// orchestrator is the only writer once an incident is handed off.
type Registry struct {
	mu        sync.RWMutex
	incidents map[string]models.Incident
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{incidents: make(map[string]models.Incident)}
}

// Put registers or replaces an incident.
func (r *Registry) Put(incident models.Incident) {
	r.mu.Lock()
	r.incidents[incident.ID] = incident
	r.mu.Unlock()
}

// SetStatus updates an incident's status and reason, stamping ClosedAt on
// terminal transitions.
func (r *Registry) SetStatus(id string, status models.IncidentStatus, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	incident, ok := r.incidents[id]
	if !ok {
		return
	}
	incident.Status = status
	incident.StatusReason = reason
	if !status.Active() {
		now := time.Now().UTC()
		incident.ClosedAt = &now
	}
	r.incidents[id] = incident
}

// Get returns an incident by ID.
func (r *Registry) Get(id string) (models.Incident, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	incident, ok := r.incidents[id]
	return incident, ok
}

// List returns all incidents, newest first.
func (r *Registry) List() []models.Incident {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]models.Incident, 0, len(r.incidents))
	for _, incident := range r.incidents {
		list = append(list, incident)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].OpenedAt.After(list[j].OpenedAt)
	})
	return list
}
