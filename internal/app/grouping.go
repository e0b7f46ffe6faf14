package app

import "auth_expiry_notifier/internal/domain/registry"

// AuthGroup is the set of expiring auths owned by one resource, in input order.
type AuthGroup struct {
	ResourceID string
	Auths      []*registry.Auth
}

// GroupByResource partitions auths by ResourceID. Groups are returned in order of
// first appearance and keep the relative input order of their auths. An empty
// ResourceID is grouped like any other key.
func GroupByResource(auths []*registry.Auth) []AuthGroup {
	index := make(map[string]int)
	groups := make([]AuthGroup, 0)
	for _, a := range auths {
		i, ok := index[a.ResourceID]
		if !ok {
			i = len(groups)
			index[a.ResourceID] = i
			groups = append(groups, AuthGroup{ResourceID: a.ResourceID})
		}
		groups[i].Auths = append(groups[i].Auths, a)
	}
	return groups
}
