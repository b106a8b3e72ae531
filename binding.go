package kbus

import "github.com/pkg/errors"

// binding is one (socket, name, role) registration. Duplicate listener
// bindings are allowed and each counts separately for delivery.
type binding struct {
	socket  *Socket
	name    string
	replier bool
}

// bindingTable maps message names to interested sockets, in bind order.
// All access happens under the owning device's lock so that every send
// observes one consistent snapshot.
type bindingTable struct {
	bindings []*binding
}

func newBindingTable() *bindingTable {
	return &bindingTable{}
}

// add registers a binding. At most one replier binding may exist per
// binding name.
func (t *bindingTable) add(b *binding) error {
	if b.replier {
		for _, existing := range t.bindings {
			if existing.replier && existing.name == b.name {
				return errors.Wrapf(ErrAlreadyBound,
					"%q already has replier socket %d", b.name, existing.socket.ID())
			}
		}
	}
	t.bindings = append(t.bindings, b)
	return nil
}

// remove drops exactly one binding matching (socket, name, role).
func (t *bindingTable) remove(socket *Socket, name string, replier bool) error {
	for i, b := range t.bindings {
		if b.socket == socket && b.name == name && b.replier == replier {
			t.bindings = append(t.bindings[:i], t.bindings[i+1:]...)
			return nil
		}
	}
	return errors.Wrapf(ErrNotFound, "socket %d is not bound to %q", socket.ID(), name)
}

// removeSocket drops all bindings of a socket and returns them.
func (t *bindingTable) removeSocket(socket *Socket) []*binding {
	var removed, kept []*binding
	for _, b := range t.bindings {
		if b.socket == socket {
			removed = append(removed, b)
		} else {
			kept = append(kept, b)
		}
	}
	t.bindings = kept
	return removed
}

// findReplier returns the replier binding for a concrete message name, or
// nil. Among matching wildcard bindings the most specific one wins.
func (t *bindingTable) findReplier(name string) *binding {
	var best *binding
	bestPrefix, bestRank := -1, -1
	for _, b := range t.bindings {
		if !b.replier || !nameMatches(b.name, name) {
			continue
		}
		prefix, rank := bindingSpecificity(b.name)
		if prefix > bestPrefix || (prefix == bestPrefix && rank > bestRank) {
			best, bestPrefix, bestRank = b, prefix, rank
		}
	}
	return best
}

// listeners returns all listener bindings matching a concrete message
// name, in bind order.
func (t *bindingTable) listeners(name string) []*binding {
	var matched []*binding
	for _, b := range t.bindings {
		if !b.replier && nameMatches(b.name, name) {
			matched = append(matched, b)
		}
	}
	return matched
}
