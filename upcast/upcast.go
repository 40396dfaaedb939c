// Package upcast implements the composable upcaster chain that
// transforms events from an older schema version into the current one.
package upcast

import (
	"fmt"

	"github.com/nullstream/eventstream/errcode"
	"github.com/nullstream/eventstream/event"
)

// Upcaster transforms one event into one or more equivalent events in a
// newer schema. Per spec.md's Open Question resolution, upcasters are
// 1->N only: CanUpcast/Upcast never consume more than a single input
// event and never merge multiple inputs into one output.
type Upcaster interface {
	CanUpcast(e event.Event) bool
	Upcast(e event.Event) ([]event.Event, error)
}

// Pipeline is an ordered sequence of upcasters applied to fixed point.
type Pipeline struct {
	upcasters []Upcaster
	// maxPassesPerVersion scales the fixed-point loop bound, which is
	// len(upcasters)*8 + 8 passes and multiplied by this value only when
	// it is greater than 1 (New sets 1). The bound does not depend on how
	// many distinct schema versions are observed.
	maxPassesPerVersion int
}

// New builds a Pipeline from an ordered list of upcasters.
func New(upcasters ...Upcaster) *Pipeline {
	return &Pipeline{upcasters: upcasters, maxPassesPerVersion: 1}
}

// Apply transforms a single input event to fixed point: repeatedly find
// the first matching upcaster for each pending event, replace it with
// the upcaster's output, and keep going until no upcaster matches any
// pending event. Detects non-terminating chains per spec.md §4.4.
func (p *Pipeline) Apply(in event.Event) ([]event.Event, error) {
	pending := []event.Event{in}
	seen := map[string]int{} // event_type|schema_version -> times observed
	bound := len(p.upcasters)*8 + 8
	if p.maxPassesPerVersion > 1 {
		bound *= p.maxPassesPerVersion
	}

	for step := 0; step < bound; step++ {
		progressed := false
		var next []event.Event
		for _, e := range pending {
			u, ok := p.firstMatch(e)
			if !ok {
				next = append(next, e)
				continue
			}
			out, err := u.Upcast(e)
			if err != nil {
				return nil, fmt.Errorf("upcast %s@%d failed: %w", e.EventType, e.SchemaVersion, err)
			}
			for _, o := range out {
				if o.EventType == e.EventType && o.SchemaVersion <= e.SchemaVersion {
					return nil, errcode.New(errcode.CodeUpcastNonTerm, errcode.Validation,
						fmt.Sprintf("upcast of %s@%d did not advance schema_version or event_type", e.EventType, e.SchemaVersion), nil)
				}
				sig := fmt.Sprintf("%s|%d", o.EventType, o.SchemaVersion)
				seen[sig]++
				if seen[sig] > bound {
					return nil, errcode.New(errcode.CodeUpcastNonTerm, errcode.Validation,
						fmt.Sprintf("cycle detected upcasting %s", in.EventType), nil)
				}
			}
			next = append(next, out...)
			progressed = true
		}
		pending = next
		if !progressed {
			return pending, nil
		}
	}
	return nil, errcode.New(errcode.CodeUpcastNonTerm, errcode.Validation,
		fmt.Sprintf("upcast pipeline did not reach a fixed point for %s within bound %d", in.EventType, bound), nil)
}

func (p *Pipeline) firstMatch(e event.Event) (Upcaster, bool) {
	for _, u := range p.upcasters {
		if u.CanUpcast(e) {
			return u, true
		}
	}
	return nil, false
}

// InheritFields copies the fields output events must preserve from the
// input per spec.md §4.4: event_version, external_sequencer, and (by
// convention) the caller sets Payload/EventType/SchemaVersion itself.
func InheritFields(in, out event.Event) event.Event {
	out.EventVersion = in.EventVersion
	out.ExternalSequencer = in.ExternalSequencer
	return out
}
