// Package registry maps (event name, schema version) and runtime Go
// types to codecs, supporting a builder phase followed by an immutable,
// freeze-after-build lookup used by the fold host and upcast pipeline.
package registry

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/nullstream/eventstream/errcode"
)

// Codec encodes/decodes a payload for one registered event type. The
// default is JSONCodec.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// JSONCodec is the default codec, matching the teacher's use of
// encoding/json throughout (domain/snapshot.go's CreateSnapshot/ApplySnapshot).
type JSONCodec struct{}

func (JSONCodec) Encode(v any) ([]byte, error)          { return json.Marshal(v) }
func (JSONCodec) Decode(data []byte, v any) error       { return json.Unmarshal(data, v) }

// Entry is one registered (name, schema version) triple.
type Entry struct {
	Name          string
	SchemaVersion int
	Type          reflect.Type
	Codec         Codec
}

type key struct {
	name    string
	version int
}

// Builder accumulates registrations before Freeze produces an immutable
// Registry. Registration after Freeze is rejected.
type Builder struct {
	byNameVersion map[key]Entry
	highestByName map[string]int
	byType        map[reflect.Type]Entry
	frozen        bool
}

// NewBuilder returns an empty registration builder.
func NewBuilder() *Builder {
	return &Builder{
		byNameVersion: make(map[key]Entry),
		highestByName: make(map[string]int),
		byType:        make(map[reflect.Type]Entry),
	}
}

// Register binds a runtime type to an event name and schema version. The
// zero Codec defaults to JSONCodec.
func (b *Builder) Register(sample any, name string, schemaVersion int, codec Codec) error {
	if b.frozen {
		return errcode.New(errcode.CodeRegistryFrozen, errcode.Validation,
			"cannot register after Freeze", nil)
	}
	k := key{name: name, version: schemaVersion}
	if _, exists := b.byNameVersion[k]; exists {
		return errcode.New(errcode.CodeDuplicateEventType, errcode.Validation,
			fmt.Sprintf("duplicate registration for %s@%d", name, schemaVersion), nil)
	}
	if codec == nil {
		codec = JSONCodec{}
	}
	t := reflect.TypeOf(sample)
	entry := Entry{Name: name, SchemaVersion: schemaVersion, Type: t, Codec: codec}
	b.byNameVersion[k] = entry
	b.byType[t] = entry
	if schemaVersion > b.highestByName[name] {
		b.highestByName[name] = schemaVersion
	}
	return nil
}

// Freeze finalizes the builder into an immutable Registry. The builder
// must not be used again afterward.
func (b *Builder) Freeze() *Registry {
	b.frozen = true
	return &Registry{
		byNameVersion: b.byNameVersion,
		highestByName: b.highestByName,
		byType:        b.byType,
	}
}

// Registry is the immutable, concurrency-safe lookup produced by Freeze.
type Registry struct {
	byNameVersion map[key]Entry
	highestByName map[string]int
	byType        map[reflect.Type]Entry
}

// ByName returns the entry with the highest registered schema version
// for name.
func (r *Registry) ByName(name string) (Entry, bool) {
	v, ok := r.highestByName[name]
	if !ok {
		return Entry{}, false
	}
	e, ok := r.byNameVersion[key{name: name, version: v}]
	return e, ok
}

// ByNameAndVersion returns the exact (name, schema version) entry.
func (r *Registry) ByNameAndVersion(name string, version int) (Entry, bool) {
	e, ok := r.byNameVersion[key{name: name, version: version}]
	return e, ok
}

// ByType returns the entry registered for the runtime type of sample.
func (r *Registry) ByType(sample any) (Entry, bool) {
	e, ok := r.byType[reflect.TypeOf(sample)]
	return e, ok
}
