// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package relation resolves the charm's required external dependencies
// from orchestrator relation data and operator-supplied secrets.
package relation

import (
	"fmt"
	"strings"

	"github.com/juju/errors"

	charmerrors "github.com/juju/webapp-operator/internal/charm/errors"
)

const (
	// DatabaseRelation is the relation supplying the application database.
	DatabaseRelation = "database"
	// CacheRelation is the relation supplying the application cache.
	CacheRelation = "cache"
)

// Store is the orchestrator-side relation store the charm reads from.
// Data is fetched fresh on every call; nothing is cached between events.
type Store interface {
	// RelationData returns the resolved field data for the named relation
	// and whether the relation exists at all.
	RelationData(name string) (map[string]string, bool, error)
}

// Dependency describes one required external dependency.
type Dependency struct {
	// Relation is the relation name the orchestrator brokers the
	// dependency over.
	Relation string

	// Prefix is the environment variable prefix for resolved fields.
	Prefix string

	// Fields are the data fields that must be present, in declared order.
	Fields []string
}

// Required returns the charm's required dependencies, in declared order.
// The aggregator reports the first unsatisfied one, so the order here is
// the order an operator is asked to fix things in.
func Required() []Dependency {
	return []Dependency{{
		Relation: DatabaseRelation,
		Prefix:   "DB",
		Fields:   []string{"host", "port", "name", "username", "password"},
	}, {
		Relation: CacheRelation,
		Prefix:   "CACHE",
		Fields:   []string{"host", "port"},
	}}
}

// Binding is the resolved state of one dependency. It is rebuilt from the
// store on every event and never persisted.
type Binding struct {
	Dependency

	// Present records whether the relation exists.
	Present bool

	// Data holds the resolved fields, with any secret-sourced overrides
	// already applied.
	Data map[string]string
}

// DataAvailable reports whether every declared field has usable data.
func (b Binding) DataAvailable() bool {
	for _, field := range b.Fields {
		if b.Data[field] == "" {
			return false
		}
	}
	return true
}

// EnvironmentVariables returns the dependency's resolved fields as
// PREFIX_FIELD environment variables.
func (b Binding) EnvironmentVariables() map[string]string {
	result := make(map[string]string, len(b.Fields))
	for _, field := range b.Fields {
		if value := b.Data[field]; value != "" {
			result[b.Prefix+"_"+strings.ToUpper(field)] = value
		}
	}
	return result
}

// Resolve fetches each required dependency from the store. Fields in
// overrides, keyed by relation name, take precedence over relation-sourced
// values; this is how operator secret values win over relation data.
func Resolve(store Store, overrides map[string]map[string]string) ([]Binding, error) {
	deps := Required()
	bindings := make([]Binding, 0, len(deps))
	for _, dep := range deps {
		data, present, err := store.RelationData(dep.Relation)
		if err != nil {
			return nil, errors.Annotatef(err, "fetching %q relation data", dep.Relation)
		}
		merged := make(map[string]string, len(data))
		for k, v := range data {
			merged[k] = v
		}
		for k, v := range overrides[dep.Relation] {
			merged[k] = v
		}
		bindings = append(bindings, Binding{
			Dependency: dep,
			Present:    present,
			Data:       merged,
		})
	}
	return bindings, nil
}

// FirstUnresolved returns a DependencyUnresolved error naming the first
// binding that is not ready, or nil if all are.
func FirstUnresolved(bindings []Binding) error {
	for _, b := range bindings {
		if !b.Present {
			return fmt.Errorf("relation %q not created%w",
				b.Relation, errors.Hide(charmerrors.DependencyUnresolved))
		}
		if !b.DataAvailable() {
			return fmt.Errorf("relation %q has no usable data yet%w",
				b.Relation, errors.Hide(charmerrors.DependencyUnresolved))
		}
	}
	return nil
}
