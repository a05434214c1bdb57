// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package config

import (
	"fmt"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/schema"
	"gopkg.in/juju/environschema.v1"
)

// Config encapsulates config for a charm's application.
type Config struct {
	attributes map[string]interface{}
	schema     environschema.Fields
	defaults   schema.Defaults
}

// NewConfig returns a new config instance with the given attributes,
// validated and coerced against the supplied schema and defaults.
func NewConfig(attrs map[string]interface{}, schema environschema.Fields, defaults schema.Defaults) (*Config, error) {
	cfg := &Config{schema: schema, defaults: defaults}
	if err := cfg.setAttributes(attrs); err != nil {
		return nil, errors.Trace(err)
	}
	return cfg, nil
}

func (c *Config) setAttributes(attrs map[string]interface{}) error {
	checker, err := c.schemaChecker()
	if err != nil {
		return errors.Trace(err)
	}
	m := make(map[string]interface{})
	for k, v := range attrs {
		if _, ok := c.schema[k]; !ok {
			return errors.Errorf("unknown key %q (value %q)", k, v)
		}
		m[k] = v
	}
	result, err := checker.Coerce(m, nil)
	if err != nil {
		return errors.Trace(err)
	}
	c.attributes = result.(map[string]interface{})
	return nil
}

func (c *Config) schemaChecker() (schema.Checker, error) {
	schemaFields, schemaDefaults, err := c.schema.ValidationSchema()
	if err != nil {
		return nil, errors.Trace(err)
	}
	for key, value := range c.defaults {
		schemaDefaults[key] = value
	}
	return schema.FieldMap(schemaFields, schemaDefaults), nil
}

// KnownConfigKeys returns the valid config keys for the given schema.
func KnownConfigKeys(fields environschema.Fields) set.Strings {
	result := set.NewStrings()
	for name := range fields {
		result.Add(name)
	}
	return result
}

// ConfigAttributes is the config for a charm's application.
type ConfigAttributes map[string]interface{}

// Attributes returns the configuration attributes.
func (c *Config) Attributes() ConfigAttributes {
	if c == nil {
		return nil
	}
	result := make(ConfigAttributes)
	for attr, val := range c.attributes {
		result[attr] = val
	}
	return result
}

// Get gets the specified attribute.
func (c ConfigAttributes) Get(attrName string, defaultValue interface{}) interface{} {
	if val, ok := c[attrName]; ok {
		return val
	}
	return defaultValue
}

// GetString gets the specified string attribute.
func (c ConfigAttributes) GetString(attrName string, defaultValue string) string {
	if val, ok := c[attrName]; ok {
		return fmt.Sprintf("%v", val)
	}
	return defaultValue
}

// GetInt gets the specified int attribute.
func (c ConfigAttributes) GetInt(attrName string, defaultValue int) int {
	if val, ok := c[attrName]; ok {
		switch t := val.(type) {
		case int:
			return t
		case int64:
			return int(t)
		case float64:
			return int(t)
		}
	}
	return defaultValue
}

// GetBool gets the specified bool attribute.
func (c ConfigAttributes) GetBool(attrName string, defaultValue bool) bool {
	if val, ok := c[attrName]; ok {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return defaultValue
}

// GetStringMap gets the specified map attribute as map[string]string.
func (c ConfigAttributes) GetStringMap(attrName string, defaultValue map[string]string) (map[string]string, error) {
	if valData, ok := c[attrName]; ok {
		result := make(map[string]string)
		switch val := valData.(type) {
		case map[string]string:
			for k, v := range val {
				result[k] = v
			}
		case map[string]interface{}:
			for k, v := range val {
				result[k] = fmt.Sprintf("%v", v)
			}
		case map[interface{}]interface{}:
			for k, v := range val {
				result[fmt.Sprintf("%v", k)] = fmt.Sprintf("%v", v)
			}
		default:
			return nil, errors.NotValidf("string map value of type %T", val)
		}
		return result, nil
	}
	return defaultValue, nil
}
