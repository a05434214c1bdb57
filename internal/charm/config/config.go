// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package config holds the webapp charm's declared option schema and the
// typed view of a unit's configuration.
package config

import (
	"fmt"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/proxy"
	"github.com/juju/schema"
	"gopkg.in/juju/environschema.v1"

	coreconfig "github.com/juju/webapp-operator/core/config"
	charmerrors "github.com/juju/webapp-operator/internal/charm/errors"
)

const (
	ServerPortKey  = "server-port"
	AppNameKey     = "app-name"
	EnvironmentKey = "environment"
	LogLevelKey    = "log-level"
	HTTPProxyKey   = "http-proxy"
	HTTPSProxyKey  = "https-proxy"
	NoProxyKey     = "no-proxy"
	AppSecretIDKey = "app-secret-id"
)

var configSchema = environschema.Fields{
	ServerPortKey: {
		Description: "The port the application server listens on.",
		Type:        environschema.Tint,
		Mandatory:   true,
	},
	AppNameKey: {
		Description: "The name the application reports itself as.",
		Type:        environschema.Tstring,
		Mandatory:   true,
	},
	EnvironmentKey: {
		Description: "The deployment environment label.",
		Type:        environschema.Tstring,
	},
	LogLevelKey: {
		Description: "The application log level.",
		Type:        environschema.Tstring,
	},
	HTTPProxyKey: {
		Description: "The http proxy to route application traffic through.",
		Type:        environschema.Tstring,
	},
	HTTPSProxyKey: {
		Description: "The https proxy to route application traffic through.",
		Type:        environschema.Tstring,
	},
	NoProxyKey: {
		Description: "Comma separated hosts exempt from proxying.",
		Type:        environschema.Tstring,
	},
	AppSecretIDKey: {
		Description: "The secret holding the application's credentials payload.",
		Type:        environschema.Tstring,
		Mandatory:   true,
		Secret:      true,
	},
}

var configDefaults = schema.Defaults{
	EnvironmentKey: "production",
	LogLevelKey:    "info",
	HTTPProxyKey:   schema.Omit,
	HTTPSProxyKey:  schema.Omit,
	NoProxyKey:     schema.Omit,
}

// Schema returns the webapp charm's declared option schema.
func Schema() environschema.Fields {
	return configSchema
}

// Config is a validated, typed view of the charm's configuration.
type Config struct {
	attrs coreconfig.ConfigAttributes
}

// New coerces the supplied raw attributes against the declared schema.
// Unknown keys, missing mandatory options and type mismatches all produce
// an error satisfying ConfigInvalid.
func New(attrs map[string]interface{}) (*Config, error) {
	cfg, err := coreconfig.NewConfig(attrs, configSchema, configDefaults)
	if err != nil {
		return nil, fmt.Errorf("%v%w", err, errors.Hide(charmerrors.ConfigInvalid))
	}
	result := &Config{attrs: cfg.Attributes()}
	if err := result.validate(); err != nil {
		return nil, fmt.Errorf("%v%w", err, errors.Hide(charmerrors.ConfigInvalid))
	}
	return result, nil
}

func (c *Config) validate() error {
	for name, field := range configSchema {
		if !field.Mandatory {
			continue
		}
		if strings.TrimSpace(c.attrs.GetString(name, "")) == "" {
			return errors.Errorf("option %q must have a value", name)
		}
	}
	if port := c.Port(); port <= 0 || port > 65535 {
		return errors.Errorf("option %q out of range: %d", ServerPortKey, port)
	}
	return nil
}

// Port returns the application server port.
func (c *Config) Port() int {
	return c.attrs.GetInt(ServerPortKey, 0)
}

// AppName returns the declared application name.
func (c *Config) AppName() string {
	return c.attrs.GetString(AppNameKey, "")
}

// Environment returns the deployment environment label.
func (c *Config) Environment() string {
	return c.attrs.GetString(EnvironmentKey, "")
}

// LogLevel returns the application log level.
func (c *Config) LogLevel() string {
	return c.attrs.GetString(LogLevelKey, "")
}

// SecretID returns the ID of the operator-supplied application secret.
func (c *Config) SecretID() string {
	return c.attrs.GetString(AppSecretIDKey, "")
}

// ProxyOverrides returns any proxy values set directly in config. The
// charm merges these over the orchestrator-supplied proxy settings.
func (c *Config) ProxyOverrides() proxy.Settings {
	return proxy.Settings{
		Http:    c.attrs.GetString(HTTPProxyKey, ""),
		Https:   c.attrs.GetString(HTTPSProxyKey, ""),
		NoProxy: c.attrs.GetString(NoProxyKey, ""),
	}
}

// EnvironmentVariables maps the plain config options into application
// environment variables of the form KEY1_KEY2, per the workload's
// convention. Secret references and proxy options are handled separately
// and are not included.
func (c *Config) EnvironmentVariables() map[string]string {
	result := make(map[string]string)
	for name, field := range configSchema {
		if field.Secret {
			continue
		}
		switch name {
		case HTTPProxyKey, HTTPSProxyKey, NoProxyKey:
			continue
		}
		if value := c.attrs.GetString(name, ""); value != "" {
			result[envKey(name)] = value
		}
	}
	return result
}

func envKey(option string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(option))
}
