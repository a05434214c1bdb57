// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package secrets parses the operator-supplied application secret payload.
package secrets

import (
	"strconv"
	"strings"

	"github.com/juju/errors"
)

// Payload holds the application secret, as granted to the charm by the
// operator. Database fields are optional overrides; when present they take
// precedence over relation-sourced values.
type Payload struct {
	SecretKey string

	GithubOauthClientID     string
	GithubOauthClientSecret string

	GithubAppID         string
	GithubAppPrivateKey string
	GithubAppSecret     string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string

	// Database overrides, all optional.
	DBHost     string
	DBPort     string
	DBName     string
	DBUsername string
	DBPassword string
}

// mandatoryFields are the normalized keys that must be present for a
// payload to be usable.
var mandatoryFields = []string{
	"secret_key",
	"github_oauth_client_id",
	"github_oauth_client_secret",
	"github_app_id",
	"github_app_private_key",
	"github_app_secret",
	"smtp_host",
	"smtp_port",
	"smtp_username",
	"smtp_password",
}

// normalizeKey maps a secret field name to its canonical form,
// replacing "-" and "." with "_".
func normalizeKey(key string) string {
	return strings.ReplaceAll(strings.ReplaceAll(key, "-", "_"), ".", "_")
}

// Parse builds a Payload from raw secret content. Keys may use "-", "."
// or "_" separators interchangeably. An error satisfying errors.NotValid
// is returned if a mandatory field is missing or malformed.
func Parse(content map[string]string) (*Payload, error) {
	fields := make(map[string]string, len(content))
	for k, v := range content {
		fields[normalizeKey(k)] = v
	}
	for _, name := range mandatoryFields {
		if fields[name] == "" {
			return nil, errors.NotValidf("secret missing field %q", name)
		}
	}
	smtpPort, err := strconv.Atoi(fields["smtp_port"])
	if err != nil {
		return nil, errors.NotValidf("secret field smtp_port %q", fields["smtp_port"])
	}
	return &Payload{
		SecretKey:               fields["secret_key"],
		GithubOauthClientID:     fields["github_oauth_client_id"],
		GithubOauthClientSecret: fields["github_oauth_client_secret"],
		GithubAppID:             fields["github_app_id"],
		GithubAppPrivateKey:     fields["github_app_private_key"],
		GithubAppSecret:         fields["github_app_secret"],
		SMTPHost:                fields["smtp_host"],
		SMTPPort:                smtpPort,
		SMTPUsername:            fields["smtp_username"],
		SMTPPassword:            fields["smtp_password"],
		DBHost:                  fields["db_host"],
		DBPort:                  fields["db_port"],
		DBName:                  fields["db_name"],
		DBUsername:              fields["db_username"],
		DBPassword:              fields["db_password"],
	}, nil
}

// DatabaseOverrides returns the database fields supplied in the payload,
// keyed the same way relation data keys them. Empty fields are omitted.
func (p *Payload) DatabaseOverrides() map[string]string {
	if p == nil {
		return nil
	}
	result := make(map[string]string)
	set := func(key, value string) {
		if value != "" {
			result[key] = value
		}
	}
	set("host", p.DBHost)
	set("port", p.DBPort)
	set("name", p.DBName)
	set("username", p.DBUsername)
	set("password", p.DBPassword)
	return result
}

// EnvironmentVariables returns the application environment variables
// carried by the secret payload.
func (p *Payload) EnvironmentVariables() map[string]string {
	return map[string]string{
		"SECRET_KEY":                 p.SecretKey,
		"GITHUB_OAUTH_CLIENT_ID":     p.GithubOauthClientID,
		"GITHUB_OAUTH_CLIENT_SECRET": p.GithubOauthClientSecret,
		"GITHUB_APP_ID":              p.GithubAppID,
		"GITHUB_APP_PRIVATE_KEY":     p.GithubAppPrivateKey,
		"GITHUB_APP_SECRET":          p.GithubAppSecret,
		"SMTP_HOST":                  p.SMTPHost,
		"SMTP_PORT":                  strconv.Itoa(p.SMTPPort),
		"SMTP_USERNAME":              p.SMTPUsername,
		"SMTP_PASSWORD":              p.SMTPPassword,
	}
}
