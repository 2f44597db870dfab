// Copyright 2026 The Tablerelay Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the bridge.
//
// Configuration is loaded from a single YAML file specified by:
//   - TABLERELAY_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. The only expansion
// performed is ${VAR} / ${VAR:-default} substitution in path and URL
// fields, so a token file can live under ${HOME} portably.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/tablerelay/tablerelay/grid"
)

// Config is the bridge configuration.
type Config struct {
	// Homeserver configures the Matrix connection.
	Homeserver HomeserverConfig `yaml:"homeserver"`

	// Trigger selects the detection mode and, for conditional
	// triggers, the watched field.
	Trigger TriggerConfig `yaml:"trigger"`

	// Message shapes the outgoing notifications.
	Message MessageConfig `yaml:"message"`

	// Recipients lists the notification targets.
	Recipients RecipientsConfig `yaml:"recipients"`

	// Source configures the watched row file.
	Source SourceConfig `yaml:"source"`

	// Cache configures room-cache persistence.
	Cache CacheConfig `yaml:"cache"`

	// Delivery configures send rate limiting.
	Delivery DeliveryConfig `yaml:"delivery"`
}

// HomeserverConfig configures the Matrix connection.
type HomeserverConfig struct {
	// URL is the homeserver base URL (e.g., "https://matrix.example.org").
	URL string `yaml:"url"`

	// APIVersion is the client-server API version tried first.
	// Default: v3. Directory search falls back to v3 and r0.
	APIVersion string `yaml:"api_version"`

	// TokenFile is the path to a file holding the access token.
	// "-" reads the token from stdin.
	TokenFile string `yaml:"token_file"`
}

// TriggerConfig selects the detection mode.
type TriggerConfig struct {
	// Mode is one of: new-row, update, conditional-update, manual.
	Mode string `yaml:"mode"`

	// Condition is required for conditional-update mode.
	Condition ConditionConfig `yaml:"condition"`
}

// ConditionConfig designates the watched field and its satisfied
// value for conditional-update triggers.
type ConditionConfig struct {
	Field string `yaml:"field"`
	Value string `yaml:"value"`
}

// MessageConfig shapes outgoing notifications.
type MessageConfig struct {
	// Subject is rendered in bold at the top of each notification.
	Subject string `yaml:"subject"`

	// Template is the message body. {{field}} expands to row fields;
	// {{date}}, {{time}}, {{id}} are fixed placeholders. An empty
	// template disables delivery.
	Template string `yaml:"template"`

	// RoomNamePrefix is prepended to the names of rooms the bridge
	// creates. Default: "Notification: ".
	RoomNamePrefix string `yaml:"room_name_prefix"`
}

// RecipientsConfig lists notification targets.
type RecipientsConfig struct {
	Individuals []IndividualConfig `yaml:"individuals"`
	Groups      []GroupConfig      `yaml:"groups"`
}

// IndividualConfig is one person to notify.
type IndividualConfig struct {
	// Name is the user directory search term: a display name or
	// contact handle.
	Name string `yaml:"name"`
}

// GroupConfig is one group room to notify.
type GroupConfig struct {
	Name    string   `yaml:"name"`
	Topic   string   `yaml:"topic"`
	Members []string `yaml:"members"`
}

// SourceConfig configures the watched row file.
type SourceConfig struct {
	// File is the JSON rows file to watch. Empty disables the file
	// source (the pipeline then only serves manual sends).
	File string `yaml:"file"`

	// FieldMapping renames raw column names before detection and
	// rendering.
	FieldMapping map[string]string `yaml:"field_mapping"`
}

// CacheConfig configures room-cache persistence.
type CacheConfig struct {
	// Path is the SQLite file backing the room cache. Empty keeps
	// the cache in memory only.
	Path string `yaml:"path"`
}

// DeliveryConfig configures send rate limiting.
type DeliveryConfig struct {
	// RatePerSecond limits message sends. Zero disables limiting.
	RatePerSecond float64 `yaml:"rate_per_second"`

	// Burst is the rate limiter burst size. Default: 1 when a rate
	// is set.
	Burst int `yaml:"burst"`
}

// Default returns the default configuration, used as a base before
// loading the config file.
func Default() *Config {
	return &Config{
		Homeserver: HomeserverConfig{
			APIVersion: "v3",
		},
		Trigger: TriggerConfig{
			Mode: string(grid.TriggerNewRow),
		},
		Message: MessageConfig{
			RoomNamePrefix: "Notification: ",
		},
	}
}

// Load loads configuration from the TABLERELAY_CONFIG environment
// variable. There are no fallbacks — if it is not set, Load fails.
func Load() (*Config, error) {
	configPath := os.Getenv("TABLERELAY_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("TABLERELAY_CONFIG environment variable not set; " +
			"set it to the path of your tablerelay.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} patterns in path and URL fields.
func (c *Config) expandVariables() {
	c.Homeserver.URL = expandVars(c.Homeserver.URL)
	c.Homeserver.TokenFile = expandVars(c.Homeserver.TokenFile)
	c.Source.File = expandVars(c.Source.File)
	c.Cache.Path = expandVars(c.Cache.Path)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns from the
// environment.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})
}

// TriggerMode returns the validated trigger mode.
func (c *Config) TriggerMode() (grid.TriggerKind, error) {
	return grid.ParseTriggerKind(c.Trigger.Mode)
}

// Condition returns the conditional-update condition.
func (c *Config) Condition() grid.Condition {
	return grid.Condition{
		Field: c.Trigger.Condition.Field,
		Value: c.Trigger.Condition.Value,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Homeserver.URL == "" {
		errs = append(errs, fmt.Errorf("homeserver.url is required"))
	}
	if c.Homeserver.TokenFile == "" {
		errs = append(errs, fmt.Errorf("homeserver.token_file is required"))
	}

	mode, err := grid.ParseTriggerKind(c.Trigger.Mode)
	if err != nil {
		errs = append(errs, err)
	} else if mode == grid.TriggerConditional {
		if c.Trigger.Condition.Field == "" {
			errs = append(errs, fmt.Errorf("trigger.condition.field is required for conditional-update mode"))
		}
		if c.Trigger.Condition.Value == "" {
			errs = append(errs, fmt.Errorf("trigger.condition.value is required for conditional-update mode"))
		}
	}

	for i, individual := range c.Recipients.Individuals {
		if individual.Name == "" {
			errs = append(errs, fmt.Errorf("recipients.individuals[%d].name is required", i))
		}
	}
	for i, group := range c.Recipients.Groups {
		if group.Name == "" {
			errs = append(errs, fmt.Errorf("recipients.groups[%d].name is required", i))
		}
		if len(group.Members) == 0 {
			errs = append(errs, fmt.Errorf("recipients.groups[%d] has no members", i))
		}
	}

	if c.Delivery.RatePerSecond < 0 {
		errs = append(errs, fmt.Errorf("delivery.rate_per_second must not be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
