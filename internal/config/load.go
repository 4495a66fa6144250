// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sessionkeeper Contributors

package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// FlagKeys maps command-line flag names to configuration keys. Only flags
// listed here, and only when explicitly set, override the file.
var FlagKeys = map[string]string{
	"api-url":            "api.base_url",
	"api-timeout":        "api.timeout",
	"keepalive-interval": "session.keepalive_interval",
	"credential-file":    "session.credential_file",
	"credential-store":   "session.store",
	"log-format":         "log.format",
	"log-level":          "log.level",
	"web-addr":           "web.addr",
	"metrics-addr":       "observability.metrics_addr",
}

// Load builds the configuration from defaults, the YAML file at path and
// changed flags. An empty path skips the file; a missing file is an error
// only when required is true.
func Load(path string, required bool, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist) && !required:
		case err != nil:
			return Config{}, oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
		default:
			if err := ValidateYAML(data); err != nil {
				return Config{}, oops.Code("CONFIG_SCHEMA_INVALID").With("path", path).Wrap(err)
			}
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return Config{}, oops.Code("CONFIG_PARSE_FAILED").With("path", path).Wrap(err)
			}
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := FlagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}
	// Decoding onto the defaults merges slices element-wise; a configured
	// public list replaces the default one.
	if k.Exists("routes.public") {
		cfg.Routes.Public = k.Strings("routes.public")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
