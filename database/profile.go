/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	profilesKey        = "profiles"
	defaultProfileKey  = "default_profile"
	defaultProfileName = "default"
)

// LoadDotEnv loads KEY=VALUE files into the environment without overriding
// variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load env file %s: %w", file, err)
		}
	}
	return nil
}

// LoadProfile reads the named profile from a YAML, JSON or TOML file shaped as
//
//	default_profile: local
//	profiles:
//	  local:
//	    type: sqlite
//	    dbname: data/app
//	    pool_size: 5
//
// Unset options keep their defaults. DB_* environment variables, optionally
// seeded from a .env file, override the file. An empty name selects
// default_profile, then "default".
func LoadProfile(path, name string) (*ConnectionConfig, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read profile file %s: %w", path, err)
	}

	if name == "" {
		name = v.GetString(defaultProfileKey)
	}
	if name == "" {
		name = defaultProfileName
	}
	key := profilesKey + "." + strings.ToLower(name)
	if !v.IsSet(key) {
		return nil, fmt.Errorf("profile %q not found in %s", name, path)
	}

	cfg := DefaultConnectionConfig()
	if err := v.UnmarshalKey(key, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode profile %q: %w", name, err)
	}
	OverrideFromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("profile %q: %w", name, err)
	}
	return cfg, nil
}

// SaveProfiles writes profiles as YAML in the layout LoadProfile reads,
// creating parent directories as needed.
func SaveProfiles(path string, defaultProfile string, profiles map[string]*ConnectionConfig) error {
	doc := map[string]interface{}{}
	if defaultProfile != "" {
		doc[defaultProfileKey] = defaultProfile
	}
	encoded := make(map[string]map[string]interface{}, len(profiles))
	for name, cfg := range profiles {
		m, err := profileToMap(cfg)
		if err != nil {
			return fmt.Errorf("failed to encode profile %q: %w", name, err)
		}
		encoded[name] = m
	}
	doc[profilesKey] = encoded

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to serialize profiles: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write profile file: %w", err)
	}
	return nil
}

func profileToMap(cfg *ConnectionConfig) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if err := mapstructure.Decode(cfg, &out); err != nil {
		return nil, err
	}
	for k, v := range out {
		switch val := v.(type) {
		case time.Duration:
			out[k] = val.String()
		case string:
			if val == "" {
				delete(out, k)
			}
		}
	}
	return out, nil
}
