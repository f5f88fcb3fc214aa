package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the optional stash configuration file.
type Config struct {
	Defaults DefaultsConfig `toml:"defaults"`
	Theme    ThemeConfig    `toml:"theme"`
}

// DefaultsConfig holds persistent flag defaults. A nil field means the
// built-in default applies; an explicit command-line flag always wins.
type DefaultsConfig struct {
	MinSize        *string `toml:"min_size"` // size string, e.g. "4K"
	Copy           *bool   `toml:"copy"`
	Verbose        *bool   `toml:"verbose"`
	Workers        *int    `toml:"workers"`
	Verify         *bool   `toml:"verify"`
	ReadOnly       *bool   `toml:"read_only"`
	Journal        *bool   `toml:"journal"`
	FollowSymlinks *bool   `toml:"follow_symlinks"`
	BWLimit        *string `toml:"bwlimit"`
}

// ThemeConfig holds optional color overrides for the per-file report.
type ThemeConfig struct {
	Green  *string `toml:"green"`
	Yellow *string `toml:"yellow"`
	Red    *string `toml:"red"`
	Blue   *string `toml:"blue"`
	Muted  *string `toml:"muted"`
}

// Path returns the resolved path to the config file.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "stash", "config.toml")
}

// Load reads the config file from the XDG path. Returns a zero Config
// (no error) if the file does not exist. Config is always optional.
func Load() (Config, error) {
	path := Path()
	if path == "" {
		return Config{}, nil
	}
	return LoadFile(path)
}

// LoadFile reads the config file at path. A missing file is not an error.
// Unknown keys are rejected so a typo does not silently change behavior.
func LoadFile(path string) (Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, &UnknownKeyError{Path: path, Key: undecoded[0].String()}
	}
	return cfg, nil
}

// UnknownKeyError reports a key in the config file that stash does not use.
type UnknownKeyError struct {
	Path string
	Key  string
}

func (e *UnknownKeyError) Error() string {
	return e.Path + ": unknown key " + e.Key
}
