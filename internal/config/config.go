// Package config loads a YAML file over the defaults already set in a config struct.
package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load fills config, a pointer to a struct, from file. Values already in the struct are the
// defaults. Every key can be overridden from the environment: Token.Secret is read from
// TOKEN_SECRET. A missing file satisfies errors.Is(err, fs.ErrNotExist).
func Load(file string, config any) error {
	v := viper.New()

	defaults := make(map[string]any)
	if err := mapstructure.Decode(config, &defaults); err != nil {
		return fmt.Errorf("decode defaults: %w", err)
	}

	// Registers every key, so AutomaticEnv also sees keys the file leaves out.
	if err := v.MergeConfigMap(defaults); err != nil {
		return fmt.Errorf("merge defaults: %w", err)
	}

	v.SetConfigFile(file)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %s: %w", file, err)
	}

	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}

	return nil
}
