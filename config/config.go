package config

import (
	"errors"
	"fmt"
	"slices"

	"github.com/beyondbrewing/brewery-idb/utils"
	"github.com/spf13/viper"
)

// injected configurations
var (
	APP_NAME    string = "brewery-idb"
	APP_VERSION string = "0.1.0"
)

// value changed by paramaters from config
var (
	BREWERY_ENGINE      string = "memory" // memory | pebble | bolt
	BREWERY_DATA_DIR    string = "./data"
	BREWERY_LOG_LEVEL   string = "info"
	BREWERY_LEGACY_HOST bool   = false // emulate hosts that run microtasks after auto-commit
	BREWERY_PROBE       bool   = true  // run the legacy flush probe at startup
)

// Engines lists the accepted BREWERY_ENGINE values.
var Engines = []string{"memory", "pebble", "bolt"}

var ErrUnknownEngine = errors.New("config: unknown engine")

// Load reads .env and the environment and overrides the defaults above with
// whatever is set.
func Load() error {
	if err := utils.ImportEnv(); err != nil {
		return err
	}
	if viper.IsSet("BREWERY_ENGINE") {
		BREWERY_ENGINE = viper.GetString("BREWERY_ENGINE")
	}
	if viper.IsSet("BREWERY_DATA_DIR") {
		BREWERY_DATA_DIR = viper.GetString("BREWERY_DATA_DIR")
	}
	if viper.IsSet("BREWERY_LOG_LEVEL") {
		BREWERY_LOG_LEVEL = viper.GetString("BREWERY_LOG_LEVEL")
	}
	if viper.IsSet("BREWERY_LEGACY_HOST") {
		BREWERY_LEGACY_HOST = viper.GetBool("BREWERY_LEGACY_HOST")
	}
	if viper.IsSet("BREWERY_PROBE") {
		BREWERY_PROBE = viper.GetBool("BREWERY_PROBE")
	}
	return ValidateEngine(BREWERY_ENGINE)
}

// ValidateEngine checks an engine name.
func ValidateEngine(name string) error {
	if !slices.Contains(Engines, name) {
		return fmt.Errorf("%w: %q", ErrUnknownEngine, name)
	}
	return nil
}
