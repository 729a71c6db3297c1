package utils

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

// ImportEnv loads .env from the working directory, if present, and enables
// environment overrides. A missing file is not an error.
func ImportEnv() error {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("utils: read config file: %w", err)
		}
	}
	return nil
}
