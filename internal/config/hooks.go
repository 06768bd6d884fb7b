package config

import (
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// StringToLogLevel is a DecodeHookFunc that converts a level name such as
// "debug" or "WARN" to slog.Level.
func StringToLogLevel() mapstructure.DecodeHookFunc {
	return func(f, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(slog.Level(0)) {
			return data, nil
		}
		s := strings.TrimSpace(data.(string))
		if s == "" {
			return nil, fmt.Errorf("empty log level string")
		}
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(s)); err != nil {
			return nil, err
		}
		return lvl, nil
	}
}
