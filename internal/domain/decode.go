package domain

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// DecodeRecord decodes a stored record into out, a pointer to a struct with
// mapstructure tags. Timestamps are parsed with TimeLayout and numbers may
// arrive as float64 whatever the target field's numeric kind.
func DecodeRecord(rec map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeHookFunc(TimeLayout),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(rec); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	return nil
}
