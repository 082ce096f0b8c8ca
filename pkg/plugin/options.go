package plugin

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// DecodeOptions decodes a plugin options map into out, which must be a
// pointer to a struct with mapstructure tags. Input is weakly typed so that
// YAML numbers, strings and env overrides all land in the right field, and
// durations may be written as strings ("100ms").
func DecodeOptions(cfg map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return fmt.Errorf("create options decoder: %w", err)
	}
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode options: %w", err)
	}
	return nil
}
