package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration は "30s" / "2m" 形式のYAML表記を受け付ける time.Duration のラッパー
type Duration time.Duration

// Std は time.Duration として返します
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML は yaml.Unmarshaler の実装
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML は yaml.Marshaler の実装
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}
