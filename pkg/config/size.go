package config

import (
	"fmt"
	"strconv"

	units "github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// ByteSize is a byte count that reads human strings such as "256m" or
// "10MB" (binary multiples) as well as plain integers.
type ByteSize int64

// ParseByteSize parses a human size string.
func ParseByteSize(s string) (ByteSize, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ByteSize(n), nil
	}
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, err
	}
	return ByteSize(n), nil
}

func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: size must be a scalar", value.Line)
	}
	n, err := ParseByteSize(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*b = n
	return nil
}

func (b ByteSize) MarshalYAML() (any, error) {
	return b.String(), nil
}

func (b ByteSize) String() string {
	return units.BytesSize(float64(b))
}
