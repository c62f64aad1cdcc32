package identifier

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Config is the serializable form of an Identifier. Formatters only survive
// the round trip when they were given as printf formats.
type Config struct {
	ArchID    int           `json:"arch_id" yaml:"arch_id"`
	InputID   int           `json:"input_id" yaml:"input_id"`
	Hypers    []HyperConfig `json:"hypers,omitempty" yaml:"hypers,omitempty"`
	NSplit    int           `json:"n_split" yaml:"n_split"`
	Split     int           `json:"split" yaml:"split"`
	SplitSeed int           `json:"split_seed" yaml:"split_seed"`
	Path      string        `json:"path" yaml:"path"`
	Prefix    string        `json:"prefix" yaml:"prefix"`
}

type HyperConfig struct {
	Name   string `json:"name" yaml:"name"`
	Value  any    `json:"value" yaml:"value"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// WithFormat is WithFormatter for a printf format. Unlike arbitrary
// formatters, it is preserved by Config.
func WithFormat(name, format string) Option {
	return func(id *Identifier) {
		id.formatters[name] = PrintfFormatter(format)
		if id.formats == nil {
			id.formats = make(map[string]string)
		}
		id.formats[name] = format
	}
}

func (id *Identifier) Config() Config {
	config := Config{
		ArchID:    id.ArchID,
		InputID:   id.InputID,
		NSplit:    id.NSplit,
		Split:     id.Split,
		SplitSeed: id.SplitSeed,
		Path:      id.Path,
		Prefix:    id.Prefix,
	}
	for _, hyper := range id.Hypers {
		config.Hypers = append(config.Hypers, HyperConfig{
			Name:   hyper.Name,
			Value:  hyper.Value,
			Format: id.formats[hyper.Name],
		})
	}
	return config
}

func FromConfig(config Config) (*Identifier, error) {
	options := []Option{
		WithNSplit(config.NSplit),
		WithSplit(config.Split),
		WithSplitSeed(config.SplitSeed),
		WithPath(config.Path),
		WithPrefix(config.Prefix),
	}
	for _, hyper := range config.Hypers {
		options = append(options, WithHypers(Hyper{Name: hyper.Name, Value: hyper.Value}))
		if hyper.Format != "" {
			options = append(options, WithFormat(hyper.Name, hyper.Format))
		}
	}
	return New(config.ArchID, config.InputID, options...)
}

// DefaultConfig holds the values New uses for omitted options.
func DefaultConfig() Config {
	return Config{
		NSplit:    DefaultNSplit,
		Split:     NoSplit,
		SplitSeed: DefaultSplitSeed,
		Prefix:    DefaultPrefix,
	}
}

// Decode reads a YAML (or JSON) configuration; omitted fields keep their
// default values.
func Decode(data []byte) (*Identifier, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("decode identifier: %w", err)
	}
	return FromConfig(config)
}
