package pipeline

import (
	"fmt"

	"firestige.xyz/ttlbridge/internal/config"
	"firestige.xyz/ttlbridge/pkg/plugin"
)

// Builder provides a fluent interface for building dispatchers.
// Sink configs are resolved through the plugin registry at Build time.
type Builder struct {
	config      Config
	sinkConfigs []config.SinkConfig
}

// NewBuilder creates a new dispatcher builder.
func NewBuilder() *Builder {
	return &Builder{
		config: Config{
			BufferSize: DefaultBufferSize,
		},
	}
}

// WithNodeID sets the node ID stamped on every edge.
func (b *Builder) WithNodeID(id string) *Builder {
	b.config.NodeID = id
	return b
}

// WithSinks appends already-initialized sinks.
func (b *Builder) WithSinks(sinks ...plugin.Sink) *Builder {
	b.config.Sinks = append(b.config.Sinks, sinks...)
	return b
}

// WithSinkConfigs sets sinks to be created from the registry.
func (b *Builder) WithSinkConfigs(cfgs []config.SinkConfig) *Builder {
	b.sinkConfigs = cfgs
	return b
}

// WithBufferSize sets the edge channel buffer size.
func (b *Builder) WithBufferSize(size int) *Builder {
	b.config.BufferSize = size
	return b
}

// Build creates the dispatcher.
func (b *Builder) Build() (*Dispatcher, error) {
	cfg := b.config
	cfg.Sinks = append([]plugin.Sink(nil), b.config.Sinks...)

	for i, sc := range b.sinkConfigs {
		factory, err := plugin.GetSinkFactory(sc.Type)
		if err != nil {
			return nil, fmt.Errorf("sinks[%d]: %w", i, err)
		}
		s := factory()
		opts := sc.Options
		if opts == nil {
			opts = map[string]any{}
		}
		if err := s.Init(opts); err != nil {
			return nil, fmt.Errorf("sinks[%d] (%s): init failed: %w", i, sc.Type, err)
		}
		cfg.Sinks = append(cfg.Sinks, s)
	}
	return New(cfg), nil
}
