package lua

import (
	"fmt"

	"github.com/pgavlin/wasm2lua/wasm"
	"github.com/sirupsen/logrus"
)

// DefaultNamePrefix is the prefix used when Options.NamePrefix is empty.
const DefaultNamePrefix = "w2l"

// DefaultMaxTableElements caps table growth when Options.MaxTableElements is zero.
const DefaultMaxTableElements = 10000000

// Options records compilation options.
type Options struct {
	// NamePrefix is prepended to every global identifier in the generated unit. It must be a valid
	// Lua identifier. The default is DefaultNamePrefix.
	NamePrefix string
	// IncludeDebugNames names generated functions after their debug names, if any.
	IncludeDebugNames bool
	// MaxMemoryPages caps the maximum size of every memory. The default is wasm.MaxPages.
	MaxMemoryPages uint32
	// MaxTableElements caps the maximum size of every table. The default is
	// DefaultMaxTableElements.
	MaxTableElements uint32
	// Logger receives per-function debug entries. Nothing is logged if Logger is nil.
	Logger logrus.FieldLogger
}

type options struct {
	prefix           string
	debugNames       bool
	maxMemoryPages   uint32
	maxTableElements uint32
	log              logrus.FieldLogger
}

func (o *Options) resolve() (options, error) {
	opts := options{
		prefix:           DefaultNamePrefix,
		maxMemoryPages:   wasm.MaxPages,
		maxTableElements: DefaultMaxTableElements,
	}
	if o != nil {
		if o.NamePrefix != "" {
			if !IsIdentifier(o.NamePrefix) {
				return options{}, fmt.Errorf("invalid name prefix %q: not a Lua identifier", o.NamePrefix)
			}
			opts.prefix = o.NamePrefix
		}
		opts.debugNames = o.IncludeDebugNames
		if o.MaxMemoryPages != 0 && o.MaxMemoryPages < wasm.MaxPages {
			opts.maxMemoryPages = o.MaxMemoryPages
		}
		if o.MaxTableElements != 0 {
			opts.maxTableElements = o.MaxTableElements
		}
		opts.log = o.Logger
	}
	if opts.log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		opts.log = l
	}
	return opts, nil
}
