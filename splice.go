package w5500patch

import (
	"errors"
	"log/slog"

	"github.com/soypat/w5500patch/w5500"
)

// ErrNoFactory is returned when a splicer has no MAC factory to delegate to.
var ErrNoFactory = errors.New("w5500patch: no MAC factory available")

var errInvalidConfig = errors.New("w5500patch: invalid configuration, nil SPI host")

// Factory constructs a MAC. [w5500.New] is the stock factory.
type Factory func(cfg w5500.Config) (*w5500.MAC, error)

// Splicer places the patched Transport under a MAC factory. All
// implementations use the same Transport and Rule, they differ only in how
// the factory they delegate to is chosen.
type Splicer interface {
	Splice(stock Factory) Factory
}

var (
	_ Splicer = Direct{}
	_ Splicer = Wrap{}
	_ Splicer = Weak{}
	_ Splicer = Passthrough{}
)

// NewMAC is a drop-in replacement of [w5500.New] that accepts chips reporting VERSIONR=0x82.
func NewMAC(cfg w5500.Config) (*w5500.MAC, error) {
	return Direct{}.New(cfg)
}

// NewDefaultMAC constructs a MAC with the splicer selected at build time:
// [Wrap] by default, or the stock transport when built with the w5500nopatch tag.
func NewDefaultMAC(cfg w5500.Config) (*w5500.MAC, error) {
	return defaultSplicer().Splice(w5500.New)(cfg)
}

// Direct always constructs with [w5500.New] and the patched Transport,
// ignoring the factory passed to Splice. Callers invoke Direct.New in place of w5500.New.
type Direct struct {
	Config Config
}

func (d Direct) Splice(Factory) Factory { return d.New }

// New constructs a MAC with the patched Transport.
func (d Direct) New(cfg w5500.Config) (*w5500.MAC, error) {
	return construct(w5500.New, cfg, d.Config, "direct")
}

// Wrap decorates an existing factory so every call site that constructs
// through the returned Factory gets the patched Transport without changes.
type Wrap struct {
	Config Config
}

func (w Wrap) Splice(real Factory) Factory {
	return func(cfg w5500.Config) (*w5500.MAC, error) {
		return construct(real, cfg, w.Config, "wrap")
	}
}

// Weak resolves the factory each time a MAC is constructed. Lookup takes
// precedence over the spliced factory when it returns non-nil. When neither
// is available construction fails with ErrNoFactory.
type Weak struct {
	Config Config
	Lookup func() Factory
}

func (w Weak) Splice(stock Factory) Factory {
	return func(cfg w5500.Config) (*w5500.MAC, error) {
		real := stock
		if w.Lookup != nil {
			if f := w.Lookup(); f != nil {
				real = f
			}
		}
		return construct(real, cfg, w.Config, "weak")
	}
}

// Passthrough leaves the factory untouched; MACs use their configured transport.
type Passthrough struct{}

func (Passthrough) Splice(stock Factory) Factory {
	if stock == nil {
		return func(w5500.Config) (*w5500.MAC, error) { return nil, ErrNoFactory }
	}
	return stock
}

func construct(real Factory, cfg w5500.Config, pcfg Config, strategy string) (*w5500.MAC, error) {
	if pcfg.Logger == nil {
		pcfg.Logger = cfg.Logger
	}
	logger := pcfg.Logger
	if real == nil {
		logattrs(logger, slog.LevelError, "w5500patch:factory", slog.String("strategy", strategy), slog.String("err", ErrNoFactory.Error()))
		return nil, ErrNoFactory
	}
	if cfg.Host == nil {
		logattrs(logger, slog.LevelError, "w5500patch:factory", slog.String("strategy", strategy), slog.String("err", errInvalidConfig.Error()))
		return nil, errInvalidConfig
	}
	logattrs(logger, slog.LevelInfo, "w5500patch:factory using patched transport", slog.String("strategy", strategy))
	cfg.Driver = Driver(pcfg)
	return real(cfg)
}
