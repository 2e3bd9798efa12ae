package feature

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/rastercache/rastercache/internal/errors"
)

// Phase is the maturity of a feature flag. It decides the default value and
// whether the value can be changed at all.
type Phase string

// FlagName identifies a feature flag; names are written in kebab-case.
type FlagName string

const (
	// Alpha flags are off unless requested. Cache files written with them
	// may not be readable by later releases.
	Alpha Phase = "alpha"
	// Beta flags are on unless disabled.
	Beta Phase = "beta"
	// Stable flags are always on.
	Stable Phase = "stable"
	// Deprecated flags are always off.
	Deprecated Phase = "deprecated"
)

// Default returns the value of a flag in phase p before any Apply.
func (p Phase) Default() bool {
	switch p {
	case Alpha, Deprecated:
		return false
	case Beta, Stable:
		return true
	}
	panic(fmt.Sprintf("unknown feature phase %q", string(p)))
}

// settable reports whether Apply may change a flag in phase p.
func (p Phase) settable() bool {
	p.Default()
	return p == Alpha || p == Beta
}

// FlagDesc describes a single feature flag.
type FlagDesc struct {
	Type        Phase
	Description string
}

// FlagSet holds the known flags and their current values.
type FlagSet struct {
	flags   map[FlagName]*FlagDesc
	enabled map[FlagName]bool
}

func New() *FlagSet {
	return &FlagSet{}
}

// SetFlags replaces the known flags, resetting all values to their defaults.
func (f *FlagSet) SetFlags(flags map[FlagName]FlagDesc) {
	f.flags = make(map[FlagName]*FlagDesc, len(flags))
	f.enabled = make(map[FlagName]bool, len(flags))

	for name, flag := range flags {
		desc := flag
		f.flags[name] = &desc
		f.enabled[name] = desc.Type.Default()
	}
}

// parseSelection splits "name[=bool],..." into flag values. Blanks around
// items are ignored, an item without a value enables the flag.
func parseSelection(s string) (map[FlagName]bool, error) {
	sel := make(map[FlagName]bool)
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		name, value, found := strings.Cut(item, "=")
		name = strings.TrimSpace(name)
		if !found {
			sel[FlagName(name)] = true
			continue
		}

		on, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid value %q for feature flag %v", value, name)
		}
		sel[FlagName(name)] = on
	}

	return sel, nil
}

// Apply sets the flags listed in s, a comma separated list of "name[=bool]"
// items such as the value of RASTERCACHE_FEATURES. Nothing is changed if an
// item is invalid. Stable and deprecated flags keep their value and warn is
// called instead.
func (f *FlagSet) Apply(s string, warn func(string)) error {
	sel, err := parseSelection(s)
	if err != nil {
		return err
	}

	for name := range sel {
		if f.flags[name] == nil {
			return errors.Errorf("unknown feature flag %q", string(name))
		}
	}

	for name, on := range sel {
		phase := f.flags[name].Type
		if phase.settable() {
			f.enabled[name] = on
			continue
		}

		state := "disabled"
		if phase.Default() {
			state = "enabled"
		}
		warn(fmt.Sprintf("feature flag %q is %v and always %v, it will be removed in a future release",
			string(name), phase, state))
	}

	return nil
}

// Enabled returns the current value of the flag. It panics for unknown flags.
func (f *FlagSet) Enabled(name FlagName) bool {
	on, ok := f.enabled[name]
	errors.Precondition(ok, "unknown feature flag %v", name)
	return on
}

// Help contains information about a feature.
type Help struct {
	Name        string
	Type        string
	Default     bool
	Description string
}

// List returns the known flags sorted by name.
func (f *FlagSet) List() []Help {
	help := make([]Help, 0, len(f.flags))
	for name, flag := range f.flags {
		help = append(help, Help{
			Name:        string(name),
			Type:        string(flag.Type),
			Default:     flag.Type.Default(),
			Description: flag.Description,
		})
	}

	slices.SortFunc(help, func(a, b Help) int {
		return strings.Compare(a.Name, b.Name)
	})
	return help
}
