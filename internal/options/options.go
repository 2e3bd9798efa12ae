package options

import (
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rastercache/rastercache/internal/errors"
)

// Options holds options in the form key=value.
type Options map[string]string

var opts []Help

// Register allows registering options so that they can be listed with List.
func Register(ns string, cfg interface{}) {
	for _, opt := range listOptions(cfg) {
		opt.Namespace = ns
		opts = append(opts, opt)
	}

	sort.Slice(opts, func(i, j int) bool {
		if opts[i].Namespace == opts[j].Namespace {
			return opts[i].Name < opts[j].Name
		}
		return opts[i].Namespace < opts[j].Namespace
	})
}

// List returns a list of all registered options (using Register()).
func List() (list []Help) {
	list = make([]Help, len(opts))
	copy(list, opts)
	return list
}

// listOptions returns the options declared on cfg via the `option` tag.
func listOptions(cfg interface{}) (opts []Help) {
	v := reflect.Indirect(reflect.ValueOf(cfg))

	for i := 0; i < v.NumField(); i++ {
		f := v.Type().Field(i)

		h := Help{
			Name: f.Tag.Get("option"),
			Text: f.Tag.Get("help"),
		}

		if h.Name == "" {
			continue
		}

		opts = append(opts, h)
	}

	return opts
}

// Help contains information about an option.
type Help struct {
	Namespace string
	Name      string
	Text      string
}

// Parse takes a slice of key=value pairs and returns an Options type.
// The key may include namespaces, separated by dots. Example: "store.quality=2".
// Keys are converted to lower-case.
func Parse(in []string) (Options, error) {
	opts := make(Options, len(in))

	for _, opt := range in {
		key, value, _ := strings.Cut(opt, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		if key == "" {
			return Options{}, errors.Fatalf("empty key is not a valid option")
		}

		if v, ok := opts[key]; ok && v != value {
			return Options{}, errors.Fatalf("key %q present more than once", key)
		}

		opts[key] = value
	}

	return opts, nil
}

// Extract returns an Options type with all keys in namespace ns, which is
// also stripped from the keys.
func (o Options) Extract(ns string) Options {
	if !strings.HasSuffix(ns, ".") {
		ns += "."
	}

	opts := make(Options)

	for k, v := range o {
		if rest, ok := strings.CutPrefix(k, ns); ok {
			opts[rest] = v
		}
	}

	return opts
}

// Apply sets the options on dst via reflection, using the struct tag `option`.
// The namespace argument (ns) is only used for error messages.
func (o Options) Apply(ns string, dst interface{}) error {
	v := reflect.ValueOf(dst).Elem()

	fields := make(map[string]int)

	for i := 0; i < v.NumField(); i++ {
		tag := v.Type().Field(i).Tag.Get("option")
		if tag == "" {
			continue
		}

		if _, ok := fields[tag]; ok {
			panic("option tag " + tag + " is not unique in " + v.Type().Name())
		}

		fields[tag] = i
	}

	for key, value := range o {
		i, ok := fields[key]
		if !ok {
			if ns != "" {
				key = ns + "." + key
			}
			return errors.Fatalf("option %v is not known", key)
		}

		switch v.Type().Field(i).Type.Name() {
		case "string":
			v.Field(i).SetString(value)

		case "int":
			vi, err := strconv.ParseInt(value, 0, 32)
			if err != nil {
				return err
			}

			v.Field(i).SetInt(vi)

		case "uint":
			vi, err := strconv.ParseUint(value, 0, 32)
			if err != nil {
				return err
			}

			v.Field(i).SetUint(vi)

		case "bool":
			vi, err := strconv.ParseBool(value)
			if err != nil {
				return err
			}

			v.Field(i).SetBool(vi)

		case "Duration":
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}

			v.Field(i).SetInt(int64(d))

		default:
			panic("type " + v.Type().Field(i).Type.Name() + " not handled")
		}
	}

	return nil
}
