// Package cliflags builds CLI argument slices from tagged option structs.
// The reflection walk is lifted from the apple-container binding's
// options.ToArgs (options/options.go in the original tree) and generalized
// here so both the Docker and Podman handlers can describe their run/exec/
// stop flags declaratively instead of hand-assembling []string slices at
// every call site.
package cliflags

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
)

// ToArgs walks the exported fields of *s and emits one or more CLI
// arguments per field carrying a `flag:"..."` tag. Anonymous embedded
// structs are flattened. Zero-valued fields are skipped unless the tag
// carries a ",keepzero" modifier. Maps render as "--flag key=value,..." with
// keys sorted for deterministic output (important for tests and for the
// dependency hash of generated commands).
func ToArgs[T any](s *T) []string {
	if s == nil {
		s = new(T)
	}
	return structArgs(reflect.ValueOf(*s))
}

func structArgs(sv reflect.Value) []string {
	var ret []string
	st := sv.Type()

	for i := range st.NumField() {
		field := st.Field(i)
		fv := sv.Field(i)

		if field.Anonymous && field.Type.Kind() == reflect.Struct {
			ret = append(ret, structArgs(fv)...)
			continue
		}

		flagTag, ok := field.Tag.Lookup("flag")
		if !ok {
			continue
		}
		flagParts := strings.Split(flagTag, ",")
		flagName := flagParts[0]
		keepZero := len(flagParts) > 1 && strings.EqualFold(flagParts[1], "keepzero")

		if !keepZero && fv.IsZero() {
			continue
		}
		if ret == nil {
			ret = []string{}
		}

		switch field.Type.Kind() {
		case reflect.Slice, reflect.Array:
			for i := 0; i < fv.Len(); i++ {
				ret = append(ret, flagName, fmt.Sprintf("%v", fv.Index(i)))
			}
			continue
		case reflect.Map:
			keys := make([]string, 0, fv.Len())
			for _, k := range fv.MapKeys() {
				keys = append(keys, k.String())
			}
			slices.Sort(keys)
			vals := make([]string, 0, len(keys))
			for _, k := range keys {
				vals = append(vals, fmt.Sprintf("%s=%s", k, fv.MapIndex(reflect.ValueOf(k)).String()))
			}
			ret = append(ret, flagName, strings.Join(vals, ","))
			continue
		case reflect.Bool:
			ret = append(ret, flagName)
			continue
		default:
			ret = append(ret, flagName, fmt.Sprintf("%v", fv))
		}
	}
	return ret
}
