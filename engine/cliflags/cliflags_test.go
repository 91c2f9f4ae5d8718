package cliflags

import (
	"reflect"
	"testing"
)

type runOpts struct {
	Name    string            `flag:"--name"`
	CPU     string            `flag:"--cpus"`
	Detach  bool              `flag:"--detach"`
	Ports   []string          `flag:"--publish"`
	Labels  map[string]string `flag:"--label"`
	Ignored string
}

type execOpts struct {
	runOpts
	Interactive bool `flag:"--interactive"`
}

type keepZeroOpts struct {
	Retries int `flag:"--retries,keepzero"`
}

func TestToArgsSkipsZeroValuedFields(t *testing.T) {
	got := ToArgs(&runOpts{Name: "dyad-app-1"})
	want := []string{"--name", "dyad-app-1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ToArgs() = %#v, want %#v", got, want)
	}
}

func TestToArgsBoolFlagHasNoValue(t *testing.T) {
	got := ToArgs(&runOpts{Detach: true})
	want := []string{"--detach"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ToArgs() = %#v, want %#v", got, want)
	}
}

func TestToArgsSliceRepeatsFlag(t *testing.T) {
	got := ToArgs(&runOpts{Ports: []string{"3000:3000", "5173:5173"}})
	want := []string{"--publish", "3000:3000", "--publish", "5173:5173"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ToArgs() = %#v, want %#v", got, want)
	}
}

func TestToArgsMapSortedByKey(t *testing.T) {
	got := ToArgs(&runOpts{Labels: map[string]string{"b": "2", "a": "1"}})
	want := []string{"--label", "a=1,b=2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ToArgs() = %#v, want %#v", got, want)
	}
}

func TestToArgsUntaggedFieldIgnored(t *testing.T) {
	got := ToArgs(&runOpts{Ignored: "anything"})
	if len(got) != 0 {
		t.Errorf("ToArgs() = %#v, want empty (untagged field must not emit a flag)", got)
	}
}

func TestToArgsFlattensEmbeddedStruct(t *testing.T) {
	got := ToArgs(&execOpts{runOpts: runOpts{Name: "dyad-app-2"}, Interactive: true})
	want := []string{"--name", "dyad-app-2", "--interactive"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ToArgs() = %#v, want %#v", got, want)
	}
}

func TestToArgsKeepZeroEmitsZeroValue(t *testing.T) {
	got := ToArgs(&keepZeroOpts{})
	want := []string{"--retries", "0"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ToArgs() = %#v, want %#v", got, want)
	}
}

func TestToArgsNilPointerUsesZeroValue(t *testing.T) {
	got := ToArgs[runOpts](nil)
	if len(got) != 0 {
		t.Errorf("ToArgs(nil) = %#v, want empty", got)
	}
}
