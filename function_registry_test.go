package rla

import (
	"reflect"
	"testing"
)

func TestFunctionRegistry(t *testing.T) {
	registry := NewFunctionRegistry()
	echo := func(args ...any) (any, error) { return args, nil }
	if err := registry.Register("Echo", echo); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register("echo", echo); err == nil {
		t.Fatalf("expected case-insensitive duplicate to fail")
	}
	if err := registry.Register("", echo); err == nil {
		t.Fatalf("expected empty name to fail")
	}
	if err := registry.Register("nil", nil); err == nil {
		t.Fatalf("expected nil function to fail")
	}

	got, err := registry.Call("ECHO", 1, "a")
	if err != nil || !reflect.DeepEqual(got, []any{1, "a"}) {
		t.Fatalf("unexpected call result %v (%v)", got, err)
	}
	if _, err := registry.Call("missing"); err == nil {
		t.Fatalf("expected missing function to fail")
	}

	clone := registry.Clone()
	_ = clone.Register("extra", echo)
	if !reflect.DeepEqual(registry.Names(), []string{"Echo"}) {
		t.Fatalf("clone shares entries with original: %v", registry.Names())
	}

	var empty *FunctionRegistry
	if empty.Names() != nil || empty.Clone() != nil {
		t.Fatalf("nil registry must be inert")
	}
}

func TestDefaultFunctionRegistry(t *testing.T) {
	registry := DefaultFunctionRegistry()
	if want := []string{"discrepancyTotal", "isTerminal", "isValidTransition", "successors"}; !reflect.DeepEqual(registry.Names(), want) {
		t.Fatalf("expected %v, got %v", want, registry.Names())
	}

	cases := []struct {
		name string
		args []any
		want any
	}{
		{"isValidTransition", []any{"County", "COUNTY_INITIAL_STATE", "BALLOT_MANIFEST_OK"}, true},
		{"isValidTransition", []any{"DOS", "DOS_INITIAL_STATE", "DOS_AUDIT_ONGOING"}, false},
		{"isTerminal", []any{"AuditBoard", "AUDIT_ABORTED"}, true},
		{"successors", []any{"DOS", "DOS_ROUND_COMPLETE"}, []any{"DOS_AUDIT_COMPLETE", "DOS_AUDIT_ONGOING"}},
		{"discrepancyTotal", []any{map[string]any{"-1": 2.0, "1": int64(3), "x": 9}}, 5},
		{"discrepancyTotal", []any{nil}, 0},
	}
	for _, tc := range cases {
		got, err := registry.Call(tc.name, tc.args...)
		if err != nil {
			t.Fatalf("%s%v: %v", tc.name, tc.args, err)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("%s%v: expected %v, got %v", tc.name, tc.args, tc.want, got)
		}
	}

	failures := []struct {
		name string
		args []any
	}{
		{"isValidTransition", []any{"County", "COUNTY_INITIAL_STATE"}},
		{"isTerminal", []any{"County", 3}},
		{"discrepancyTotal", []any{"counts"}},
		{"discrepancyTotal", []any{map[string]any{"1": "two"}}},
	}
	for _, tc := range failures {
		if _, err := registry.Call(tc.name, tc.args...); err == nil {
			t.Fatalf("%s%v: expected error", tc.name, tc.args)
		}
	}
}
