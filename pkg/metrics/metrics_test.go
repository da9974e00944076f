// Copyright 2025 Certen Protocol

package metrics

import "testing"

func TestMustRegisterIsIdempotentAcrossFreshRegistries(t *testing.T) {
	r1 := NewRegistry()
	MustRegister(r1)

	r2 := NewRegistry()
	MustRegister(r2)

	ValidatorStake.WithLabelValues("validator-1").Set(42)
	got, err := r1.Gather()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) == 0 {
		t.Fatal("expected at least one metric family after registration")
	}
}
