// Copyright 2025 Certen Protocol

package consensus

import "testing"

func TestPacemakerDoublesAndCaps(t *testing.T) {
	p := NewPacemaker()
	if p.Timeout() != BaseViewTimeout {
		t.Fatalf("expected base timeout %v, got %v", BaseViewTimeout, p.Timeout())
	}

	want := BaseViewTimeout
	for i := 0; i < 10; i++ {
		want *= 2
		if want > MaxViewTimeout {
			want = MaxViewTimeout
		}
		if got := p.OnViewChange(); got != want {
			t.Fatalf("iteration %d: expected %v, got %v", i, want, got)
		}
	}
	if p.Timeout() != MaxViewTimeout {
		t.Fatalf("expected timeout to saturate at %v, got %v", MaxViewTimeout, p.Timeout())
	}
}

func TestPacemakerResetsOnFinalize(t *testing.T) {
	p := NewPacemaker()
	p.OnViewChange()
	p.OnViewChange()
	if p.Timeout() == BaseViewTimeout {
		t.Fatalf("expected timeout to have grown past base before reset")
	}
	p.OnFinalize()
	if p.Timeout() != BaseViewTimeout {
		t.Fatalf("expected reset to base timeout, got %v", p.Timeout())
	}
}
