package symbol

import (
	"context"
	"errors"
	"testing"

	"stocksync/internal/model"
)

type fakeProbe struct {
	resolvable map[string]bool
	calls      int
}

func (f *fakeProbe) Resolvable(_ context.Context, sym string) (bool, error) {
	f.calls++
	return f.resolvable[sym], nil
}

type fakeKnown map[string]bool

func (f fakeKnown) HasTicker(_ context.Context, sym string) (bool, error) {
	return f[sym], nil
}

func TestClean(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		secType    string
		exchange   string
		resolvable map[string]bool
		known      map[string]bool
		want       string
	}{
		{
			name:     "nasdaq share class drops separator",
			raw:      "BRK.B",
			secType:  model.TypeCommonStock,
			exchange: "XNAS",
			want:     "BRKB",
		},
		{
			name:     "non-nasdaq keeps separator",
			raw:      "BRK.B",
			secType:  model.TypeCommonStock,
			exchange: "XNYS",
			want:     "BRK.B",
		},
		{
			name:       "warrant resolvable as-is",
			raw:        "ABCD.WS",
			secType:    model.TypeWarrant,
			exchange:   "XNYS",
			resolvable: map[string]bool{"ABCD.WS": true},
			want:       "ABCD.WS",
		},
		{
			name:     "warrant with known base gets marker",
			raw:      "XYZ.WS",
			secType:  model.TypeWarrant,
			exchange: "XNYS",
			known:    map[string]bool{"XYZ": true},
			want:     "XYZ+",
		},
		{
			name:     "warrant with class dot after suffix",
			raw:      "XYZ.WS.A",
			secType:  model.TypeWarrant,
			exchange: "XNYS",
			known:    map[string]bool{"XYZ": true},
			want:     "XYZ+A",
		},
		{
			name:     "warrant with unknown base truncates",
			raw:      "QQQQ.WS",
			secType:  model.TypeWarrant,
			exchange: "XNYS",
			want:     "QQQQ",
		},
		{
			name:     "preferred lowercase marker",
			raw:      "BACpK",
			secType:  model.TypePreferred,
			exchange: "XNYS",
			want:     "BAC-K",
		},
		{
			name:     "subordinated preferred lowercase marker",
			raw:      "GABpG",
			secType:  model.TypeSubPref,
			exchange: "XNYS",
			want:     "GAB-G",
		},
		{
			name:     "rights lowercase marker",
			raw:      "SABSr",
			secType:  model.TypeRight,
			exchange: "XNYS",
			want:     "SABS.RT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probe := &fakeProbe{resolvable: tt.resolvable}
			n := New(probe, fakeKnown(tt.known))
			got, err := n.Clean(context.Background(), tt.raw, tt.secType, tt.exchange)
			if err != nil {
				t.Fatalf("Clean(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("Clean(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestCleanEmptyFails(t *testing.T) {
	n := New(&fakeProbe{}, fakeKnown(nil))
	_, err := n.Clean(context.Background(), "   ", model.TypeCommonStock, "XNAS")
	if !errors.Is(err, ErrInvalidSymbol) {
		t.Fatalf("Clean of blank input returned %v, want ErrInvalidSymbol", err)
	}
}

func TestCleanOnlyProbesWarrants(t *testing.T) {
	probe := &fakeProbe{}
	n := New(probe, fakeKnown(nil))
	if _, err := n.Clean(context.Background(), "AAPL", model.TypeCommonStock, "XNAS"); err != nil {
		t.Fatal(err)
	}
	if probe.calls != 0 {
		t.Fatalf("probe called %d times for common stock, want 0", probe.calls)
	}
}

func TestMemoProberCaches(t *testing.T) {
	probe := &fakeProbe{resolvable: map[string]bool{"X.WS": true}}
	memo := NewMemoProber(probe)
	for i := 0; i < 3; i++ {
		ok, err := memo.Resolvable(context.Background(), "X.WS")
		if err != nil || !ok {
			t.Fatalf("Resolvable = %v, %v", ok, err)
		}
	}
	if probe.calls != 1 {
		t.Fatalf("inner probe called %d times, want 1", probe.calls)
	}
}
