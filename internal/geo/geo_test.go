package geo

import (
	"errors"
	"math"
	"testing"
)

func TestForward_KnownPoints(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		want     Point
	}{
		{"central meridian at 60N", 60, 27, Point{500000, 6651411.190}},
		{"helsinki", 60.17, 24.94, Point{385700.421, 6672126.743}},
		{"west of meridian", 60, 24, Point{332705.179, 6655205.484}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ETRSTM35FIN.Forward(tt.lat, tt.lon)
			if err != nil {
				t.Fatal(err)
			}
			if d := Distance(got, tt.want); d > 0.01 {
				t.Errorf("Forward(%v, %v) = %+v, off by %.4f m", tt.lat, tt.lon, got, d)
			}
		})
	}
}

func TestForward_OutOfRange(t *testing.T) {
	for _, c := range [][2]float64{{91, 24}, {-90, 0}, {60, 181}, {math.NaN(), 24}} {
		if _, err := ETRSTM35FIN.Forward(c[0], c[1]); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("Forward(%v) err = %v, want ErrOutOfRange", c, err)
		}
	}
}

func TestForward_TinyMoveIsBelowTolerance(t *testing.T) {
	// A 1e-7 degree move is about a centimetre on the ground.
	a, _ := ETRSTM35FIN.Forward(60.0, 24.0)
	b, _ := ETRSTM35FIN.Forward(60.0000001, 24.0000001)
	if d := Distance(a, b); d >= 0.10 {
		t.Errorf("distance = %v, want < 0.10", d)
	}
}

func TestPolygon_Contains(t *testing.T) {
	box := BoundingBox(0, 0, 10, 10)

	tests := []struct {
		pt   Point
		want bool
	}{
		{Point{5, 5}, true},
		{Point{0.5, 9.5}, true},
		{Point{-1, 5}, false},
		{Point{5, 11}, false},
	}
	for _, tt := range tests {
		if got := box.Contains(tt.pt); got != tt.want {
			t.Errorf("Contains(%+v) = %v, want %v", tt.pt, got, tt.want)
		}
	}

	// A concave L shape excludes its notch.
	l := Polygon{{0, 0}, {10, 0}, {10, 4}, {4, 4}, {4, 10}, {0, 10}}
	if l.Contains(Point{7, 7}) {
		t.Error("point in the notch should be outside")
	}
	if !l.Contains(Point{2, 7}) {
		t.Error("point in the upright should be inside")
	}
}

func TestPolygon_EmptyContainsAll(t *testing.T) {
	if !Polygon(nil).Contains(Point{1e9, -1e9}) {
		t.Error("empty polygon should not restrict")
	}
}
