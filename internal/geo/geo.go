// Package geo projects WGS84 coordinates into the planar reference system
// positions are stored in, and answers the containment and distance
// questions the upsert engine asks about them.
package geo

import (
	"errors"
	"math"
)

// SRIDs used by importers.
const (
	SRIDWGS84       = 4326
	SRIDETRSTM35FIN = 3067
)

// ErrOutOfRange is returned for coordinates that are not valid degrees.
var ErrOutOfRange = errors.New("coordinate out of range")

// Point is a planar position in a projected SRID.
type Point struct {
	X, Y float64
}

// Distance is the Euclidean distance between a and b in projection units.
func Distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// Projection is a transverse Mercator projection on the GRS80 ellipsoid.
type Projection struct {
	SRID            int
	CentralMeridian float64
	Scale           float64
	FalseEasting    float64
	FalseNorthing   float64
}

// ETRSTM35FIN is the Finnish national grid.
var ETRSTM35FIN = Projection{
	SRID:            SRIDETRSTM35FIN,
	CentralMeridian: 27,
	Scale:           0.9996,
	FalseEasting:    500000,
}

// GRS80 ellipsoid and the Krüger series coefficients derived from it.
var (
	semiMajor  = 6378137.0
	flattening = 1 / 298.257222101
	thirdFlat  = flattening / (2 - flattening)
	rectifying = semiMajor / (1 + thirdFlat) * (1 + thirdFlat*thirdFlat/4 + math.Pow(thirdFlat, 4)/64)
	eccentric  = 2 * math.Sqrt(thirdFlat) / (1 + thirdFlat)
	alpha      = [3]float64{
		thirdFlat/2 - 2*thirdFlat*thirdFlat/3 + 5*math.Pow(thirdFlat, 3)/16,
		13*thirdFlat*thirdFlat/48 - 3*math.Pow(thirdFlat, 3)/5,
		61 * math.Pow(thirdFlat, 3) / 240,
	}
)

// Forward projects latitude and longitude in degrees.
func (p Projection) Forward(lat, lon float64) (Point, error) {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.Abs(lat) >= 90 || math.Abs(lon) > 180 {
		return Point{}, ErrOutOfRange
	}
	phi := lat * math.Pi / 180
	lambda := (lon - p.CentralMeridian) * math.Pi / 180

	t := math.Sinh(math.Atanh(math.Sin(phi)) - eccentric*math.Atanh(eccentric*math.Sin(phi)))
	xi := math.Atan2(t, math.Cos(lambda))
	eta := math.Atanh(math.Sin(lambda) / math.Sqrt(1+t*t))

	e, n := eta, xi
	for j, a := range alpha {
		k := 2 * float64(j+1)
		e += a * math.Cos(k*xi) * math.Sinh(k*eta)
		n += a * math.Sin(k*xi) * math.Cosh(k*eta)
	}
	return Point{
		X: p.FalseEasting + p.Scale*rectifying*e,
		Y: p.FalseNorthing + p.Scale*rectifying*n,
	}, nil
}

// Polygon is a closed ring of points; the closing edge is implicit.
type Polygon []Point

// Contains reports whether pt lies inside the polygon, by ray casting.
// An empty polygon contains everything.
func (poly Polygon) Contains(pt Point) bool {
	if len(poly) < 3 {
		return true
	}
	inside := false
	for i, j := 0, len(poly)-1; i < len(poly); j, i = i, i+1 {
		a, b := poly[i], poly[j]
		if (a.Y > pt.Y) != (b.Y > pt.Y) &&
			pt.X < (b.X-a.X)*(pt.Y-a.Y)/(b.Y-a.Y)+a.X {
			inside = !inside
		}
	}
	return inside
}

// BoundingBox returns the rectangle spanned by two corners.
func BoundingBox(minX, minY, maxX, maxY float64) Polygon {
	return Polygon{{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}}
}
