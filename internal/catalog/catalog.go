// Package catalog reads and writes star lists and correspondence tables as CSV.
package catalog

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"

	"skyalign/internal/asterism"
	"skyalign/internal/match"
	"skyalign/pkg/geometry"

	"github.com/jszwec/csvutil"
)

type starRecord struct {
	X    float64 `csv:"x"`
	Y    float64 `csv:"y"`
	Flux float64 `csv:"flux"`
}

type pairRecord struct {
	Target   int     `csv:"target"`
	Ref      int     `csv:"ref"`
	TargetX  float64 `csv:"target_x"`
	TargetY  float64 `csv:"target_y"`
	RefX     float64 `csv:"ref_x"`
	RefY     float64 `csv:"ref_y"`
	Votes    int     `csv:"votes"`
	Residual float64 `csv:"residual"`
}

// ReadStars decodes a CSV with x and y columns and an optional flux column. Rows are
// returned brightest first when flux is present and in file order otherwise.
func ReadStars(r io.Reader) (asterism.PointSet, error) {
	dec, err := csvutil.NewDecoder(csv.NewReader(r))
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty catalog")
		}
		return nil, err
	}

	header := dec.Header()
	for _, col := range []string{"x", "y"} {
		if !slices.Contains(header, col) {
			return nil, fmt.Errorf("catalog header %v lacks column %q", header, col)
		}
	}
	hasFlux := slices.Contains(header, "flux")

	var set asterism.PointSet
	for {
		var rec starRecord
		if err := dec.Decode(&rec); err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("catalog row %d: %w", len(set)+1, err)
		}
		if math.IsNaN(rec.X) || math.IsNaN(rec.Y) || math.IsInf(rec.X, 0) || math.IsInf(rec.Y, 0) {
			return nil, fmt.Errorf("catalog row %d: non-finite position", len(set)+1)
		}
		set = append(set, asterism.Star{X: rec.X, Y: rec.Y, Flux: rec.Flux})
	}

	if hasFlux {
		set = set.SortByFlux()
	}
	return set, nil
}

// WriteStars encodes set with x, y and flux columns.
func WriteStars(w io.Writer, set asterism.PointSet) error {
	recs := make([]starRecord, len(set))
	for i, s := range set {
		recs[i] = starRecord{X: s.X, Y: s.Y, Flux: s.Flux}
	}
	return marshalTo(w, recs, starRecord{})
}

// LoadStars reads a star catalog file.
func LoadStars(path string) (asterism.PointSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	set, err := ReadStars(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// SaveStars writes a star catalog file.
func SaveStars(path string, set asterism.PointSet) error {
	var buf bytes.Buffer
	if err := WriteStars(&buf, set); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

// WritePairs encodes correspondences together with their residual under t.
func WritePairs(w io.Writer, pairs []match.Pair, t geometry.AffineTransform) error {
	recs := make([]pairRecord, len(pairs))
	for i, p := range pairs {
		recs[i] = pairRecord{
			Target:   p.Target,
			Ref:      p.Ref,
			TargetX:  p.TargetPoint.X,
			TargetY:  p.TargetPoint.Y,
			RefX:     p.RefPoint.X,
			RefY:     p.RefPoint.Y,
			Votes:    p.Votes,
			Residual: t.Apply(p.TargetPoint).Distance(p.RefPoint),
		}
	}
	return marshalTo(w, recs, pairRecord{})
}

// SavePairs writes a correspondence table file.
func SavePairs(path string, pairs []match.Pair, t geometry.AffineTransform) error {
	var buf bytes.Buffer
	if err := WritePairs(&buf, pairs, t); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

// ReadPairs decodes a correspondence table. Residuals are not read back.
func ReadPairs(r io.Reader) ([]match.Pair, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var recs []pairRecord
	if err := csvutil.Unmarshal(data, &recs); err != nil {
		return nil, err
	}
	pairs := make([]match.Pair, len(recs))
	for i, rec := range recs {
		pairs[i] = match.Pair{
			Target:      rec.Target,
			Ref:         rec.Ref,
			TargetPoint: geometry.Point2D{X: rec.TargetX, Y: rec.TargetY},
			RefPoint:    geometry.Point2D{X: rec.RefX, Y: rec.RefY},
			Votes:       rec.Votes,
		}
	}
	return pairs, nil
}

// marshalTo writes recs with a header even when there are no rows.
func marshalTo[T any](w io.Writer, recs []T, zero T) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)
	if len(recs) == 0 {
		if err := enc.EncodeHeader(zero); err != nil {
			return err
		}
	}
	for _, rec := range recs {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
