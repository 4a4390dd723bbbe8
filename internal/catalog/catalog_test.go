package catalog

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"skyalign/internal/asterism"
	"skyalign/internal/match"
	"skyalign/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadStarsSortsByFlux(t *testing.T) {
	in := "id,x,y,flux\na,1.5,2,10\nb,3,4.25,300\nc,5,6,20\n"
	set, err := ReadStars(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, set, 3)
	assert.Equal(t, asterism.Star{X: 3, Y: 4.25, Flux: 300}, set[0])
	assert.Equal(t, asterism.Star{X: 5, Y: 6, Flux: 20}, set[1])
	assert.Equal(t, asterism.Star{X: 1.5, Y: 2, Flux: 10}, set[2])
}

func TestReadStarsKeepsOrderWithoutFlux(t *testing.T) {
	set, err := ReadStars(strings.NewReader("y,x\n1,9\n2,8\n3,7\n"))
	require.NoError(t, err)
	assert.Equal(t, []geometry.Point2D{{X: 9, Y: 1}, {X: 8, Y: 2}, {X: 7, Y: 3}}, set.Points())
}

func TestReadStarsErrors(t *testing.T) {
	for name, in := range map[string]string{
		"empty":     "",
		"no y":      "x,flux\n1,2\n",
		"bad value": "x,y\n1,abc\n",
		"nan":       "x,y\nNaN,1\n",
	} {
		_, err := ReadStars(strings.NewReader(in))
		assert.Error(t, err, name)
	}
}

func TestStarsRoundTripFile(t *testing.T) {
	set := asterism.PointSet{{X: 10.125, Y: 3, Flux: 9}, {X: 0.1, Y: 1e-3, Flux: 2}}
	path := filepath.Join(t.TempDir(), "stars.csv")
	require.NoError(t, SaveStars(path, set))

	back, err := LoadStars(path)
	require.NoError(t, err)
	assert.Equal(t, set, back)

	_, err = LoadStars(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestWriteStarsEmptyHasHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteStars(&buf, nil))
	assert.Equal(t, "x,y,flux\n", buf.String())
}

func TestPairs(t *testing.T) {
	pairs := []match.Pair{
		{Target: 0, Ref: 4, TargetPoint: geometry.Point2D{X: 1, Y: 1}, RefPoint: geometry.Point2D{X: 4, Y: 5}, Votes: 12},
		{Target: 3, Ref: 1, TargetPoint: geometry.Point2D{X: 2, Y: 0}, RefPoint: geometry.Point2D{X: 5, Y: 5}, Votes: 7},
	}
	tr := geometry.Translation(3, 4)

	var buf bytes.Buffer
	require.NoError(t, WritePairs(&buf, pairs, tr))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "target,ref,target_x,target_y,ref_x,ref_y,votes,residual", lines[0])
	assert.True(t, strings.HasSuffix(lines[2], ",1"), lines[2])

	back, err := ReadPairs(&buf)
	require.NoError(t, err)
	assert.Equal(t, pairs, back)

	path := filepath.Join(t.TempDir(), "pairs.csv")
	require.NoError(t, SavePairs(path, pairs, tr))
}
