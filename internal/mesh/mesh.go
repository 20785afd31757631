// Package mesh holds the pure-Go triangle mesh utilities shared by the generation
// backends and the artifact materializer.
package mesh

import (
	"errors"
	"fmt"
	"math"

	"github.com/kiranshivaraju/meshforge/pkg/models"
)

// ErrInvalidMesh is returned by Validate for meshes no stage may emit.
var ErrInvalidMesh = errors.New("invalid mesh")

// degenerateEps is the squared doubled-area below which a triangle counts as zero area.
const degenerateEps = 1e-20

// Validate checks that m is non-empty and every face references an existing vertex.
func Validate(m *models.Mesh) error {
	if m == nil {
		return fmt.Errorf("%w: nil mesh", ErrInvalidMesh)
	}
	if len(m.Vertices) == 0 || len(m.Faces) == 0 {
		return fmt.Errorf("%w: %d vertices, %d faces", ErrInvalidMesh, len(m.Vertices), len(m.Faces))
	}
	if m.UVs != nil && len(m.UVs) != len(m.Vertices) {
		return fmt.Errorf("%w: %d uvs for %d vertices", ErrInvalidMesh, len(m.UVs), len(m.Vertices))
	}
	for i, f := range m.Faces {
		for _, v := range f {
			if v < 0 || v >= len(m.Vertices) {
				return fmt.Errorf("%w: face %d references vertex %d", ErrInvalidMesh, i, v)
			}
		}
	}
	return nil
}

// Clean applies floater removal, degenerate-face removal and face reduction in
// that order. The input is not modified.
func Clean(m *models.Mesh, maxFaces int) (*models.Mesh, error) {
	if err := Validate(m); err != nil {
		return nil, err
	}
	out := RemoveFloaters(m)
	out = RemoveDegenerateFaces(out)
	out = ReduceFaces(out, maxFaces)
	if err := Validate(out); err != nil {
		return nil, fmt.Errorf("cleanup removed all geometry: %w", err)
	}
	return out, nil
}

// RemoveFloaters keeps only the largest face-connected component of m.
func RemoveFloaters(m *models.Mesh) *models.Mesh {
	if len(m.Faces) == 0 {
		return m.Clone()
	}
	parent := make([]int, len(m.Vertices))
	for i := range parent {
		parent[i] = i
	}
	find := func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}
	for _, f := range m.Faces {
		union(f[0], f[1])
		union(f[1], f[2])
	}

	sizes := make(map[int]int)
	best, bestSize := -1, 0
	for _, f := range m.Faces {
		r := find(f[0])
		sizes[r]++
		if sizes[r] > bestSize {
			best, bestSize = r, sizes[r]
		}
	}

	out := m.Clone()
	out.Faces = out.Faces[:0]
	for _, f := range m.Faces {
		if find(f[0]) == best {
			out.Faces = append(out.Faces, f)
		}
	}
	return Compact(out)
}

// RemoveDegenerateFaces drops faces with repeated vertex indices or zero area.
func RemoveDegenerateFaces(m *models.Mesh) *models.Mesh {
	out := m.Clone()
	out.Faces = out.Faces[:0]
	for _, f := range m.Faces {
		if isDegenerate(m.Vertices, f) {
			continue
		}
		out.Faces = append(out.Faces, f)
	}
	return Compact(out)
}

func isDegenerate(verts [][3]float64, f [3]int) bool {
	if f[0] == f[1] || f[1] == f[2] || f[0] == f[2] {
		return true
	}
	c := cross(sub(verts[f[1]], verts[f[0]]), sub(verts[f[2]], verts[f[0]]))
	return dot(c, c) <= degenerateEps
}

// ReduceFaces simplifies m to at most maxFaces faces by clustering vertices on a
// shrinking grid. If clustering cannot land within budget the face list is truncated.
// maxFaces <= 0 leaves m unchanged.
func ReduceFaces(m *models.Mesh, maxFaces int) *models.Mesh {
	if maxFaces <= 0 || len(m.Faces) <= maxFaces {
		return m.Clone()
	}

	bb := bounds(m.Vertices)
	prev := m
	for n := max(2, int(math.Sqrt(float64(maxFaces)))); n >= 2; n = n * 4 / 5 {
		c := cluster(m, bb, n)
		if len(c.Faces) == 0 {
			break
		}
		if len(c.Faces) <= maxFaces {
			return c
		}
		prev = c
	}

	out := prev.Clone()
	out.Faces = out.Faces[:maxFaces]
	return Compact(out)
}

// cluster snaps vertices to an n×n×n grid over bb, merging every vertex in a cell
// into their centroid, and drops faces that collapse.
func cluster(m *models.Mesh, bb models.BoundingBox, n int) *models.Mesh {
	type cell [3]int
	var size [3]float64
	for a := 0; a < 3; a++ {
		size[a] = (bb.Max[a] - bb.Min[a]) / float64(n)
	}
	cellOf := func(v [3]float64) cell {
		var c cell
		for a := 0; a < 3; a++ {
			if size[a] > 0 {
				c[a] = min(n-1, int((v[a]-bb.Min[a])/size[a]))
			}
		}
		return c
	}

	index := make(map[cell]int)
	remap := make([]int, len(m.Vertices))
	var sums [][3]float64
	var uvSums [][2]float64
	var counts []int
	for i, v := range m.Vertices {
		c := cellOf(v)
		j, ok := index[c]
		if !ok {
			j = len(sums)
			index[c] = j
			sums = append(sums, [3]float64{})
			uvSums = append(uvSums, [2]float64{})
			counts = append(counts, 0)
		}
		remap[i] = j
		for a := 0; a < 3; a++ {
			sums[j][a] += v[a]
		}
		if m.UVs != nil {
			uvSums[j][0] += m.UVs[i][0]
			uvSums[j][1] += m.UVs[i][1]
		}
		counts[j]++
	}

	out := &models.Mesh{
		Vertices:  make([][3]float64, len(sums)),
		Materials: append([]models.Material(nil), m.Materials...),
		Texture:   m.Texture,
	}
	for j := range sums {
		k := float64(counts[j])
		out.Vertices[j] = [3]float64{sums[j][0] / k, sums[j][1] / k, sums[j][2] / k}
	}
	if m.UVs != nil {
		out.UVs = make([][2]float64, len(sums))
		for j := range uvSums {
			k := float64(counts[j])
			out.UVs[j] = [2]float64{uvSums[j][0] / k, uvSums[j][1] / k}
		}
	}

	seen := make(map[[3]int]struct{})
	for _, f := range m.Faces {
		g := [3]int{remap[f[0]], remap[f[1]], remap[f[2]]}
		if g[0] == g[1] || g[1] == g[2] || g[0] == g[2] {
			continue
		}
		key := canonical(g)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out.Faces = append(out.Faces, g)
	}
	return Compact(out)
}

// canonical rotates f so its smallest index comes first, preserving winding.
func canonical(f [3]int) [3]int {
	switch {
	case f[1] < f[0] && f[1] < f[2]:
		return [3]int{f[1], f[2], f[0]}
	case f[2] < f[0] && f[2] < f[1]:
		return [3]int{f[2], f[0], f[1]}
	}
	return f
}

// Compact removes vertices not referenced by any face, keeping UVs aligned.
// It modifies and returns m.
func Compact(m *models.Mesh) *models.Mesh {
	remap := make([]int, len(m.Vertices))
	for i := range remap {
		remap[i] = -1
	}
	verts := make([][3]float64, 0, len(m.Vertices))
	var uvs [][2]float64
	if m.UVs != nil {
		uvs = make([][2]float64, 0, len(m.UVs))
	}
	for fi, f := range m.Faces {
		for k, v := range f {
			if remap[v] < 0 {
				remap[v] = len(verts)
				verts = append(verts, m.Vertices[v])
				if m.UVs != nil {
					uvs = append(uvs, m.UVs[v])
				}
			}
			m.Faces[fi][k] = remap[v]
		}
	}
	m.Vertices = verts
	m.UVs = uvs
	return m
}

// Stats summarises m for a generation result.
func Stats(m *models.Mesh) models.MeshStats {
	return models.MeshStats{
		Vertices:    len(m.Vertices),
		Faces:       len(m.Faces),
		Materials:   len(m.Materials),
		HasTexture:  m.HasTexture(),
		BoundingBox: bounds(m.Vertices),
	}
}

func bounds(verts [][3]float64) models.BoundingBox {
	var bb models.BoundingBox
	if len(verts) == 0 {
		return bb
	}
	bb.Min, bb.Max = verts[0], verts[0]
	for _, v := range verts[1:] {
		for a := 0; a < 3; a++ {
			bb.Min[a] = math.Min(bb.Min[a], v[a])
			bb.Max[a] = math.Max(bb.Max[a], v[a])
		}
	}
	return bb
}

func sub(a, b [3]float64) [3]float64 { return [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }

func dot(a, b [3]float64) float64 { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}
