package models

import "image"

// Mesh is a triangle mesh exchanged between generation stages.
// Faces index into Vertices. UVs, when present, has one entry per vertex.
type Mesh struct {
	Vertices  [][3]float64
	Faces     [][3]int
	UVs       [][2]float64
	Materials []Material
	// Texture is the base colour image referenced by UVs. Nil for untextured meshes.
	Texture image.Image
}

// Material is a flat PBR material.
type Material struct {
	Name      string
	BaseColor [4]float64
	Textured  bool
}

// HasTexture reports whether m carries an extractable texture.
func (m *Mesh) HasTexture() bool {
	return m != nil && m.Texture != nil && len(m.UVs) == len(m.Vertices) && len(m.UVs) > 0
}

// Clone returns a copy of m with independent vertex, face and UV slices.
// The texture image is shared; stages treat it as read-only.
func (m *Mesh) Clone() *Mesh {
	if m == nil {
		return nil
	}
	c := &Mesh{
		Vertices:  append([][3]float64(nil), m.Vertices...),
		Faces:     append([][3]int(nil), m.Faces...),
		Materials: append([]Material(nil), m.Materials...),
		Texture:   m.Texture,
	}
	if m.UVs != nil {
		c.UVs = append([][2]float64(nil), m.UVs...)
	}
	return c
}
