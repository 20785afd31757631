package remote

import (
	"fmt"
	"image"

	"github.com/kiranshivaraju/meshforge/internal/mesh"
	"github.com/kiranshivaraju/meshforge/pkg/models"
)

// meshPayload is the worker's JSON mesh encoding.
type meshPayload struct {
	Vertices  [][3]float64      `json:"vertices"`
	Faces     [][3]int          `json:"faces"`
	UVs       [][2]float64      `json:"uvs,omitempty"`
	Materials []materialPayload `json:"materials,omitempty"`
}

type materialPayload struct {
	Name      string     `json:"name"`
	BaseColor [4]float64 `json:"base_color"`
	Textured  bool       `json:"textured,omitempty"`
}

func fromMesh(m *models.Mesh) meshPayload {
	p := meshPayload{Vertices: m.Vertices, Faces: m.Faces, UVs: m.UVs}
	for _, mat := range m.Materials {
		p.Materials = append(p.Materials, materialPayload{Name: mat.Name, BaseColor: mat.BaseColor, Textured: mat.Textured})
	}
	return p
}

// toMesh validates the payload and converts it, attaching tex.
func (p meshPayload) toMesh(tex image.Image) (*models.Mesh, error) {
	m := &models.Mesh{Vertices: p.Vertices, Faces: p.Faces, UVs: p.UVs, Texture: tex}
	for _, mat := range p.Materials {
		m.Materials = append(m.Materials, models.Material{Name: mat.Name, BaseColor: mat.BaseColor, Textured: mat.Textured})
	}
	if err := mesh.Validate(m); err != nil {
		return nil, fmt.Errorf("%w: worker returned %w", models.ErrStageFailed, err)
	}
	return m, nil
}
