package mesh

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"github.com/kiranshivaraju/meshforge/internal/imageio"
	"github.com/kiranshivaraju/meshforge/pkg/models"
)

// Export formats.
const (
	FormatGLB = "glb"
	FormatOBJ = "obj"
)

// Export encodes m in the named format.
func Export(m *models.Mesh, format string) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case FormatGLB:
		err = EncodeGLB(&buf, m)
	case FormatOBJ:
		err = EncodeOBJ(&buf, m)
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeOBJ writes m as Wavefront OBJ. Texture coordinates are written when the
// mesh has one UV per vertex; V is flipped to OBJ's bottom-left origin.
func EncodeOBJ(w io.Writer, m *models.Mesh) error {
	if err := Validate(m); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# meshforge\n# vertices %d faces %d\n", len(m.Vertices), len(m.Faces))
	if len(m.Materials) > 0 {
		fmt.Fprintf(bw, "o %s\n", m.Materials[0].Name)
	}
	for _, v := range m.Vertices {
		bw.WriteString("v ")
		writeFloats(bw, v[:])
	}
	withUV := len(m.UVs) == len(m.Vertices)
	if withUV {
		for _, uv := range m.UVs {
			bw.WriteString("vt ")
			writeFloats(bw, []float64{uv[0], 1 - uv[1]})
		}
	}
	for _, f := range m.Faces {
		if withUV {
			fmt.Fprintf(bw, "f %d/%d %d/%d %d/%d\n", f[0]+1, f[0]+1, f[1]+1, f[1]+1, f[2]+1, f[2]+1)
		} else {
			fmt.Fprintf(bw, "f %d %d %d\n", f[0]+1, f[1]+1, f[2]+1)
		}
	}
	return bw.Flush()
}

func writeFloats(w *bufio.Writer, vs []float64) {
	for i, v := range vs {
		if i > 0 {
			w.WriteByte(' ')
		}
		w.WriteString(strconv.FormatFloat(v, 'f', 6, 64))
	}
	w.WriteByte('\n')
}

// EncodeGLB writes m as binary glTF. A textured mesh gets its texture embedded
// as PNG and bound as the base colour of the first material.
func EncodeGLB(w io.Writer, m *models.Mesh) error {
	if err := Validate(m); err != nil {
		return err
	}
	doc := gltf.NewDocument()

	positions := make([][3]float32, len(m.Vertices))
	for i, v := range m.Vertices {
		positions[i] = [3]float32{float32(v[0]), float32(v[1]), float32(v[2])}
	}
	indices := make([]uint32, 0, len(m.Faces)*3)
	for _, f := range m.Faces {
		indices = append(indices, uint32(f[0]), uint32(f[1]), uint32(f[2]))
	}

	attrs := gltf.PrimitiveAttributes{
		gltf.POSITION: modeler.WritePosition(doc, positions),
	}
	prim := &gltf.Primitive{
		Indices:    gltf.Index(modeler.WriteIndices(doc, indices)),
		Attributes: attrs,
	}

	mat := &gltf.Material{
		Name: "default",
		PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
			BaseColorFactor: &[4]float64{0.8, 0.8, 0.8, 1},
		},
	}
	if len(m.Materials) > 0 {
		mat.Name = m.Materials[0].Name
		bc := m.Materials[0].BaseColor
		mat.PBRMetallicRoughness.BaseColorFactor = &bc
	}

	if m.HasTexture() {
		uvs := make([][2]float32, len(m.UVs))
		for i, uv := range m.UVs {
			uvs[i] = [2]float32{float32(uv[0]), float32(uv[1])}
		}
		attrs[gltf.TEXCOORD_0] = modeler.WriteTextureCoord(doc, uvs)

		png, err := imageio.PNGBytes(m.Texture)
		if err != nil {
			return fmt.Errorf("encoding texture: %w", err)
		}
		img, err := modeler.WriteImage(doc, "texture", "image/png", bytes.NewReader(png))
		if err != nil {
			return fmt.Errorf("embedding texture: %w", err)
		}
		doc.Textures = append(doc.Textures, &gltf.Texture{Source: gltf.Index(img)})
		mat.PBRMetallicRoughness.BaseColorTexture = &gltf.TextureInfo{Index: len(doc.Textures) - 1}
		mat.PBRMetallicRoughness.BaseColorFactor = &[4]float64{1, 1, 1, 1}
	}

	doc.Materials = append(doc.Materials, mat)
	prim.Material = gltf.Index(len(doc.Materials) - 1)

	doc.Meshes = append(doc.Meshes, &gltf.Mesh{Name: "mesh", Primitives: []*gltf.Primitive{prim}})
	doc.Nodes = append(doc.Nodes, &gltf.Node{Name: "mesh", Mesh: gltf.Index(len(doc.Meshes) - 1)})
	doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, len(doc.Nodes)-1)

	enc := gltf.NewEncoder(w)
	enc.AsBinary = true
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding glb: %w", err)
	}
	return nil
}
