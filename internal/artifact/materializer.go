package artifact

import (
	"context"
	"encoding/hex"
	"fmt"
	"image"
	"io"
	"path"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/kiranshivaraju/meshforge/internal/imageio"
	"github.com/kiranshivaraju/meshforge/internal/mesh"
	"github.com/kiranshivaraju/meshforge/pkg/models"
)

// Content types of the persisted outputs.
const (
	ContentTypeGLB = "model/gltf-binary"
	ContentTypeOBJ = "model/obj"
	ContentTypePNG = "image/png"
)

// Materializer writes a job's mesh exports and images into a FileStore.
type Materializer struct {
	files *FileStore
}

// NewMaterializer creates a Materializer backed by files.
func NewMaterializer(files *FileStore) *Materializer {
	return &Materializer{files: files}
}

// DownloadURL is the handle under which an artifact is served.
func DownloadURL(jobID uuid.UUID, kind models.ArtifactKind) string {
	return fmt.Sprintf("/download/%s/%s", jobID, kind)
}

// Persist exports m as GLB and OBJ, stores the processed input image and, when m
// carries one, its texture. The returned map lists exactly what was written.
func (m *Materializer) Persist(ctx context.Context, jobID uuid.UUID, msh *models.Mesh, processed image.Image) (models.Artifacts, error) {
	type output struct {
		kind        models.ArtifactKind
		filename    string
		contentType string
		encode      func() ([]byte, error)
	}
	id := jobID.String()
	outputs := []output{
		{models.ArtifactModelGLB, id + ".glb", ContentTypeGLB, func() ([]byte, error) { return mesh.Export(msh, mesh.FormatGLB) }},
		{models.ArtifactModelOBJ, id + ".obj", ContentTypeOBJ, func() ([]byte, error) { return mesh.Export(msh, mesh.FormatOBJ) }},
		{models.ArtifactImage, id + "_processed.png", ContentTypePNG, func() ([]byte, error) { return imageio.PNGBytes(processed) }},
	}
	if msh.HasTexture() {
		outputs = append(outputs, output{models.ArtifactTexture, id + "_texture.png", ContentTypePNG, func() ([]byte, error) {
			return imageio.PNGBytes(msh.Texture)
		}})
	}

	arts := make(models.Artifacts, len(outputs))
	for _, o := range outputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := o.encode()
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", o.kind, err)
		}
		if err := m.files.Write(path.Join(id, o.filename), data); err != nil {
			return nil, err
		}
		arts[o.kind] = models.Artifact{
			Kind:        o.kind,
			URL:         DownloadURL(jobID, o.kind),
			Filename:    o.filename,
			ContentType: o.contentType,
			Size:        int64(len(data)),
			ETag:        digest(data),
		}
	}
	return arts, nil
}

// Open returns a reader for an artifact previously returned by Persist.
func (m *Materializer) Open(jobID uuid.UUID, a models.Artifact) (io.ReadSeekCloser, error) {
	r, _, err := m.files.Open(path.Join(jobID.String(), a.Filename))
	return r, err
}

func digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}
