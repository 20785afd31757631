package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/kiranshivaraju/meshforge/internal/api/response"
	"github.com/kiranshivaraju/meshforge/pkg/models"
)

// DefaultMaxUploadBytes bounds multipart bodies when no limit is configured.
const DefaultMaxUploadBytes = 32 << 20

// multipartMemory is how much of a multipart body is held in memory before
// spilling to temp files.
const multipartMemory = 8 << 20

var errMissingFile = errors.New("missing file")

// parseForm parses a multipart or url-encoded body of at most maxBytes. It
// writes the error response itself and reports whether parsing succeeded.
func parseForm(w http.ResponseWriter, r *http.Request, maxBytes int64) bool {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	if r.ContentLength > maxBytes {
		writeTooLarge(w, maxBytes)
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		err = r.ParseMultipartForm(multipartMemory)
	} else {
		err = r.ParseForm()
	}
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeTooLarge(w, tooLarge.Limit)
		return false
	}
	response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid form body", nil)
	return false
}

func writeTooLarge(w http.ResponseWriter, limit int64) {
	response.Error(w, http.StatusRequestEntityTooLarge, "REQUEST_TOO_LARGE",
		fmt.Sprintf("Upload exceeds %d bytes", limit), nil)
}

// readFile returns the contents of the first present file field in names.
func readFile(r *http.Request, names ...string) ([]byte, error) {
	for _, name := range names {
		f, _, err := r.FormFile(name)
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			continue
		}
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return io.ReadAll(f)
	}
	return nil, errMissingFile
}

// fieldError reports a form value that could not be parsed.
type fieldError struct {
	Field string
	Value string
	Want  string
}

func (e *fieldError) Error() string {
	return fmt.Sprintf("%s must be %s, got %q", e.Field, e.Want, e.Value)
}

// generationParams reads generation parameters from the parsed form. Absent
// fields take their defaults; present fields must parse.
func generationParams(r *http.Request) (models.GenerationParams, error) {
	p := models.DefaultGenerationParams()
	str := func(name string, dst *string) {
		if v, ok := formValue(r, name); ok {
			*dst = v
		}
	}
	str("prompt", &p.Prompt)
	str("style", &p.Style)
	str("quality", &p.Quality)
	str("model", &p.Model)

	var err error
	if p.IncludeTextures, err = formBool(r, "include_textures", p.IncludeTextures); err != nil {
		return p, err
	}
	if p.OctreeResolution, err = formInt(r, "octree_resolution", p.OctreeResolution); err != nil {
		return p, err
	}
	if p.InferenceSteps, err = formInt(r, "num_inference_steps", p.InferenceSteps); err != nil {
		return p, err
	}
	if p.MaxFaceCount, err = formInt(r, "max_face_count", p.MaxFaceCount); err != nil {
		return p, err
	}
	if v, ok := formValue(r, "guidance_scale"); ok {
		if p.GuidanceScale, err = strconv.ParseFloat(v, 64); err != nil {
			return p, &fieldError{Field: "guidance_scale", Value: v, Want: "a number"}
		}
	}
	if v, ok := formValue(r, "seed"); ok {
		if p.Seed, err = strconv.ParseInt(v, 10, 64); err != nil {
			return p, &fieldError{Field: "seed", Value: v, Want: "an integer"}
		}
	}
	return p, nil
}

// formValue returns the trimmed value of name and whether it was supplied
// with a non-empty value.
func formValue(r *http.Request, name string) (string, bool) {
	vs, ok := r.Form[name]
	if !ok || len(vs) == 0 {
		return "", false
	}
	v := strings.TrimSpace(vs[0])
	return v, v != ""
}

func formInt(r *http.Request, name string, def int) (int, error) {
	v, ok := formValue(r, name)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &fieldError{Field: name, Value: v, Want: "an integer"}
	}
	return n, nil
}

func formBool(r *http.Request, name string, def bool) (bool, error) {
	v, ok := formValue(r, name)
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		return false, &fieldError{Field: name, Value: v, Want: "a boolean"}
	}
	return b, nil
}
