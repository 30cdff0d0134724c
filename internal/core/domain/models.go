package domain

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Request defaults applied when the job payload omits a field.
const (
	DefaultArtifactName = "input_video.mp4"
	DefaultMode         = ModeTiny
	DefaultScale        = 2
)

// Mode selects the super-resolution variant run by the transform stage.
type Mode string

const (
	ModeTiny     Mode = "tiny"
	ModeFull     Mode = "full"
	ModeTinyLong Mode = "tiny-long"
)

// Valid reports whether m is one of the modes the transform stage accepts.
func (m Mode) Valid() bool {
	switch m {
	case ModeTiny, ModeFull, ModeTinyLong:
		return true
	}
	return false
}

// Request is a single upscale job as received from the host runtime.
type Request struct {
	ArtifactName    string `json:"artifactName"`
	ArtifactPayload string `json:"artifactPayload"` // base64, optionally data-URI prefixed
	Mode            Mode   `json:"mode"`
	Scale           int    `json:"scale"`

	// scaleSet records an explicit scale in the payload, so 0 is rejected
	// rather than defaulted.
	scaleSet bool
}

// UnmarshalJSON accepts the canonical field names as well as the legacy
// video_name / video_b64 pair, and a scale given either as a number or a string.
func (r *Request) UnmarshalJSON(data []byte) error {
	var raw struct {
		ArtifactName    string          `json:"artifactName"`
		ArtifactPayload string          `json:"artifactPayload"`
		VideoName       string          `json:"video_name"`
		VideoB64        string          `json:"video_b64"`
		Mode            Mode            `json:"mode"`
		Scale           json.RawMessage `json:"scale"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	r.ArtifactName = firstNonEmpty(raw.ArtifactName, raw.VideoName)
	r.ArtifactPayload = firstNonEmpty(raw.ArtifactPayload, raw.VideoB64)
	r.Mode = raw.Mode
	r.Scale = 0
	r.scaleSet = false

	if len(raw.Scale) > 0 && string(raw.Scale) != "null" {
		scale, err := parseScale(raw.Scale)
		if err != nil {
			return fmt.Errorf("%w: scale: %v", ErrInput, err)
		}
		r.Scale = scale
		r.scaleSet = true
	}
	return nil
}

func parseScale(raw json.RawMessage) (int, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.Atoi(n.String())
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	return strconv.Atoi(strings.TrimSpace(s))
}

// Normalize fills in defaults and checks the request. It performs no I/O, so
// a rejected request never touches the filesystem or the media service.
func (r *Request) Normalize() error {
	if r.ArtifactPayload == "" {
		return fmt.Errorf("%w: artifactPayload is required", ErrInput)
	}
	if r.ArtifactName == "" {
		r.ArtifactName = DefaultArtifactName
	}
	if r.Mode == "" {
		r.Mode = DefaultMode
	}
	if r.Scale == 0 && !r.scaleSet {
		r.Scale = DefaultScale
	}

	if filepath.Base(r.ArtifactName) != r.ArtifactName || r.ArtifactName == "." || r.ArtifactName == ".." {
		return fmt.Errorf("%w: artifactName must be a plain file name, got %q", ErrInput, r.ArtifactName)
	}
	if !r.Mode.Valid() {
		return fmt.Errorf("%w: unknown mode %q", ErrInput, r.Mode)
	}
	if r.Scale <= 0 {
		return fmt.Errorf("%w: scale must be positive, got %d", ErrInput, r.Scale)
	}
	return nil
}

// Envelope is the serverless event wrapper: {"input": {...}}.
type Envelope struct {
	ID    string   `json:"id,omitempty"`
	Input *Request `json:"input"`
}

// OutputArtifact is the file the media service produced for a job.
type OutputArtifact struct {
	Path          string
	ModTime       time.Time
	Data          []byte
	PayloadBase64 string
}

// Result is returned to the host runtime once a job finishes.
// OutputPath and OutputPayloadBase64 are nil when the job produced no new file.
type Result struct {
	Handle              string  `json:"handle"`
	InputPath           string  `json:"inputPath"`
	OutputPath          *string `json:"outputPath"`
	OutputPayloadBase64 *string `json:"outputPayloadBase64"`
	OutputURL           string  `json:"outputUrl,omitempty"`
	Mode                Mode    `json:"mode"`
	Scale               int     `json:"scale"`
}

// HasOutput reports whether the job produced an output artifact.
func (r *Result) HasOutput() bool {
	return r.OutputPath != nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
