// Package workflow holds the processing graph submitted to the media service
// and the single merge step that specialises it for one job.
package workflow

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path"

	"upscaleworker/internal/core/domain"
)

// Fixed stage ids of the FlashVSR graph.
const (
	StageLoadVideo = "1"
	StageTransform = "2"
	StageCombine   = "3"
)

//go:embed flashvsr_workflow.json
var defaultTemplateJSON []byte

// Node is one stage of the graph. Upstream references inside Inputs are
// [stageID, outputIndex] pairs.
type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
	Meta      map[string]any `json:"_meta,omitempty"`
}

// Graph maps stage ids to stages, in the media service's API format.
type Graph map[string]Node

// Overrides are the per-job fields written into a copy of the template.
type Overrides struct {
	VideoPath string
	Mode      domain.Mode
	Scale     int
}

// Default returns the embedded FlashVSR template.
func Default() (Graph, error) {
	return Parse(defaultTemplateJSON)
}

// Load reads a template from path, or returns the embedded one when path is empty.
func Load(path string) (Graph, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow template %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a template.
func Parse(data []byte) (Graph, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var g Graph
	if err := dec.Decode(&g); err != nil {
		return nil, fmt.Errorf("failed to decode workflow template: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Validate checks that the stages and inputs the overrides target exist.
func (g Graph) Validate() error {
	required := map[string][]string{
		StageLoadVideo: {"video"},
		StageTransform: {"mode", "scale"},
		StageCombine:   nil,
	}
	for id, inputs := range required {
		node, ok := g[id]
		if !ok {
			return fmt.Errorf("workflow template is missing stage %q", id)
		}
		for _, name := range inputs {
			if _, ok := node.Inputs[name]; !ok {
				return fmt.Errorf("workflow stage %q (%s) has no %q input", id, node.ClassType, name)
			}
		}
	}
	return nil
}

// Apply returns a deep copy of g with the overrides written in. g is not modified.
func (g Graph) Apply(o Overrides) (Graph, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	out := g.Clone()
	out[StageLoadVideo].Inputs["video"] = o.VideoPath
	out[StageTransform].Inputs["mode"] = string(o.Mode)
	out[StageTransform].Inputs["scale"] = o.Scale
	return out, nil
}

// Clone deep-copies the graph.
func (g Graph) Clone() Graph {
	out := make(Graph, len(g))
	for id, node := range g {
		out[id] = Node{
			ClassType: node.ClassType,
			Inputs:    copyMap(node.Inputs),
			Meta:      copyMap(node.Meta),
		}
	}
	return out
}

// VideoRef builds the path the load stage uses to find a staged video,
// relative to the media service's root. Empty components are skipped.
func VideoRef(prefix, subdir, name string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{prefix, subdir, name} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return path.Join(parts...)
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}
