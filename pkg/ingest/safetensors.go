package ingest

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
)

// safetensorsMeta is the structured metadata stored alongside a
// `.safetensors` blob row (§4.4): tensor count, total parameter count, and
// the first ten layers by name/shape/dtype/param-count.
type safetensorsMeta struct {
	Type             string        `json:"type"`
	TotalTensors     int           `json:"total_tensors"`
	TotalParameters  int64         `json:"total_parameters"`
	SampleLayers     []layerInfo   `json:"sample_layers"`
}

type layerInfo struct {
	Name   string  `json:"name"`
	Shape  []int64 `json:"shape"`
	Dtype  string  `json:"dtype"`
	Params int64   `json:"params"`
}

type tensorEntry struct {
	Dtype       string  `json:"dtype"`
	Shape       []int64 `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

// analyzeSafetensors parses the safetensors wire header: an 8-byte
// little-endian header length, followed by that many bytes of JSON mapping
// tensor name to {dtype, shape, data_offsets}, with an optional
// "__metadata__" entry that isn't a tensor. No Go library for this format
// is groundable anywhere in the retrieved corpus (see DESIGN.md); the
// format itself is simple enough that stdlib binary+JSON parsing is the
// correct tool, not a gap.
func analyzeSafetensors(data []byte) (*safetensorsMeta, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("truncated safetensors header")
	}
	headerLen := binary.LittleEndian.Uint64(data[:8])
	if uint64(len(data)) < 8+headerLen {
		return nil, fmt.Errorf("safetensors header length exceeds file size")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+headerLen], &raw); err != nil {
		return nil, fmt.Errorf("parse safetensors header: %w", err)
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		if name == "__metadata__" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	meta := &safetensorsMeta{Type: "safetensors", TotalTensors: len(names)}

	for i, name := range names {
		var t tensorEntry
		if err := json.Unmarshal(raw[name], &t); err != nil {
			continue
		}

		params := int64(1)
		for _, d := range t.Shape {
			params *= d
		}
		if len(t.Shape) == 0 {
			params = 0
		}
		meta.TotalParameters += params

		if i < 10 {
			meta.SampleLayers = append(meta.SampleLayers, layerInfo{
				Name:   name,
				Shape:  t.Shape,
				Dtype:  t.Dtype,
				Params: params,
			})
		}
	}

	return meta, nil
}
