package ingest

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSafetensorsFile(t *testing.T, header map[string]any) []byte {
	t.Helper()
	headerJSON, err := json.Marshal(header)
	require.NoError(t, err)

	var buf bytes.Buffer
	lenBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(lenBytes, uint64(len(headerJSON)))
	buf.Write(lenBytes)
	buf.Write(headerJSON)
	return buf.Bytes()
}

func TestAnalyzeSafetensors_CountsTensorsAndParameters(t *testing.T) {
	data := buildSafetensorsFile(t, map[string]any{
		"__metadata__": map[string]any{"format": "pt"},
		"layer.weight": map[string]any{"dtype": "F32", "shape": []int64{2, 4}, "data_offsets": []int64{0, 32}},
		"layer.bias":   map[string]any{"dtype": "F32", "shape": []int64{4}, "data_offsets": []int64{32, 48}},
	})

	meta, err := analyzeSafetensors(data)
	require.NoError(t, err)
	assert.Equal(t, 2, meta.TotalTensors)
	assert.Equal(t, int64(8+4), meta.TotalParameters)
	assert.Len(t, meta.SampleLayers, 2)
}

func TestAnalyzeSafetensors_CapsSampleLayersAtTen(t *testing.T) {
	header := map[string]any{}
	for i := 0; i < 15; i++ {
		header[string(rune('a'+i))] = map[string]any{"dtype": "F32", "shape": []int64{1}, "data_offsets": []int64{0, 4}}
	}
	data := buildSafetensorsFile(t, header)

	meta, err := analyzeSafetensors(data)
	require.NoError(t, err)
	assert.Equal(t, 15, meta.TotalTensors)
	assert.Len(t, meta.SampleLayers, 10)
}

func TestAnalyzeSafetensors_RejectsTruncatedHeader(t *testing.T) {
	_, err := analyzeSafetensors([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestAnalyzeSafetensors_RejectsHeaderLengthBeyondFileSize(t *testing.T) {
	lenBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(lenBytes, 1000)
	_, err := analyzeSafetensors(lenBytes)
	assert.Error(t, err)
}

func TestNullableJSON_EmptyBytesYieldsNil(t *testing.T) {
	assert.Nil(t, nullableJSON(nil))
	assert.Nil(t, nullableJSON([]byte{}))
}

func TestNullableJSON_NonEmptyBytesPassThrough(t *testing.T) {
	b := []byte(`{"a":1}`)
	assert.Equal(t, b, nullableJSON(b))
}
