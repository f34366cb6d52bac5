// Package checkpoint stores and restores GPT parameters in the safetensors
// format, using GPT-2 parameter names so HuggingFace GPT-2 weights load directly.
package checkpoint

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"

	"nano-gpt-go/tensor"
)

// TensorInfo describes a tensor in safetensors format
type TensorInfo struct {
	Dtype  string   `json:"dtype"`
	Shape  []int    `json:"shape"`
	Offset [2]int64 `json:"data_offsets"`
}

const metadataKey = "__metadata__"

// File is a parsed safetensors file held in memory
type File struct {
	header map[string]TensorInfo
	data   []byte
}

// Open reads and parses a safetensors file
func Open(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*File, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("file too short for safetensors header")
	}
	headerSize := binary.LittleEndian.Uint64(data[:8])
	if headerSize > uint64(len(data)-8) {
		return nil, fmt.Errorf("header size %d exceeds file size %d", headerSize, len(data))
	}

	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data[8:8+headerSize], &raw); err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	f := &File{header: make(map[string]TensorInfo, len(raw)), data: data[8+headerSize:]}
	for name, msg := range raw {
		if name == metadataKey {
			continue
		}
		var info TensorInfo
		if err := json.Unmarshal(msg, &info); err != nil {
			return nil, fmt.Errorf("tensor %s: bad header entry: %w", name, err)
		}
		if info.Offset[0] < 0 || info.Offset[1] < info.Offset[0] || info.Offset[1] > int64(len(f.data)) {
			return nil, fmt.Errorf("tensor %s: data offsets %v out of range", name, info.Offset)
		}
		f.header[name] = info
	}
	return f, nil
}

// Names lists the tensors in the file, sorted
func (f *File) Names() []string {
	names := make([]string, 0, len(f.header))
	for name := range f.header {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// lookup finds name, also trying the "transformer." prefix HF GPT-2 files use
func (f *File) lookup(name string) (TensorInfo, string, bool) {
	if info, ok := f.header[name]; ok {
		return info, name, true
	}
	alt := "transformer." + name
	info, ok := f.header[alt]
	return info, alt, ok
}

// Has reports whether the file holds name
func (f *File) Has(name string) bool {
	_, _, ok := f.lookup(name)
	return ok
}

// Tensor decodes name to float32
func (f *File) Tensor(name string) (*tensor.Tensor, error) {
	info, found, ok := f.lookup(name)
	if !ok {
		return nil, fmt.Errorf("tensor not found: %s (also tried: transformer.%s)", name, name)
	}

	numElements := 1
	for _, dim := range info.Shape {
		numElements *= dim
	}
	tensorBytes := f.data[info.Offset[0]:info.Offset[1]]

	width := map[string]int{"F32": 4, "F16": 2, "BF16": 2}[info.Dtype]
	if width == 0 {
		return nil, fmt.Errorf("tensor %s: unsupported dtype: %s", found, info.Dtype)
	}
	if len(tensorBytes) != numElements*width {
		return nil, fmt.Errorf("tensor %s: %d bytes for %d %s elements", found, len(tensorBytes), numElements, info.Dtype)
	}

	out := tensor.NewTensor(info.Shape...)
	switch info.Dtype {
	case "F32":
		for i := range out.Data {
			out.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(tensorBytes[i*4:]))
		}
	case "F16":
		for i := range out.Data {
			out.Data[i] = float32FromFloat16(binary.LittleEndian.Uint16(tensorBytes[i*2:]))
		}
	case "BF16":
		for i := range out.Data {
			// BF16 is truncated FP32
			out.Data[i] = math.Float32frombits(uint32(binary.LittleEndian.Uint16(tensorBytes[i*2:])) << 16)
		}
	}
	return out, nil
}

func float32FromFloat16(bits uint16) float32 {
	sign := uint32((bits >> 15) & 1)
	exp := uint32((bits >> 10) & 0x1F)
	frac := uint32(bits & 0x3FF)

	switch {
	case exp == 0 && frac == 0:
		return math.Float32frombits(sign << 31)
	case exp == 0:
		// Subnormal: shift until the implicit bit appears
		exp = 127 - 14
		for frac&0x400 == 0 {
			frac <<= 1
			exp--
		}
		frac &= 0x3FF
	case exp == 0x1F:
		// Inf or NaN
		exp = 0xFF
	default:
		exp += 127 - 15
	}
	return math.Float32frombits((sign << 31) | (exp << 23) | (frac << 13))
}

// Entry is one named tensor to write
type Entry struct {
	Name   string
	Tensor *tensor.Tensor
}

// Write stores entries as F32 in order, with metadata in the header
func Write(path string, entries []Entry, metadata map[string]string) error {
	header := map[string]interface{}{}
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}

	var offset int64
	for _, e := range entries {
		size := int64(len(e.Tensor.Data)) * 4
		header[e.Name] = TensorInfo{
			Dtype:  "F32",
			Shape:  e.Tensor.Shape,
			Offset: [2]int64{offset, offset + size},
		}
		offset += size
	}

	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to encode header: %w", err)
	}
	// Pad so tensor data starts 8-byte aligned
	for len(headerBytes)%8 != 0 {
		headerBytes = append(headerBytes, ' ')
	}

	buf := make([]byte, 8, 8+len(headerBytes)+int(offset))
	binary.LittleEndian.PutUint64(buf, uint64(len(headerBytes)))
	buf = append(buf, headerBytes...)
	for _, e := range entries {
		for _, v := range e.Tensor.Data {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
		}
	}

	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
