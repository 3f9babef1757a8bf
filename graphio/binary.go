package graphio

import (
	"fmt"
	"io"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/tsawler/go-mdgnn/graph"
)

// Field numbers of the binary dataset message. The layout is a plain
// protobuf message, so any protobuf runtime can read it with:
//
//	message Dataset {
//	  string name = 1;
//	  uint64 num_nodes = 2;
//	  uint64 feature_dim = 3;
//	  repeated float features = 4;  // row-major [num_nodes, feature_dim]
//	  repeated uint64 src = 5;
//	  repeated uint64 dst = 6;
//	  uint64 target_dim = 7;
//	  repeated float targets = 8;   // row-major [num_nodes, target_dim]
//	}
const (
	fieldName       protowire.Number = 1
	fieldNumNodes   protowire.Number = 2
	fieldFeatureDim protowire.Number = 3
	fieldFeatures   protowire.Number = 4
	fieldSrc        protowire.Number = 5
	fieldDst        protowire.Number = 6
	fieldTargetDim  protowire.Number = 7
	fieldTargets    protowire.Number = 8
)

// maxDatasetBytes bounds the size of a binary dataset read into memory
const maxDatasetBytes = 1 << 30

// BinaryCodec handles the compact protobuf wire dataset format
type BinaryCodec struct{}

// NewBinaryCodec creates a new binary codec
func NewBinaryCodec() *BinaryCodec {
	return &BinaryCodec{}
}

// Format returns the codec format identifier
func (c *BinaryCodec) Format() string {
	return FormatBinary.String()
}

// Export writes the dataset as one protobuf message
func (c *BinaryCodec) Export(d *Dataset, w io.Writer) error {
	if err := d.Validate(); err != nil {
		return err
	}

	var b []byte
	if d.Name != "" {
		b = protowire.AppendTag(b, fieldName, protowire.BytesType)
		b = protowire.AppendString(b, d.Name)
	}
	b = appendVarintField(b, fieldNumNodes, uint64(d.NumNodes()))
	b = appendVarintField(b, fieldFeatureDim, uint64(d.FeatureDim()))
	b = appendPackedFloats(b, fieldFeatures, d.Features.Data)

	src, dst := d.Graph.Edges()
	b = appendPackedInts(b, fieldSrc, src)
	b = appendPackedInts(b, fieldDst, dst)

	if d.Targets != nil {
		b = appendVarintField(b, fieldTargetDim, uint64(d.Targets.RowWidth()))
		b = appendPackedFloats(b, fieldTargets, d.Targets.Data)
	}

	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("failed to write binary dataset: %w", err)
	}
	return nil
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendPackedFloats(b []byte, num protowire.Number, values []float32) []byte {
	if len(values) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(4*len(values)))
	for _, v := range values {
		b = protowire.AppendFixed32(b, math.Float32bits(v))
	}
	return b
}

func appendPackedInts(b []byte, num protowire.Number, values []int) []byte {
	if len(values) == 0 {
		return b
	}
	size := 0
	for _, v := range values {
		size += protowire.SizeVarint(uint64(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(size))
	for _, v := range values {
		b = protowire.AppendVarint(b, uint64(v))
	}
	return b
}

// binaryMessage accumulates decoded fields
type binaryMessage struct {
	name       string
	numNodes   uint64
	featureDim uint64
	targetDim  uint64
	features   []float32
	targets    []float32
	src        []int
	dst        []int
}

// Parse reads one protobuf dataset message. Repeated fields are accepted
// packed or unpacked and unknown fields are skipped.
func (c *BinaryCodec) Parse(r io.Reader) (*Dataset, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxDatasetBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read binary dataset: %w", err)
	}
	if len(b) > maxDatasetBytes {
		return nil, fmt.Errorf("binary dataset exceeds %d bytes", maxDatasetBytes)
	}

	var m binaryMessage
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("failed to parse binary dataset: %w", protowire.ParseError(n))
		}
		b = b[n:]

		if n, err = m.consumeField(num, typ, b); err != nil {
			return nil, fmt.Errorf("failed to parse field %d: %w", num, err)
		}
		b = b[n:]
	}

	if len(m.src) != len(m.dst) {
		return nil, fmt.Errorf("%w: %d edge sources but %d destinations", graph.ErrInvalidGraph, len(m.src), len(m.dst))
	}
	if m.numNodes > math.MaxInt32 || m.featureDim > math.MaxInt32 || m.targetDim > math.MaxInt32 {
		return nil, fmt.Errorf("%w: dataset dimensions out of range", graph.ErrInvalidGraph)
	}

	return newDataset(m.name, int(m.numNodes), m.src, m.dst, m.features, m.targets, int(m.featureDim), int(m.targetDim))
}

func (m *binaryMessage) consumeField(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	switch {
	case num == fieldName && typ == protowire.BytesType:
		v, n := protowire.ConsumeString(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		m.name = v
		return n, nil
	case (num == fieldNumNodes || num == fieldFeatureDim || num == fieldTargetDim) && typ == protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		switch num {
		case fieldNumNodes:
			m.numNodes = v
		case fieldFeatureDim:
			m.featureDim = v
		default:
			m.targetDim = v
		}
		return n, nil
	case num == fieldFeatures:
		return consumeFloats(typ, b, &m.features)
	case num == fieldTargets:
		return consumeFloats(typ, b, &m.targets)
	case num == fieldSrc:
		return consumeInts(typ, b, &m.src)
	case num == fieldDst:
		return consumeInts(typ, b, &m.dst)
	default:
		n := protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		return n, nil
	}
}

func consumeFloats(typ protowire.Type, b []byte, out *[]float32) (int, error) {
	switch typ {
	case protowire.Fixed32Type:
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		*out = append(*out, math.Float32frombits(v))
		return n, nil
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		if len(packed)%4 != 0 {
			return 0, fmt.Errorf("packed float field has %d bytes", len(packed))
		}
		for len(packed) > 0 {
			v, m := protowire.ConsumeFixed32(packed)
			*out = append(*out, math.Float32frombits(v))
			packed = packed[m:]
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unexpected wire type %d for float field", typ)
	}
}

func consumeInts(typ protowire.Type, b []byte, out *[]int) (int, error) {
	switch typ {
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		if v > math.MaxInt32 {
			return 0, fmt.Errorf("node index %d out of range", v)
		}
		*out = append(*out, int(v))
		return n, nil
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		for len(packed) > 0 {
			v, m := protowire.ConsumeVarint(packed)
			if m < 0 {
				return 0, protowire.ParseError(m)
			}
			if v > math.MaxInt32 {
				return 0, fmt.Errorf("node index %d out of range", v)
			}
			*out = append(*out, int(v))
			packed = packed[m:]
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unexpected wire type %d for index field", typ)
	}
}
