package dxr

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/raytrace/internal/logging"
)

// RootParameterType selects how a root parameter binds resources.
type RootParameterType uint32

const (
	RootParameterDescriptorTable RootParameterType = iota
	RootParameter32BitConstants
	RootParameterCBV
	RootParameterSRV
	RootParameterUAV
)

// DescriptorRangeType is the view kind of a descriptor range.
type DescriptorRangeType uint32

const (
	DescriptorRangeSRV DescriptorRangeType = iota
	DescriptorRangeUAV
	DescriptorRangeCBV
)

// DescriptorRangeOffsetAppend places a range right after the previous one.
const DescriptorRangeOffsetAppend = 0xffffffff

// DescriptorRange is a run of descriptors inside a table.
type DescriptorRange struct {
	Type                              DescriptorRangeType
	NumDescriptors                    uint32
	BaseShaderRegister                uint32
	RegisterSpace                     uint32
	OffsetInDescriptorsFromTableStart uint32
}

// RootConstants are 32-bit values stored inline in the root arguments.
type RootConstants struct {
	ShaderRegister uint32
	RegisterSpace  uint32
	Num32BitValues uint32
}

// RootDescriptor binds a buffer by GPU address.
type RootDescriptor struct {
	ShaderRegister uint32
	RegisterSpace  uint32
}

// RootParameter is one entry of a root signature. Which field is used
// depends on Type.
type RootParameter struct {
	Type       RootParameterType
	Ranges     []DescriptorRange
	Constants  RootConstants
	Descriptor RootDescriptor
}

// RootSignatureFlags modify a root signature.
type RootSignatureFlags uint32

const (
	RootSignatureFlagNone RootSignatureFlags = 0
	// RootSignatureFlagLocal marks a per-record signature.
	RootSignatureFlagLocal RootSignatureFlags = 1 << 7
)

// RootSignatureDesc is the declarative form of a root signature.
type RootSignatureDesc struct {
	Parameters []RootParameter
	Flags      RootSignatureFlags
}

// IsLocal reports whether the signature is local.
func (d *RootSignatureDesc) IsLocal() bool { return d.Flags&RootSignatureFlagLocal != 0 }

// maxRootCost is the root argument budget in DWORDs.
const maxRootCost = 64

const (
	rootSignatureMagic   = 0x53525452 // "RTRS"
	rootSignatureVersion = 1
)

func (d *RootSignatureDesc) validate() error {
	var cost uint32
	for i, p := range d.Parameters {
		switch p.Type {
		case RootParameterDescriptorTable:
			if len(p.Ranges) == 0 {
				return fmt.Errorf("%w: parameter %d: empty descriptor table", ErrPipelineAssembly, i)
			}
			for j, r := range p.Ranges {
				if r.NumDescriptors == 0 {
					return fmt.Errorf("%w: parameter %d range %d: zero descriptors", ErrPipelineAssembly, i, j)
				}
				if r.Type > DescriptorRangeCBV {
					return fmt.Errorf("%w: parameter %d range %d: unknown range type %d", ErrPipelineAssembly, i, j, r.Type)
				}
			}
			cost++
		case RootParameter32BitConstants:
			if p.Constants.Num32BitValues == 0 {
				return fmt.Errorf("%w: parameter %d: zero root constants", ErrPipelineAssembly, i)
			}
			cost += p.Constants.Num32BitValues
		case RootParameterCBV, RootParameterSRV, RootParameterUAV:
			cost += 2
		default:
			return fmt.Errorf("%w: parameter %d: unknown type %d", ErrPipelineAssembly, i, p.Type)
		}
	}
	if cost > maxRootCost {
		return fmt.Errorf("%w: root signature costs %d DWORDs, limit is %d", ErrPipelineAssembly, cost, maxRootCost)
	}
	return nil
}

// SerializeRootSignature validates desc and encodes it as a versioned
// little-endian blob.
func SerializeRootSignature(desc *RootSignatureDesc) ([]byte, error) {
	if err := desc.validate(); err != nil {
		return nil, err
	}
	le := binary.LittleEndian
	out := le.AppendUint32(nil, rootSignatureMagic)
	out = le.AppendUint32(out, rootSignatureVersion)
	out = le.AppendUint32(out, uint32(desc.Flags))
	out = le.AppendUint32(out, uint32(len(desc.Parameters)))
	for _, p := range desc.Parameters {
		out = le.AppendUint32(out, uint32(p.Type))
		switch p.Type {
		case RootParameterDescriptorTable:
			out = le.AppendUint32(out, uint32(len(p.Ranges)))
			for _, r := range p.Ranges {
				out = le.AppendUint32(out, uint32(r.Type))
				out = le.AppendUint32(out, r.NumDescriptors)
				out = le.AppendUint32(out, r.BaseShaderRegister)
				out = le.AppendUint32(out, r.RegisterSpace)
				out = le.AppendUint32(out, r.OffsetInDescriptorsFromTableStart)
			}
		case RootParameter32BitConstants:
			out = le.AppendUint32(out, p.Constants.ShaderRegister)
			out = le.AppendUint32(out, p.Constants.RegisterSpace)
			out = le.AppendUint32(out, p.Constants.Num32BitValues)
		default:
			out = le.AppendUint32(out, p.Descriptor.ShaderRegister)
			out = le.AppendUint32(out, p.Descriptor.RegisterSpace)
		}
	}
	return out, nil
}

var errTruncatedBlob = errors.New("truncated root signature blob")

type blobReader struct {
	b   []byte
	err error
}

func (r *blobReader) u32() uint32 {
	if r.err != nil {
		return 0
	}
	if len(r.b) < 4 {
		r.err = errTruncatedBlob
		return 0
	}
	v := binary.LittleEndian.Uint32(r.b)
	r.b = r.b[4:]
	return v
}

// DeserializeRootSignature decodes a blob produced by
// SerializeRootSignature.
func DeserializeRootSignature(blob []byte) (RootSignatureDesc, error) {
	r := &blobReader{b: blob}
	if r.u32() != rootSignatureMagic {
		return RootSignatureDesc{}, fmt.Errorf("%w: not a root signature blob", ErrPipelineAssembly)
	}
	if v := r.u32(); v != rootSignatureVersion {
		return RootSignatureDesc{}, fmt.Errorf("%w: root signature version %d", ErrPipelineAssembly, v)
	}
	desc := RootSignatureDesc{Flags: RootSignatureFlags(r.u32())}
	n := r.u32()
	for i := uint32(0); i < n && r.err == nil; i++ {
		p := RootParameter{Type: RootParameterType(r.u32())}
		switch p.Type {
		case RootParameterDescriptorTable:
			nr := r.u32()
			for j := uint32(0); j < nr && r.err == nil; j++ {
				p.Ranges = append(p.Ranges, DescriptorRange{
					Type:                              DescriptorRangeType(r.u32()),
					NumDescriptors:                    r.u32(),
					BaseShaderRegister:                r.u32(),
					RegisterSpace:                     r.u32(),
					OffsetInDescriptorsFromTableStart: r.u32(),
				})
			}
		case RootParameter32BitConstants:
			p.Constants = RootConstants{ShaderRegister: r.u32(), RegisterSpace: r.u32(), Num32BitValues: r.u32()}
		default:
			p.Descriptor = RootDescriptor{ShaderRegister: r.u32(), RegisterSpace: r.u32()}
		}
		desc.Parameters = append(desc.Parameters, p)
	}
	if r.err != nil {
		return RootSignatureDesc{}, fmt.Errorf("%w: %v", ErrPipelineAssembly, r.err)
	}
	if err := desc.validate(); err != nil {
		return RootSignatureDesc{}, err
	}
	return desc, nil
}

// resourceBinding maps one descriptor of a global root signature to a
// binding of the fallback bind group.
type resourceBinding struct {
	binding uint32
	param   uint32
	// offset is the descriptor offset inside a table parameter.
	offset uint32
	table  bool
	kind   gputypes.BufferBindingType
}

// RootSignature is a created root signature.
type RootSignature struct {
	desc     RootSignatureDesc
	blob     []byte
	bindings []resourceBinding
}

// Desc returns the decoded description.
func (rs *RootSignature) Desc() RootSignatureDesc { return rs.desc }

// Blob returns the serialized form the signature was created from.
func (rs *RootSignature) Blob() []byte { return rs.blob }

// LocalArgumentsSize returns the bytes of root arguments a shader record
// must carry for this signature.
func (rs *RootSignature) LocalArgumentsSize() uint32 {
	var n uint32
	for _, p := range rs.desc.Parameters {
		switch p.Type {
		case RootParameter32BitConstants:
			n += p.Constants.Num32BitValues * 4
		default:
			// Tables and root descriptors are 8-byte handles.
			n = uint32(Align(uint64(n), 8)) + 8
		}
	}
	return n
}

// CreateRootSignature creates a root signature from a serialized blob.
func (d *Device) CreateRootSignature(blob []byte) (*RootSignature, error) {
	desc, err := DeserializeRootSignature(blob)
	if err != nil {
		return nil, err
	}
	rs := &RootSignature{desc: desc, blob: append([]byte(nil), blob...)}
	if !desc.IsLocal() {
		rs.bindings = globalBindings(&desc)
	}
	logging.Logger().Debug("dxr: root signature created",
		"parameters", len(desc.Parameters), "local", desc.IsLocal())
	return rs, nil
}

// globalBindings flattens a global signature into consecutive bind group
// bindings: every descriptor of every table range, then every root view.
func globalBindings(desc *RootSignatureDesc) []resourceBinding {
	var out []resourceBinding
	next := uint32(0)
	for pi, p := range desc.Parameters {
		switch p.Type {
		case RootParameterDescriptorTable:
			offset := uint32(0)
			for _, r := range p.Ranges {
				if r.OffsetInDescriptorsFromTableStart != DescriptorRangeOffsetAppend {
					offset = r.OffsetInDescriptorsFromTableStart
				}
				for k := uint32(0); k < r.NumDescriptors; k++ {
					out = append(out, resourceBinding{
						binding: next, param: uint32(pi), offset: offset + k, table: true,
						kind: rangeBindingType(r.Type),
					})
					next++
				}
				offset += r.NumDescriptors
			}
		case RootParameterSRV:
			out = append(out, resourceBinding{binding: next, param: uint32(pi), kind: gputypes.BufferBindingTypeReadOnlyStorage})
			next++
		case RootParameterUAV:
			out = append(out, resourceBinding{binding: next, param: uint32(pi), kind: gputypes.BufferBindingTypeStorage})
			next++
		case RootParameterCBV:
			out = append(out, resourceBinding{binding: next, param: uint32(pi), kind: gputypes.BufferBindingTypeUniform})
			next++
		}
	}
	return out
}

func rangeBindingType(t DescriptorRangeType) gputypes.BufferBindingType {
	switch t {
	case DescriptorRangeUAV:
		return gputypes.BufferBindingTypeStorage
	case DescriptorRangeCBV:
		return gputypes.BufferBindingTypeUniform
	default:
		return gputypes.BufferBindingTypeReadOnlyStorage
	}
}
