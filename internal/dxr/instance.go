// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package dxr

import (
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/image/math/f32"
)

// InstanceFlags modify how rays treat an instance.
type InstanceFlags uint8

const (
	InstanceFlagNone                       InstanceFlags = 0
	InstanceFlagTriangleCullDisable        InstanceFlags = 1 << 0
	InstanceFlagTriangleFrontCounterClockW InstanceFlags = 1 << 1
	InstanceFlagForceOpaque                InstanceFlags = 1 << 2
	InstanceFlagForceNonOpaque             InstanceFlags = 1 << 3
)

// IdentityTransform is the row-major 3x4 identity.
var IdentityTransform = f32.Aff4{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 1, 0,
}

// InstanceDesc is one TLAS instance. InstanceID and
// InstanceContributionToHitGroupIndex are 24-bit fields.
type InstanceDesc struct {
	Transform                           f32.Aff4
	InstanceID                          uint32
	InstanceMask                        uint8
	InstanceContributionToHitGroupIndex uint32
	Flags                               InstanceFlags
	AccelerationStructure               WrappedGPUPointer
}

const max24 = 1<<24 - 1

// Encode writes the 64-byte GPU layout of inst into dst: the transform,
// ID|mask<<24, contribution|flags<<24, then the structure reference. In
// native mode the reference is the GPU address; in fallback mode it is the
// descriptor index in the low word and a zero byte offset in the high word.
func (inst *InstanceDesc) Encode(dst []byte, mode Mode) error {
	if len(dst) < InstanceDescSize {
		return fmt.Errorf("dxr: instance buffer too small: %d bytes", len(dst))
	}
	if inst.InstanceID > max24 || inst.InstanceContributionToHitGroupIndex > max24 {
		return fmt.Errorf("dxr: instance id or hit group contribution exceeds 24 bits")
	}
	le := binary.LittleEndian
	for i, v := range inst.Transform {
		le.PutUint32(dst[i*4:], math.Float32bits(v))
	}
	le.PutUint32(dst[48:], inst.InstanceID|uint32(inst.InstanceMask)<<24)
	le.PutUint32(dst[52:], inst.InstanceContributionToHitGroupIndex|uint32(inst.Flags)<<24)
	if mode == ModeNative {
		le.PutUint64(dst[56:], uint64(inst.AccelerationStructure.GPUAddress))
	} else {
		le.PutUint32(dst[56:], inst.AccelerationStructure.DescriptorIndex)
		le.PutUint32(dst[60:], 0)
	}
	return nil
}

// DecodeInstanceDesc parses one 64-byte instance. In fallback mode the
// returned pointer carries only the descriptor index.
func DecodeInstanceDesc(src []byte, mode Mode) (InstanceDesc, error) {
	if len(src) < InstanceDescSize {
		return InstanceDesc{}, fmt.Errorf("dxr: short instance record: %d bytes", len(src))
	}
	le := binary.LittleEndian
	var inst InstanceDesc
	for i := range inst.Transform {
		inst.Transform[i] = math.Float32frombits(le.Uint32(src[i*4:]))
	}
	w := le.Uint32(src[48:])
	inst.InstanceID = w & max24
	inst.InstanceMask = uint8(w >> 24)
	w = le.Uint32(src[52:])
	inst.InstanceContributionToHitGroupIndex = w & max24
	inst.Flags = InstanceFlags(w >> 24)
	if mode == ModeNative {
		inst.AccelerationStructure.GPUAddress = GPUVirtualAddress(le.Uint64(src[56:]))
	} else {
		inst.AccelerationStructure.DescriptorIndex = le.Uint32(src[56:])
	}
	return inst, nil
}

// transformPoint applies a row-major 3x4 affine transform.
func transformPoint(m *f32.Aff4, p f32.Vec3) f32.Vec3 {
	return f32.Vec3{
		m[0]*p[0] + m[1]*p[1] + m[2]*p[2] + m[3],
		m[4]*p[0] + m[5]*p[1] + m[6]*p[2] + m[7],
		m[8]*p[0] + m[9]*p[1] + m[10]*p[2] + m[11],
	}
}
