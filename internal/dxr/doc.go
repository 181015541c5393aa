// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package dxr implements a DXR-style raytracing device on top of the
// gogpu/wgpu HAL.
//
// A Device wraps a hal.Device and hal.Queue and exposes the raytracing
// vocabulary used by the rest of the module: GPU virtual addresses,
// acceleration structure prebuild queries and builds, wrapped GPU pointers,
// root signatures, state objects, shader identifiers, ray dispatch and
// fences.
//
// The device runs in one of two modes, chosen once in New:
//
//   - ModeNative: the hal device implements [NativeRaytracer] and reports
//     raytracing support. Builds and dispatches are forwarded to it and
//     wrapped pointers carry a plain GPU address.
//   - ModeFallback: acceleration structures are built on the host with a
//     SAH BVH and written into the result buffers, ray dispatch runs as a
//     compute pass, and wrapped pointers address the structure through a
//     raw UAV in a descriptor heap.
//
// A Device is not safe for concurrent use.
package dxr
