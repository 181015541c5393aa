package frame

import (
	"context"
	"fmt"

	"github.com/gogpu/raytrace/internal/dxr"
	"github.com/gogpu/raytrace/internal/logging"
	"github.com/gogpu/raytrace/internal/pipeline"
	"github.com/gogpu/raytrace/internal/shadertable"
)

// Swapchain is the presentation collaborator of the loop.
type Swapchain interface {
	// BufferCount returns the number of back buffers.
	BufferCount() int

	// CurrentBackBufferIndex returns the back buffer the next frame
	// renders to.
	CurrentBackBufferIndex() int

	// Present shows the current back buffer and advances the index.
	Present() error
}

// Resources are the bindings every frame dispatches with.
type Resources struct {
	Heap   dxr.DescriptorTable
	State  *pipeline.State
	Tables *shadertable.Tables
	Output *Output

	// Scene is the TLAS address bound as the scene SRV.
	Scene dxr.GPUVirtualAddress
}

// Loop records, submits and presents one dispatch per frame.
type Loop struct {
	dev       *dxr.Device
	sync      *Sync
	swapchain Swapchain
	res       Resources
	lists     []*dxr.CommandList
	frames    uint64
}

// NewLoop creates one command list per back buffer.
func NewLoop(dev *dxr.Device, sync *Sync, swapchain Swapchain, res Resources) (*Loop, error) {
	if swapchain.BufferCount() != sync.BufferCount() {
		return nil, fmt.Errorf("frame: swapchain has %d buffers, fence tracks %d",
			swapchain.BufferCount(), sync.BufferCount())
	}
	if res.State == nil || res.Tables == nil || res.Output == nil || res.Heap == nil {
		return nil, fmt.Errorf("frame: incomplete frame resources")
	}
	l := &Loop{dev: dev, sync: sync, swapchain: swapchain, res: res}
	for i := 0; i < sync.BufferCount(); i++ {
		cl, err := dev.CreateCommandList(fmt.Sprintf("frame %d", i))
		if err != nil {
			l.Release()
			return nil, err
		}
		l.lists = append(l.lists, cl)
	}
	return l, nil
}

// Frames returns the number of frames presented.
func (l *Loop) Frames() uint64 { return l.frames }

// Render records and submits one frame, presents it and moves to the next
// back buffer.
func (l *Loop) Render(ctx context.Context) error {
	idx := l.sync.Current()
	if err := l.sync.WaitFrame(ctx, idx); err != nil {
		return err
	}
	cl := l.lists[idx]
	if err := cl.Reset(); err != nil {
		return err
	}

	st, out := l.res.State, l.res.Output
	cl.SetComputeRootSignature(st.Global)
	cl.SetDescriptorHeap(l.res.Heap)
	cl.SetComputeRootDescriptorTable(pipeline.GlobalParamOutputTable, out.Slot.Index)
	cl.SetComputeRootShaderResourceView(pipeline.GlobalParamScene, l.res.Scene)
	cl.SetPipelineState1(st.StateObject)
	if err := cl.DispatchRays(l.res.Tables.DispatchDesc(out.Width, out.Height)); err != nil {
		return fmt.Errorf("frame: dispatch: %w", err)
	}
	if err := l.dev.ExecuteCommandList(cl); err != nil {
		return fmt.Errorf("frame: execute: %w", err)
	}

	if err := l.swapchain.Present(); err != nil {
		return fmt.Errorf("frame: present: %w", err)
	}
	l.frames++
	if err := l.sync.MoveToNextFrame(ctx, l.swapchain.CurrentBackBufferIndex()); err != nil {
		return err
	}
	logging.Logger().Debug("frame: presented", "frame", l.frames, "buffer", idx)
	return nil
}

// Release destroys the command lists. Call Sync.WaitForGPU first.
func (l *Loop) Release() {
	for _, cl := range l.lists {
		cl.Release()
	}
	l.lists = nil
}
