// Package bvh builds bounding volume hierarchies with the surface area
// heuristic. The fallback raytracing device uses it to lay out bottom- and
// top-level acceleration structures.
package bvh

import (
	"math"
	"sync"
	"time"

	"golang.org/x/image/math/f32"
)

// Axis is a split axis.
type Axis uint8

const (
	XAxis Axis = iota
	YAxis
	ZAxis

	// The builder does not evaluate split candidates along an axis whose
	// node extent is below this threshold.
	minSideLength float32 = 1e-3

	// Split candidates are skipped when the step (side / (1024 / (depth+1)))
	// drops below this threshold.
	minSplitStep float32 = 1e-5
)

// SurfaceAreaHeuristic scores splits by count times bounding box area.
var SurfaceAreaHeuristic = surfaceAreaHeuristic{}

// BoundedVolume is implemented by everything the builder can partition.
type BoundedVolume interface {
	BBox() [2]f32.Vec3
	Center() f32.Vec3
}

// LeafCallback is invoked whenever the builder creates a leaf.
type LeafCallback func(leaf *Node, items []BoundedVolume)

// ScoreStrategy scores candidate partitions. Lower is better.
type ScoreStrategy interface {
	// ScoreSplit scores splitting workList at splitPoint along axis.
	ScoreSplit(workList []BoundedVolume, axis Axis, splitPoint float32) (leftCount, rightCount int, score float32)

	// ScorePartition scores keeping workList in a single node.
	ScorePartition(workList []BoundedVolume) float32
}

type splitScore struct {
	axis       Axis
	splitPoint float32

	leftCount, rightCount int
	score                 float32
}

// Stats describes a finished build.
type Stats struct {
	Items    int
	Nodes    int
	Leaves   int
	MaxDepth int
	Duration time.Duration
}

type builder struct {
	// Nodes stored contiguously, parents before children.
	nodes []Node

	leafCb        LeafCallback
	minLeafItems  int
	scoreStrategy ScoreStrategy

	stats Stats
}

// Build constructs a BVH over workList and returns its nodes with the root
// at index 0.
//
// Leaves are created when the work list holds minLeafItems items or fewer,
// or when no split improves on the score of the unsplit node. A tree over n
// items never has more than 2n-1 nodes.
func Build(workList []BoundedVolume, minLeafItems int, leafCb LeafCallback, scoreStrategy ScoreStrategy) ([]Node, Stats) {
	if minLeafItems < 1 {
		minLeafItems = 1
	}
	b := &builder{
		nodes:         make([]Node, 0, 2*len(workList)),
		leafCb:        leafCb,
		minLeafItems:  minLeafItems,
		scoreStrategy: scoreStrategy,
		stats:         Stats{Items: len(workList)},
	}
	if len(workList) == 0 {
		return nil, b.stats
	}

	start := time.Now()
	b.partition(workList, 0)
	b.stats.Duration = time.Since(start)
	return b.nodes, b.stats
}

// partition splits workList and returns the index of its node.
func (b *builder) partition(workList []BoundedVolume, depth int) uint32 {
	if depth > b.stats.MaxDepth {
		b.stats.MaxDepth = depth
	}

	node := Node{Min: maxVec(), Max: minVec()}
	for _, item := range workList {
		box := item.BBox()
		node.Min = MinVec3(node.Min, box[0])
		node.Max = MaxVec3(node.Max, box[1])
	}

	if len(workList) <= b.minLeafItems {
		return b.createLeaf(&node, workList)
	}

	bestScore := b.scoreStrategy.ScorePartition(workList)
	bestSplit := b.bestSplit(workList, &node, depth)
	if bestSplit == nil || bestSplit.score >= bestScore {
		return b.createLeaf(&node, workList)
	}

	left := make([]BoundedVolume, 0, bestSplit.leftCount)
	right := make([]BoundedVolume, 0, bestSplit.rightCount)
	for _, item := range workList {
		if item.Center()[bestSplit.axis] < bestSplit.splitPoint {
			left = append(left, item)
		} else {
			right = append(right, item)
		}
	}

	nodeIndex := len(b.nodes)
	b.nodes = append(b.nodes, node)
	b.stats.Nodes++

	leftIndex := b.partition(left, depth+1)
	rightIndex := b.partition(right, depth+1)
	b.nodes[nodeIndex].SetChildNodes(leftIndex, rightIndex)

	return uint32(nodeIndex)
}

// bestSplit scores every candidate along each axis. Axes run in parallel;
// the reduction walks axes in order so equal scores resolve the same way on
// every build.
func (b *builder) bestSplit(workList []BoundedVolume, node *Node, depth int) *splitScore {
	side := sub(node.Max, node.Min)
	var (
		wg      sync.WaitGroup
		perAxis [3]*splitScore
	)
	for axis := XAxis; axis <= ZAxis; axis++ {
		if side[axis] < minSideLength {
			continue
		}
		splitStep := side[axis] / (1024.0 / float32(depth+1))
		if splitStep < minSplitStep {
			continue
		}
		wg.Add(1)
		go func(axis Axis, step float32) {
			defer wg.Done()
			var best *splitScore
			for splitPoint := node.Min[axis] + step; splitPoint < node.Max[axis]; splitPoint += step {
				l, r, score := b.scoreStrategy.ScoreSplit(workList, axis, splitPoint)
				if best == nil || score < best.score {
					best = &splitScore{axis: axis, splitPoint: splitPoint, leftCount: l, rightCount: r, score: score}
				}
			}
			perAxis[axis] = best
		}(axis, splitStep)
	}
	wg.Wait()

	var best *splitScore
	for _, s := range perAxis {
		if s != nil && s.score < math.MaxFloat32 && (best == nil || s.score < best.score) {
			best = s
		}
	}
	return best
}

// createLeaf turns node into a leaf holding workList and returns its index.
func (b *builder) createLeaf(node *Node, workList []BoundedVolume) uint32 {
	node.leaf = true
	if b.leafCb != nil {
		b.leafCb(node, workList)
	}

	nodeIndex := len(b.nodes)
	b.nodes = append(b.nodes, *node)

	b.stats.Nodes++
	b.stats.Leaves++
	return uint32(nodeIndex)
}

type surfaceAreaHeuristic struct{}

// ScoreSplit scores a split as
//
//	left count * left bbox area + right count * right bbox area.
//
// Splits that leave one side empty get the worst score (MaxFloat32).
func (surfaceAreaHeuristic) ScoreSplit(workList []BoundedVolume, axis Axis, splitPoint float32) (leftCount, rightCount int, score float32) {
	lmin, rmin := maxVec(), maxVec()
	lmax, rmax := minVec(), minVec()

	for _, item := range workList {
		box := item.BBox()
		if item.Center()[axis] < splitPoint {
			leftCount++
			lmin = MinVec3(lmin, box[0])
			lmax = MaxVec3(lmax, box[1])
		} else {
			rightCount++
			rmin = MinVec3(rmin, box[0])
			rmax = MaxVec3(rmax, box[1])
		}
	}

	if leftCount == 0 || rightCount == 0 {
		return leftCount, rightCount, math.MaxFloat32
	}
	score = float32(leftCount)*halfArea(sub(lmax, lmin)) + float32(rightCount)*halfArea(sub(rmax, rmin))
	return leftCount, rightCount, score
}

// ScorePartition returns count * bbox area, or MaxFloat32 for an empty list.
func (surfaceAreaHeuristic) ScorePartition(workList []BoundedVolume) float32 {
	if len(workList) == 0 {
		return math.MaxFloat32
	}
	lo, hi := maxVec(), minVec()
	for _, item := range workList {
		box := item.BBox()
		lo = MinVec3(lo, box[0])
		hi = MaxVec3(hi, box[1])
	}
	return float32(len(workList)) * halfArea(sub(hi, lo))
}

func halfArea(side f32.Vec3) float32 {
	return side[0]*side[1] + side[1]*side[2] + side[0]*side[2]
}
