// Package tickbitmap locates initialized ticks in a pool's tick storage.
// Storage is a slice sorted by Index rather than an on-chain bitmap.
package tickbitmap

import (
	"sort"

	uniswapv3 "github.com/defistate/metapool-go/protocols/uniswapv3"
	"github.com/defistate/metapool-go/protocols/uniswapv3/calculator/tickmath"
)

// NextInitializedTick finds the next initialized tick from tick.
//
// With lte it returns the largest initialized tick <= tick, otherwise the
// smallest initialized tick > tick. When there is none in that direction it
// returns MinTick or MaxTick with initialized false, so a swap loop can keep
// walking to the price boundary.
func NextInitializedTick(ticks []uniswapv3.TickInfo, tick int64, lte bool) (next int64, initialized bool) {
	if lte {
		i := sort.Search(len(ticks), func(i int) bool { return ticks[i].Index > tick })
		if i == 0 {
			return tickmath.MinTick, false
		}
		return ticks[i-1].Index, true
	}

	i := sort.Search(len(ticks), func(i int) bool { return ticks[i].Index > tick })
	if i == len(ticks) {
		return tickmath.MaxTick, false
	}
	return ticks[i].Index, true
}

// Find returns the position of index in ticks, or the position where it
// would be inserted and false.
func Find(ticks []uniswapv3.TickInfo, index int64) (int, bool) {
	i := sort.Search(len(ticks), func(i int) bool { return ticks[i].Index >= index })
	return i, i < len(ticks) && ticks[i].Index == index
}

// Insert places info at its sorted position, returning the grown slice.
// The caller guarantees info.Index is not already present.
func Insert(ticks []uniswapv3.TickInfo, info uniswapv3.TickInfo) []uniswapv3.TickInfo {
	i, _ := Find(ticks, info.Index)
	ticks = append(ticks, uniswapv3.TickInfo{})
	copy(ticks[i+1:], ticks[i:])
	ticks[i] = info
	return ticks
}

// Remove deletes the tick at index if present.
func Remove(ticks []uniswapv3.TickInfo, index int64) []uniswapv3.TickInfo {
	i, ok := Find(ticks, index)
	if !ok {
		return ticks
	}
	return append(ticks[:i], ticks[i+1:]...)
}
