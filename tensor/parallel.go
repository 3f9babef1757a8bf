package tensor

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// parallelWorkThreshold is the number of multiply-adds below which row loops
// stay on the calling goroutine.
const parallelWorkThreshold = 1 << 15

// parallelRows splits [0, rows) into contiguous chunks and runs fn on each.
// fn must only write rows inside its chunk.
func parallelRows(rows, workPerRow int, fn func(lo, hi int)) {
	workers := runtime.GOMAXPROCS(0)
	if workers <= 1 || rows < 2 || rows*workPerRow < parallelWorkThreshold {
		fn(0, rows)
		return
	}
	if workers > rows {
		workers = rows
	}

	chunk := (rows + workers - 1) / workers
	var g errgroup.Group
	g.SetLimit(workers)
	for lo := 0; lo < rows; lo += chunk {
		lo, hi := lo, min(lo+chunk, rows)
		g.Go(func() error {
			fn(lo, hi)
			return nil
		})
	}
	_ = g.Wait()
}
