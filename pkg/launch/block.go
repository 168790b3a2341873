package launch

import (
	"fmt"

	"fortio.org/safecast"

	"github.com/akhildatla/warpsim/pkg/loader"
	"github.com/akhildatla/warpsim/pkg/memory"
	"github.com/akhildatla/warpsim/pkg/vm"
)

// block is the scheduling state of one CTA.
type block struct {
	cta     *vm.CTA
	threads []*vm.Thread
	warps   []*vm.Warp

	arrived  map[uint32]int
	expected map[uint32]int
}

// unflatten maps a linear index onto d, x fastest.
func unflatten(i int, d vm.Dim3) (vm.Dim3, error) {
	x, y := int(d.X), int(d.Y)
	var out vm.Dim3
	var err error
	if out.X, err = safecast.Convert[uint32](i % x); err != nil {
		return out, err
	}
	if out.Y, err = safecast.Convert[uint32]((i / x) % y); err != nil {
		return out, err
	}
	if out.Z, err = safecast.Convert[uint32](i / (x * y)); err != nil {
		return out, err
	}
	return out, nil
}

// newBlock creates CTA i with its shared store, threads and warps.
func (l *launcher) newBlock(i int) (*block, error) {
	ctaid, err := unflatten(i, l.grid.Nctaid)
	if err != nil {
		return nil, err
	}
	cta := &vm.CTA{ID: i, Ctaid: ctaid, Grid: l.grid, Shared: memory.NewPaged("shared")}
	if err := loader.Apply(&memory.Bank{Shared: cta.Shared}, l.perCTA); err != nil {
		return nil, fmt.Errorf("block %s: %w", ctaid, err)
	}

	size := l.grid.Ntid.Size()
	nwarps := (size + l.warpSize - 1) / l.warpSize
	b := &block{
		cta:      cta,
		threads:  make([]*vm.Thread, size),
		warps:    make([]*vm.Warp, nwarps),
		arrived:  make(map[uint32]int),
		expected: make(map[uint32]int),
	}
	for w := range b.warps {
		lanes := min(l.warpSize, size-w*l.warpSize)
		b.warps[w] = vm.NewWarp(i*nwarps+w, lanes, cta)
	}

	for n := 0; n < size; n++ {
		tid, err := unflatten(n, l.grid.Ntid)
		if err != nil {
			return nil, err
		}
		bank := l.shared
		bank.Shared = cta.Shared
		bank.Local = memory.NewPaged("local")
		if err := loader.Apply(&memory.Bank{Local: bank.Local}, l.perThread); err != nil {
			return nil, fmt.Errorf("block %s thread %s: %w", ctaid, tid, err)
		}

		t := vm.NewThread(l.module, l.fn, &bank)
		t.ID = i*size + n
		t.Tid = tid
		t.LaneID = n % l.warpSize
		t.WarpID = n / l.warpSize
		t.SMID = i % l.maxSMs
		t.HWTID = n
		t.CTA = cta
		t.Warp = b.warps[t.WarpID]
		t.Warp.Lanes[t.LaneID] = t
		b.threads[n] = t
	}
	return b, nil
}

// live returns the number of threads that have not exited.
func (b *block) live() int {
	n := 0
	for _, t := range b.threads {
		if !t.Done {
			n++
		}
	}
	return n
}

// arrive counts one arrival at barrier bw.ID.
func (b *block) arrive(bw *vm.BarrierWait) {
	b.arrived[bw.ID]++
	if bw.Count > 0 {
		b.expected[bw.ID] = int(bw.Count)
	}
}

// release frees the waiters of every barrier whose expected arrivals are
// complete. A barrier without a count expects every live thread.
func (b *block) release() {
	for id, n := range b.arrived {
		want, ok := b.expected[id]
		if !ok {
			want = b.live()
		}
		if n < want {
			continue
		}
		for _, t := range b.threads {
			if t.Barrier != nil && t.Barrier.ID == id {
				t.Barrier = nil
			}
		}
		delete(b.arrived, id)
		delete(b.expected, id)
	}
}
