package backend

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// execCfg controls kernel parallelism. The local engine runs with one
// worker and one partition; the pool and cluster engines spread row-local
// work across partitions and key-hashed work across workers. Kernel output
// is byte-for-byte independent of these settings: row-local kernels merge
// partitions in index order, keyed kernels aggregate each key wholly on one
// worker in canonical order and sort their output by key.
type execCfg struct {
	workers    int
	partitions int
}

func (c execCfg) normalize() execCfg {
	if c.workers < 1 {
		c.workers = 1
	}
	if c.partitions < 1 {
		c.partitions = 1
	}
	return c
}

// runNode executes a plan bottom-up and returns the materialized frame.
func runNode(ctx context.Context, n *planNode, cfg execCfg) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg = cfg.normalize()
	switch n.kind {
	case opSource:
		return n.source, nil
	case opSelect:
		in, err := runNode(ctx, n.inputs[0], cfg)
		if err != nil {
			return nil, err
		}
		return kSelect(in, n), nil
	case opFilter:
		in, err := runNode(ctx, n.inputs[0], cfg)
		if err != nil {
			return nil, err
		}
		return kFilter(ctx, in, n, cfg)
	case opResample, opGroupAgg:
		in, err := runNode(ctx, n.inputs[0], cfg)
		if err != nil {
			return nil, err
		}
		return kGroupAgg(ctx, in, n, cfg)
	case opJoin:
		left, err := runNode(ctx, n.inputs[0], cfg)
		if err != nil {
			return nil, err
		}
		right, err := runNode(ctx, n.inputs[1], cfg)
		if err != nil {
			return nil, err
		}
		return kJoin(ctx, left, right, n, cfg)
	}
	return nil, fmt.Errorf("unknown plan node %v", n.kind)
}

// kSelect projects columns. Cheap enough that partitioning would cost more
// than it saves.
func kSelect(in *Frame, n *planNode) *Frame {
	idx := make([]int, len(n.cols))
	for i, c := range n.cols {
		idx[i] = in.Schema.Index(c)
	}
	out := &Frame{Schema: n.schema, Rows: make([][]any, len(in.Rows))}
	for r, row := range in.Rows {
		nr := make([]any, len(idx))
		for i, j := range idx {
			nr[i] = row[j]
		}
		out.Rows[r] = nr
	}
	return out
}

// kFilter evaluates the predicate per row across partitions, then merges
// partition outputs in partition order so row order is preserved.
func kFilter(ctx context.Context, in *Frame, n *planNode, cfg execCfg) (*Frame, error) {
	bounds := partitionBounds(len(in.Rows), cfg.partitions)
	kept := make([][][]any, len(bounds))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.workers)
	for p, b := range bounds {
		p, b := p, b
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var rows [][]any
			for _, row := range in.Rows[b.lo:b.hi] {
				ok, err := n.pred.eval(row, in.Schema)
				if err != nil {
					return err
				}
				if ok {
					rows = append(rows, row)
				}
			}
			kept[p] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Frame{Schema: n.schema}
	for _, rows := range kept {
		out.Rows = append(out.Rows, rows...)
	}
	return out, nil
}

// kGroupAgg implements both group_aggregate and resample (a group by
// time bucket). Rows are binned to keys in global row order, keys are
// spread across workers with each key reduced wholly by one worker, and
// output rows are sorted ascending by key. This is the
// shuffle-style layout a distributed engine uses, applied uniformly so
// all engines agree to the last bit.
func kGroupAgg(ctx context.Context, in *Frame, n *planNode, cfg execCfg) (*Frame, error) {
	type group struct {
		keyCells []any
		accs     []*accumulator
	}

	keyIdx := make([]int, 0, 2)
	if n.kind == opResample {
		keyIdx = append(keyIdx, in.Schema.Index(n.timeCol))
	} else {
		for _, k := range n.keys {
			keyIdx = append(keyIdx, in.Schema.Index(k))
		}
	}
	aggIdx := make([]int, len(n.aggs))
	for i, a := range n.aggs {
		aggIdx[i] = in.Schema.Index(a.Column)
	}

	groups := make(map[string]*group)
	var order []string // insertion order, replaced by key sort below
	for seq, row := range in.Rows {
		cells := make([]any, len(keyIdx))
		for i, j := range keyIdx {
			cells[i] = row[j]
		}
		if n.kind == opResample {
			t, ok := cells[0].(time.Time)
			if !ok {
				continue // missing timestamp rows cannot be bucketed
			}
			cells[0] = n.freq.Bucket(t)
		}
		ks := keyString(cells)
		grp := groups[ks]
		if grp == nil {
			grp = &group{keyCells: cells, accs: make([]*accumulator, len(n.aggs))}
			for i, a := range n.aggs {
				grp.accs[i] = newAccumulator(a.Func)
			}
			groups[ks] = grp
			order = append(order, ks)
		}
		for i, j := range aggIdx {
			grp.accs[i].add(row[j], int64(seq))
		}
	}

	// Canonical output order: ascending by key cells.
	sort.Slice(order, func(i, j int) bool {
		return keyLess(groups[order[i]].keyCells, groups[order[j]].keyCells)
	})

	rows := make([][]any, len(order))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.workers)
	for r, ks := range order {
		r := r
		grp := groups[ks]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			row := make([]any, 0, len(grp.keyCells)+len(grp.accs))
			row = append(row, grp.keyCells...)
			for _, acc := range grp.accs {
				row = append(row, acc.result())
			}
			rows[r] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Frame{Schema: n.schema, Rows: rows}, nil
}

// kJoin hash-joins on the key columns. The right side is built into a hash
// table (small side by convention); left partitions probe in parallel and
// merge in partition order, so output rows follow left-input order with
// matches emitted in right-input order within one key.
func kJoin(ctx context.Context, left, right *Frame, n *planNode, cfg execCfg) (*Frame, error) {
	lKey := make([]int, len(n.on))
	rKey := make([]int, len(n.on))
	for i, k := range n.on {
		lKey[i] = left.Schema.Index(k)
		rKey[i] = right.Schema.Index(k)
	}
	// Right payload columns in output order (key columns excluded).
	var rPay []int
	for i, c := range right.Schema {
		if !contains(n.on, c.Name) {
			rPay = append(rPay, i)
		}
	}

	table := make(map[string][]int, len(right.Rows))
	for r, row := range right.Rows {
		cells := make([]any, len(rKey))
		skip := false
		for i, j := range rKey {
			if row[j] == nil {
				skip = true // null keys never match
				break
			}
			cells[i] = row[j]
		}
		if skip {
			continue
		}
		ks := keyString(cells)
		table[ks] = append(table[ks], r)
	}

	bounds := partitionBounds(len(left.Rows), cfg.partitions)
	parts := make([][][]any, len(bounds))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.workers)
	for p, b := range bounds {
		p, b := p, b
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var rows [][]any
			cells := make([]any, len(lKey))
			for _, lrow := range left.Rows[b.lo:b.hi] {
				matched := false
				null := false
				for i, j := range lKey {
					if lrow[j] == nil {
						null = true
						break
					}
					cells[i] = lrow[j]
				}
				if !null {
					for _, r := range table[keyString(cells)] {
						rows = append(rows, joinRow(lrow, right.Rows[r], rPay))
						matched = true
					}
				}
				if !matched && n.how == JoinLeft {
					rows = append(rows, joinRow(lrow, nil, rPay))
				}
			}
			parts[p] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Frame{Schema: n.schema}
	for _, rows := range parts {
		out.Rows = append(out.Rows, rows...)
	}
	return out, nil
}

func joinRow(lrow, rrow []any, rPay []int) []any {
	row := make([]any, 0, len(lrow)+len(rPay))
	row = append(row, lrow...)
	for _, j := range rPay {
		if rrow == nil {
			row = append(row, nil)
		} else {
			row = append(row, rrow[j])
		}
	}
	return row
}

type bound struct{ lo, hi int }

// partitionBounds splits n rows into at most p contiguous, near-even
// blocks.
func partitionBounds(n, p int) []bound {
	if p > n {
		p = n
	}
	if p < 1 {
		p = 1
	}
	out := make([]bound, 0, p)
	size := n / p
	rem := n % p
	lo := 0
	for i := 0; i < p; i++ {
		hi := lo + size
		if i < rem {
			hi++
		}
		out = append(out, bound{lo: lo, hi: hi})
		lo = hi
	}
	return out
}

// keyString encodes key cells into a canonical comparable string. Floats
// use the exact 'b' format so distinct values never collide.
func keyString(cells []any) string {
	var b strings.Builder
	for _, c := range cells {
		switch v := c.(type) {
		case nil:
			b.WriteString("\x00n")
		case time.Time:
			b.WriteString("\x00t")
			b.WriteString(strconv.FormatInt(v.UTC().UnixNano(), 36))
		case float64:
			b.WriteString("\x00f")
			b.WriteString(strconv.FormatFloat(v, 'b', -1, 64))
		case int64:
			b.WriteString("\x00i")
			b.WriteString(strconv.FormatInt(v, 36))
		case bool:
			b.WriteString("\x00b")
			b.WriteString(strconv.FormatBool(v))
		default:
			b.WriteString("\x00s")
			b.WriteString(fmt.Sprint(v))
		}
	}
	return b.String()
}

// keyLess orders key tuples cell by cell; nils sort first.
func keyLess(a, b []any) bool {
	for i := range a {
		av, bv := a[i], b[i]
		if av == nil || bv == nil {
			if av == nil && bv != nil {
				return true
			}
			if av == nil && bv == nil {
				continue
			}
			return false
		}
		c, err := compareCells(av, bv)
		if err != nil {
			continue
		}
		if c != 0 {
			return c < 0
		}
	}
	return false
}
