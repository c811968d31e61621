// Package route finds multi-hop paths across the site network.
package route

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNoPath   = errors.New("no path between sites")
	ErrSameSite = errors.New("start and end site are the same")
)

// NoPathError names the unreachable pair.
type NoPathError struct {
	Start, End int64
}

func (e *NoPathError) Error() string {
	return fmt.Sprintf("site %d to %d: %v", e.Start, e.End, ErrNoPath)
}

func (e *NoPathError) Unwrap() error { return ErrNoPath }

type Policy int

const (
	FewestHops Policy = iota + 1
	LowestCost
)

func (p Policy) String() string {
	switch p {
	case FewestHops:
		return "FEWEST_HOPS"
	case LowestCost:
		return "LOWEST_COST"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// PolicyFromMethod maps the stored dispatch method (1 shortest, 2 cheapest).
func PolicyFromMethod(method int) (Policy, error) {
	switch method {
	case 1:
		return FewestHops, nil
	case 2:
		return LowestCost, nil
	}
	return 0, fmt.Errorf("unknown dispatch method %d", method)
}

// ParsePolicy accepts the policy names and the numeric methods.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FEWEST_HOPS", "1":
		return FewestHops, nil
	case "LOWEST_COST", "2":
		return LowestCost, nil
	}
	return 0, fmt.Errorf("unknown routing policy %q", s)
}

// Edge is one transport line. Lines are usable in both directions.
type Edge struct {
	LineID   int64
	From, To int64
	Distance float64
	Cost     decimal.Decimal
	Duration time.Duration
}

// Graph supplies the current set of lines.
type Graph interface {
	Edges(ctx context.Context) ([]Edge, error)
}

// GraphFunc adapts a function to Graph.
type GraphFunc func(ctx context.Context) ([]Edge, error)

func (f GraphFunc) Edges(ctx context.Context) ([]Edge, error) { return f(ctx) }

// Path is an ordered list of sites with the totals of the lines walked.
type Path struct {
	Sites    []int64         `json:"sites"`
	Lines    []int64         `json:"lines"`
	Cost     decimal.Decimal `json:"cost"`
	Distance float64         `json:"distance"`
	Duration time.Duration   `json:"duration"`
}

func (p *Path) Hops() int { return len(p.Sites) - 1 }

type Selector struct {
	graph Graph
}

func NewSelector(g Graph) *Selector {
	return &Selector{graph: g}
}

// SelectPath returns the best path from start to end under policy.
// FewestHops breaks hop ties by distance. LowestCost keeps the first
// equal-cost path settled, with lines explored in id order.
func (s *Selector) SelectPath(ctx context.Context, start, end int64, policy Policy) (*Path, error) {
	if start == end {
		return nil, ErrSameSite
	}
	if policy != FewestHops && policy != LowestCost {
		return nil, fmt.Errorf("select path: unsupported policy %v", policy)
	}
	edges, err := s.graph.Edges(ctx)
	if err != nil {
		return nil, fmt.Errorf("load site graph: %w", err)
	}
	adj := buildAdjacency(edges)
	if _, ok := adj[start]; !ok {
		return nil, &NoPathError{Start: start, End: end}
	}

	best := map[int64]weight{start: {}}
	via := map[int64]Edge{}
	done := map[int64]bool{}
	pq := &queue{}
	seq := 0
	heap.Push(pq, &item{site: start, w: weight{}, policy: policy, seq: seq})

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(*item)
		if done[cur.site] {
			continue
		}
		done[cur.site] = true
		if cur.site == end {
			break
		}
		for _, e := range adj[cur.site] {
			if done[e.To] {
				continue
			}
			next := cur.w.add(e)
			if prev, ok := best[e.To]; ok && !next.less(prev, policy) {
				continue
			}
			best[e.To] = next
			via[e.To] = e
			seq++
			heap.Push(pq, &item{site: e.To, w: next, policy: policy, seq: seq})
		}
	}

	if !done[end] {
		return nil, &NoPathError{Start: start, End: end}
	}
	return buildPath(start, end, via), nil
}

func buildAdjacency(edges []Edge) map[int64][]Edge {
	sorted := make([]Edge, len(edges))
	copy(sorted, edges)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].LineID < sorted[j].LineID })

	adj := make(map[int64][]Edge)
	for _, e := range sorted {
		adj[e.From] = append(adj[e.From], e)
		rev := e
		rev.From, rev.To = e.To, e.From
		adj[rev.From] = append(adj[rev.From], rev)
	}
	return adj
}

func buildPath(start, end int64, via map[int64]Edge) *Path {
	var lines []Edge
	for site := end; site != start; {
		e := via[site]
		lines = append(lines, e)
		site = e.From
	}
	p := &Path{Sites: []int64{start}, Cost: decimal.Zero}
	for i := len(lines) - 1; i >= 0; i-- {
		e := lines[i]
		p.Sites = append(p.Sites, e.To)
		p.Lines = append(p.Lines, e.LineID)
		p.Cost = p.Cost.Add(e.Cost)
		p.Distance += e.Distance
		p.Duration += e.Duration
	}
	return p
}

type weight struct {
	hops     int
	distance float64
	cost     decimal.Decimal
}

func (w weight) add(e Edge) weight {
	return weight{hops: w.hops + 1, distance: w.distance + e.Distance, cost: w.cost.Add(e.Cost)}
}

func (w weight) less(o weight, p Policy) bool {
	if p == LowestCost {
		return w.cost.LessThan(o.cost)
	}
	if w.hops != o.hops {
		return w.hops < o.hops
	}
	return w.distance < o.distance
}

type item struct {
	site   int64
	w      weight
	policy Policy
	seq    int
}

type queue []*item

func (q queue) Len() int { return len(q) }
func (q queue) Less(i, j int) bool {
	if q[i].w.less(q[j].w, q[i].policy) {
		return true
	}
	if q[j].w.less(q[i].w, q[i].policy) {
		return false
	}
	return q[i].seq < q[j].seq
}
func (q queue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *queue) Push(x any)   { *q = append(*q, x.(*item)) }
func (q *queue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}
