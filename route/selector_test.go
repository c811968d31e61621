package route

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	siteA int64 = iota + 1
	siteB
	siteC
	siteD
	siteE
	siteF
)

func line(id, from, to int64, cost string, distance float64) Edge {
	return Edge{
		LineID:   id,
		From:     from,
		To:       to,
		Cost:     decimal.RequireFromString(cost),
		Distance: distance,
		Duration: time.Duration(distance) * time.Minute,
	}
}

func staticGraph(edges ...Edge) Graph {
	return GraphFunc(func(context.Context) ([]Edge, error) { return edges, nil })
}

// A-B-C is short but expensive, A-D-E-C is long but cheap.
func network() Graph {
	return staticGraph(
		line(1, siteA, siteB, "10", 100),
		line(2, siteB, siteC, "10", 100),
		line(3, siteA, siteD, "1", 50),
		line(4, siteD, siteE, "1", 50),
		line(5, siteE, siteC, "1", 50),
	)
}

func TestFewestHops(t *testing.T) {
	p, err := NewSelector(network()).SelectPath(context.Background(), siteA, siteC, FewestHops)
	require.NoError(t, err)
	assert.Equal(t, []int64{siteA, siteB, siteC}, p.Sites)
	assert.Equal(t, []int64{1, 2}, p.Lines)
	assert.Equal(t, 2, p.Hops())
	assert.True(t, p.Cost.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, 200.0, p.Distance)
	assert.Equal(t, 200*time.Minute, p.Duration)
}

func TestLowestCost(t *testing.T) {
	p, err := NewSelector(network()).SelectPath(context.Background(), siteA, siteC, LowestCost)
	require.NoError(t, err)
	assert.Equal(t, []int64{siteA, siteD, siteE, siteC}, p.Sites)
	assert.True(t, p.Cost.Equal(decimal.NewFromInt(3)), "cost = %s", p.Cost)
}

func TestLinesAreBidirectional(t *testing.T) {
	p, err := NewSelector(network()).SelectPath(context.Background(), siteC, siteA, FewestHops)
	require.NoError(t, err)
	assert.Equal(t, []int64{siteC, siteB, siteA}, p.Sites)
}

func TestFewestHopsBreaksTiesByDistance(t *testing.T) {
	g := staticGraph(
		line(1, siteA, siteB, "1", 100),
		line(2, siteB, siteC, "1", 100),
		line(3, siteA, siteF, "1", 10),
		line(4, siteF, siteC, "1", 10),
	)
	p, err := NewSelector(g).SelectPath(context.Background(), siteA, siteC, FewestHops)
	require.NoError(t, err)
	assert.Equal(t, []int64{siteA, siteF, siteC}, p.Sites)
}

func TestLowestCostTieKeepsFirstFound(t *testing.T) {
	g := staticGraph(
		line(2, siteA, siteF, "5", 1),
		line(1, siteA, siteB, "5", 1),
		line(3, siteB, siteC, "5", 1),
		line(4, siteF, siteC, "5", 1),
	)
	p, err := NewSelector(g).SelectPath(context.Background(), siteA, siteC, LowestCost)
	require.NoError(t, err)
	// line 1 is explored before line 2, so B is settled first
	assert.Equal(t, []int64{siteA, siteB, siteC}, p.Sites)
}

func TestDecimalCostsDoNotDrift(t *testing.T) {
	g := staticGraph(
		line(1, siteA, siteB, "0.1", 1),
		line(2, siteB, siteC, "0.2", 1),
		line(3, siteA, siteC, "0.3", 1),
	)
	p, err := NewSelector(g).SelectPath(context.Background(), siteA, siteC, LowestCost)
	require.NoError(t, err)
	// 0.1 + 0.2 == 0.3 exactly, so the two-hop path does not displace the
	// direct line already recorded for C.
	assert.Equal(t, []int64{siteA, siteC}, p.Sites)
	assert.True(t, p.Cost.Equal(decimal.RequireFromString("0.3")))
}

func TestSameSite(t *testing.T) {
	_, err := NewSelector(network()).SelectPath(context.Background(), siteA, siteA, FewestHops)
	assert.ErrorIs(t, err, ErrSameSite)
}

func TestNoPath(t *testing.T) {
	g := staticGraph(
		line(1, siteA, siteB, "1", 1),
		line(2, siteC, siteD, "1", 1),
	)
	_, err := NewSelector(g).SelectPath(context.Background(), siteA, siteD, LowestCost)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoPath)

	var npe *NoPathError
	require.ErrorAs(t, err, &npe)
	assert.Equal(t, siteA, npe.Start)
	assert.Equal(t, siteD, npe.End)

	_, err = NewSelector(g).SelectPath(context.Background(), 99, siteA, FewestHops)
	assert.ErrorIs(t, err, ErrNoPath)
}

func TestGraphErrorPropagates(t *testing.T) {
	boom := errors.New("db down")
	g := GraphFunc(func(context.Context) ([]Edge, error) { return nil, boom })
	_, err := NewSelector(g).SelectPath(context.Background(), siteA, siteB, FewestHops)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNoPath)
}

func TestPolicyParsing(t *testing.T) {
	p, err := PolicyFromMethod(2)
	require.NoError(t, err)
	assert.Equal(t, LowestCost, p)

	p, err = ParsePolicy("fewest_hops")
	require.NoError(t, err)
	assert.Equal(t, FewestHops, p)

	_, err = PolicyFromMethod(3)
	assert.Error(t, err)
	_, err = ParsePolicy("scenic")
	assert.Error(t, err)
}
