package tagid

import (
	"context"
	"errors"
	"fmt"
	"testing"

	bomModel "bomsync/internal/model/bom"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLookup 模拟已持久化的标签集合
type fakeLookup struct {
	persisted map[string]struct{}
	calls     int
	err       error
}

func newFakeLookup(tags ...string) *fakeLookup {
	l := &fakeLookup{persisted: make(map[string]struct{})}
	for _, tag := range tags {
		l.persisted[tag] = struct{}{}
	}
	return l
}

func (l *fakeLookup) ExistingTagIDs(ctx context.Context, candidates []string) ([]string, error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	var existing []string
	for _, c := range candidates {
		if _, ok := l.persisted[c]; ok {
			existing = append(existing, c)
		}
	}
	return existing, nil
}

// sequence 依次返回给定的候选值，用完后按序号生成
func sequence(values ...string) func() string {
	i := 0
	return func() string {
		defer func() { i++ }()
		if i < len(values) {
			return values[i]
		}
		return fmt.Sprintf("GEN%07d", i)
	}
}

func TestGenerate_DefaultCandidates(t *testing.T) {
	g := NewGenerator()
	tags, err := g.Generate(context.Background(), newFakeLookup(), 500)
	require.NoError(t, err)
	require.Len(t, tags, 500)

	unique := make(map[string]struct{})
	for _, tag := range tags {
		assert.Len(t, tag, DefaultLength)
		unique[tag] = struct{}{}
	}
	assert.Len(t, unique, 500)
}

func TestGenerate_SkipsPersistedCollisions(t *testing.T) {
	lookup := newFakeLookup("A", "B")
	g := NewGenerator(WithCandidateFunc(sequence("A", "B", "C", "A", "D")))

	tags, err := g.Generate(context.Background(), lookup, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "D", "GEN0000005"}, tags)
	for _, tag := range tags {
		assert.NotContains(t, lookup.persisted, tag)
	}
	assert.Equal(t, 2, lookup.calls)
}

func TestGenerate_DedupWithinBatch(t *testing.T) {
	g := NewGenerator(WithCandidateFunc(sequence("A", "A", "A", "B")))
	tags, err := g.Generate(context.Background(), newFakeLookup(), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, tags)
}

func TestGenerate_Exhaustion(t *testing.T) {
	lookup := newFakeLookup("SAME")
	g := NewGenerator(WithCandidateFunc(func() string { return "SAME" }))

	_, err := g.Generate(context.Background(), lookup, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, bomModel.ErrIdentifierExhaustion))
	assert.Contains(t, err.Error(), "after 10 attempts")
}

func TestGenerate_MaxRoundsOption(t *testing.T) {
	lookup := newFakeLookup("SAME")
	g := NewGenerator(WithMaxRounds(3), WithCandidateFunc(func() string { return "SAME" }))

	_, err := g.Generate(context.Background(), lookup, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	// 冲突标签只查询一次
	assert.Equal(t, 1, lookup.calls)
}

func TestGenerate_LookupError(t *testing.T) {
	lookup := newFakeLookup()
	lookup.err = errors.New("connection reset")

	_, err := NewGenerator().Generate(context.Background(), lookup, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, lookup.err)
	assert.False(t, errors.Is(err, bomModel.ErrIdentifierExhaustion))
}

func TestGenerate_ZeroCount(t *testing.T) {
	tags, err := NewGenerator().Generate(context.Background(), newFakeLookup(), 0)
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestWithLength(t *testing.T) {
	g := NewGenerator(WithLength(16))
	assert.Len(t, g.newCandidate(), 16)

	g = NewGenerator(WithLength(99))
	assert.Len(t, g.newCandidate(), DefaultLength)
}
