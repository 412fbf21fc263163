// Package tagid 生成构件标签(全局唯一的短标识)
package tagid

import (
	"context"
	"encoding/base32"
	"fmt"

	bomModel "bomsync/internal/model/bom"
	"bomsync/internal/pkg/metrics"

	"github.com/google/uuid"
)

const (
	DefaultMaxRounds = 10
	DefaultLength    = 10
	maxLength        = 26 // 16字节UUID的base32长度
)

// crockford 去掉易混淆字符(I L O U)的base32字母表
var crockford = base32.NewEncoding("0123456789ABCDEFGHJKMNPQRSTVWXYZ").WithPadding(base32.NoPadding)

// TagLookup 查询候选标签中已被占用的部分
type TagLookup interface {
	ExistingTagIDs(ctx context.Context, candidates []string) ([]string, error)
}

// Generator 标签生成器
type Generator struct {
	maxRounds    int
	length       int
	newCandidate func() string
}

// Option 生成器选项
type Option func(*Generator)

// WithMaxRounds 设置最大重试轮数
func WithMaxRounds(rounds int) Option {
	return func(g *Generator) {
		if rounds > 0 {
			g.maxRounds = rounds
		}
	}
}

// WithLength 设置标签长度(1-26)
func WithLength(length int) Option {
	return func(g *Generator) {
		if length > 0 && length <= maxLength {
			g.length = length
		}
	}
}

// WithCandidateFunc 替换候选标签的产生方式
func WithCandidateFunc(fn func() string) Option {
	return func(g *Generator) {
		if fn != nil {
			g.newCandidate = fn
		}
	}
}

// NewGenerator 创建标签生成器
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		maxRounds: DefaultMaxRounds,
		length:    DefaultLength,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.newCandidate == nil {
		g.newCandidate = g.randomCandidate
	}
	return g
}

func (g *Generator) randomCandidate() string {
	id := uuid.New()
	return crockford.EncodeToString(id[:])[:g.length]
}

// Generate 生成 count 个互不相同且未被占用的标签
// 每轮补足候选、查询已占用的标签并剔除，超过最大轮数返回 IdentifierExhaustion
func (g *Generator) Generate(ctx context.Context, lookup TagLookup, count int) ([]string, error) {
	if count <= 0 {
		return nil, nil
	}

	accepted := make([]string, 0, count)
	seen := make(map[string]struct{}, count)

	for round := 1; round <= g.maxRounds; round++ {
		pending := g.topUp(seen, count-len(accepted))
		if len(pending) == 0 {
			continue
		}

		existing, err := lookup.ExistingTagIDs(ctx, pending)
		if err != nil {
			return nil, fmt.Errorf("failed to query existing tag ids: %w", err)
		}
		taken := make(map[string]struct{}, len(existing))
		for _, tag := range existing {
			taken[tag] = struct{}{}
		}

		for _, tag := range pending {
			if _, ok := taken[tag]; !ok {
				accepted = append(accepted, tag)
			}
		}

		if len(accepted) == count {
			metrics.ObserveTagRounds(round)
			return accepted, nil
		}
	}

	return nil, bomModel.NewImportError(bomModel.KindIdentifierExhaustion, "generate tag ids",
		fmt.Errorf("only %d of %d unique tag ids after %d attempts", len(accepted), count, g.maxRounds))
}

// topUp 产生最多 need 个本批次内未出现过的候选标签
// seen 记录已接受和已冲突的标签，冲突标签不会再次参与
func (g *Generator) topUp(seen map[string]struct{}, need int) []string {
	pending := make([]string, 0, need)
	for attempts := 0; len(pending) < need && attempts < need*4+16; attempts++ {
		candidate := g.newCandidate()
		if _, dup := seen[candidate]; dup {
			continue
		}
		seen[candidate] = struct{}{}
		pending = append(pending, candidate)
	}
	return pending
}
