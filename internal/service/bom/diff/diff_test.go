package diff

import (
	"context"
	"errors"
	"fmt"
	"testing"

	bomModel "bomsync/internal/model/bom"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fields(assemblyID string, height float64) bomModel.AssemblyFields {
	return bomModel.AssemblyFields{
		AssemblyID:    assemblyID,
		Name:          "column " + assemblyID,
		InstallHeight: height,
		TotalLength:   6000,
		TotalWeight:   512.4,
		Specification: "HW400x400",
		Material:      "Q355B",
		Type:          "COLUMN",
	}
}

func persistedAssembly(id uint64, assemblyID string, height float64) *bomModel.Assembly {
	return &bomModel.Assembly{
		ProjectID:      1,
		TagID:          fmt.Sprintf("TAG%d", id),
		AssemblyFields: fields(assemblyID, height),
	}
}

func imported(assemblyID string, height float64) bomModel.ImportedAssembly {
	return bomModel.ImportedAssembly{AssemblyFields: fields(assemblyID, height)}
}

func TestSort_Scenario(t *testing.T) {
	a1 := persistedAssembly(1, "X1", 10.00)
	persisted := []*bomModel.Assembly{a1}

	t.Run("unchanged plus new", func(t *testing.T) {
		result := Sort(persisted, []bomModel.ImportedAssembly{imported("X1", 10.00), imported("X2", 3)})
		require.Len(t, result.NewAssemblies, 1)
		assert.Equal(t, "X2", result.NewAssemblies[0].AssemblyID)
		assert.Empty(t, result.Replacements)
		assert.Empty(t, result.MissingAssemblies)
	})

	t.Run("dropped becomes missing", func(t *testing.T) {
		result := Sort(persisted, []bomModel.ImportedAssembly{imported("X2", 3)})
		require.Len(t, result.NewAssemblies, 1)
		assert.Equal(t, "X2", result.NewAssemblies[0].AssemblyID)
		assert.Empty(t, result.Replacements)
		assert.Equal(t, []*bomModel.Assembly{a1}, result.MissingAssemblies)
	})

	t.Run("changed height is replaced", func(t *testing.T) {
		changed := imported("X1", 12.50)
		result := Sort(persisted, []bomModel.ImportedAssembly{changed})
		assert.Empty(t, result.NewAssemblies)
		assert.Empty(t, result.MissingAssemblies)
		require.Len(t, result.Replacements, 1)
		assert.Same(t, a1, result.Replacements[0].ReplacedAssembly)
		assert.Equal(t, changed, result.Replacements[0].ReplacementAssembly)
	})
}

func TestSort_NumericTolerance(t *testing.T) {
	persisted := []*bomModel.Assembly{persistedAssembly(1, "X1", 10)}

	result := Sort(persisted, []bomModel.ImportedAssembly{imported("X1", 10+5e-8)})
	assert.Empty(t, result.Replacements)

	result = Sort(persisted, []bomModel.ImportedAssembly{imported("X1", 10+2e-7)})
	assert.Len(t, result.Replacements, 1)
}

func TestEqual_ToleranceBoundary(t *testing.T) {
	base := fields("X1", 10)

	numeric := map[string]func(f *bomModel.AssemblyFields, delta float64){
		"install height":   func(f *bomModel.AssemblyFields, d float64) { f.InstallHeight += d },
		"total length":     func(f *bomModel.AssemblyFields, d float64) { f.TotalLength += d },
		"total weight":     func(f *bomModel.AssemblyFields, d float64) { f.TotalWeight += d },
		"total net weight": func(f *bomModel.AssemblyFields, d float64) { f.TotalNetWeight += d },
		"total area":       func(f *bomModel.AssemblyFields, d float64) { f.TotalArea += d },
	}
	for name, shift := range numeric {
		t.Run(name, func(t *testing.T) {
			within := base
			shift(&within, 9.9e-8)
			assert.True(t, Equal(base, within))

			beyond := base
			shift(&beyond, 1.01e-7)
			assert.False(t, Equal(base, beyond))

			below := base
			shift(&below, -1.01e-7)
			assert.False(t, Equal(base, below))
		})
	}

	t.Run("sort classifies total weight drift", func(t *testing.T) {
		persisted := []*bomModel.Assembly{persistedAssembly(1, "X1", 10)}

		near := imported("X1", 10)
		near.TotalWeight += 9.9e-8
		assert.Empty(t, Sort(persisted, []bomModel.ImportedAssembly{near}).Replacements)

		drifted := imported("X1", 10)
		drifted.TotalWeight += 1.01e-7
		assert.Len(t, Sort(persisted, []bomModel.ImportedAssembly{drifted}).Replacements, 1)
	})
}

func TestEqual_FieldSet(t *testing.T) {
	base := fields("X1", 10)

	mutations := map[string]func(f *bomModel.AssemblyFields){
		"name":             func(f *bomModel.AssemblyFields) { f.Name = "other" },
		"install position": func(f *bomModel.AssemblyFields) { f.InstallPosition = "B-3" },
		"install height":   func(f *bomModel.AssemblyFields) { f.InstallHeight = 11 },
		"area type":        func(f *bomModel.AssemblyFields) { f.AreaType = "roof" },
		"drawing name":     func(f *bomModel.AssemblyFields) { f.DrawingName = "GZ-02" },
		"total length":     func(f *bomModel.AssemblyFields) { f.TotalLength++ },
		"total weight":     func(f *bomModel.AssemblyFields) { f.TotalWeight++ },
		"total net weight": func(f *bomModel.AssemblyFields) { f.TotalNetWeight++ },
		"total area":       func(f *bomModel.AssemblyFields) { f.TotalArea++ },
		"specification":    func(f *bomModel.AssemblyFields) { f.Specification = "HW300" },
		"material":         func(f *bomModel.AssemblyFields) { f.Material = "Q235B" },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			changed := base
			mutate(&changed)
			assert.False(t, Equal(base, changed))
		})
	}

	// type 不参与比较
	changed := base
	changed.Type = "BEAM"
	assert.True(t, Equal(base, changed))
}

func TestSort_SkipsMissingBusinessKey(t *testing.T) {
	persisted := []*bomModel.Assembly{persistedAssembly(1, "X1", 10)}
	result := Sort(persisted, []bomModel.ImportedAssembly{imported("", 1), imported("X1", 10)})

	assert.Equal(t, 1, result.Skipped)
	assert.Empty(t, result.NewAssemblies)
	assert.Empty(t, result.Replacements)
	assert.Empty(t, result.MissingAssemblies)
	assert.Zero(t, result.TotalSteps())
}

func TestSort_DuplicateBusinessKeys(t *testing.T) {
	first := persistedAssembly(1, "X1", 10)
	second := persistedAssembly(2, "X1", 20)
	persisted := []*bomModel.Assembly{first, second}

	result := Sort(persisted, []bomModel.ImportedAssembly{imported("X1", 10), imported("X1", 21), imported("X1", 30)})
	require.Len(t, result.Replacements, 1)
	assert.Same(t, second, result.Replacements[0].ReplacedAssembly)
	require.Len(t, result.NewAssemblies, 1)
	assert.Equal(t, float64(30), result.NewAssemblies[0].InstallHeight)
	assert.Empty(t, result.MissingAssemblies)
}

// 每个已持久化构件恰好落在替换或缺失之一，每个有主键的导入构件恰好落在新增或替换之一
func TestSort_Completeness(t *testing.T) {
	var persisted []*bomModel.Assembly
	for i := 0; i < 40; i++ {
		persisted = append(persisted, persistedAssembly(uint64(i), fmt.Sprintf("P%02d", i%30), float64(i)))
	}
	var incoming []bomModel.ImportedAssembly
	for i := 0; i < 50; i++ {
		incoming = append(incoming, imported(fmt.Sprintf("P%02d", i%35), float64(i%7)))
	}
	incoming = append(incoming, imported("", 0))

	result := Sort(persisted, incoming)

	persistedHits := make(map[*bomModel.Assembly]int)
	for _, r := range result.Replacements {
		persistedHits[r.ReplacedAssembly]++
	}
	for _, m := range result.MissingAssemblies {
		persistedHits[m]++
	}
	unchanged := 0
	for _, p := range persisted {
		assert.LessOrEqual(t, persistedHits[p], 1)
		if persistedHits[p] == 0 {
			unchanged++
		}
	}

	keyed := len(incoming) - result.Skipped
	assert.Equal(t, keyed, len(result.NewAssemblies)+len(result.Replacements)+unchanged)
	assert.Equal(t, len(persisted), len(result.Replacements)+len(result.MissingAssemblies)+unchanged)
}

func TestSort_DoesNotMutateInput(t *testing.T) {
	persisted := []*bomModel.Assembly{persistedAssembly(1, "X1", 10), persistedAssembly(2, "X2", 10)}
	incoming := []bomModel.ImportedAssembly{imported("X1", 11)}

	first := Sort(persisted, incoming)
	second := Sort(persisted, incoming)
	assert.Equal(t, first, second)
	assert.Len(t, persisted, 2)
}

type stubSource struct {
	assemblies []*bomModel.Assembly
	err        error
}

func (s stubSource) ListByProject(ctx context.Context, projectID uint64) ([]*bomModel.Assembly, error) {
	return s.assemblies, s.err
}

func TestEngine_Diff(t *testing.T) {
	engine := NewEngine(stubSource{assemblies: []*bomModel.Assembly{persistedAssembly(1, "X1", 10)}})
	result, err := engine.Diff(context.Background(), 1, []bomModel.ImportedAssembly{imported("X1", 10)})
	require.NoError(t, err)
	assert.Zero(t, result.TotalSteps())

	boom := errors.New("db down")
	_, err = NewEngine(stubSource{err: boom}).Diff(context.Background(), 1, nil)
	assert.ErrorIs(t, err, boom)
}
