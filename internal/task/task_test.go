package task

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestID_StableMD5(t *testing.T) {
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", ID(""))
	assert.Equal(t, ID("dashboard with patient records"), ID("dashboard with patient records"))
	assert.NotEqual(t, ID("a"), ID("b"))

	t1, t2 := New("story"), New("story")
	assert.Equal(t, t1.ID(), t2.ID())
	assert.NotEqual(t, t1.RunID(), t2.RunID())
}

func TestAnalysis_SettersRejectEmpty(t *testing.T) {
	a := NewAnalysis("story")

	assert.ErrorIs(t, a.SetRequirements(nil), ErrEmptyValue)
	assert.ErrorIs(t, a.SetEntities([]string{}), ErrEmptyValue)
	assert.ErrorIs(t, a.SetActions(nil), ErrEmptyValue)
	assert.ErrorIs(t, a.SetComplexity(""), ErrEmptyValue)
	assert.ErrorIs(t, a.SetArchitecture("  "), ErrEmptyValue)
	assert.ErrorIs(t, a.SetComplexity("extreme"), ErrInvalidComplexity)

	view := a.View()
	assert.Empty(t, view.Requirements)
	assert.Equal(t, ComplexityUnknown, view.Complexity)
	assert.Equal(t, DefaultArchitecture, view.Architecture)
	assert.Equal(t, "story", a.Story())
}

func TestAnalysis_SettersCopyInput(t *testing.T) {
	a := NewAnalysis("story")
	in := []string{"Patient"}
	require.NoError(t, a.SetEntities(in))
	in[0] = "Doctor"
	assert.Equal(t, []string{"Patient"}, a.Entities())

	out := a.Entities()
	out[0] = "Nurse"
	assert.Equal(t, []string{"Patient"}, a.Entities())
}

func TestParseComplexity(t *testing.T) {
	tests := map[string]Complexity{
		"low":     ComplexityLow,
		" Medium": ComplexityMedium,
		"HIGH":    ComplexityHigh,
		"":        ComplexityUnknown,
		"epic":    ComplexityUnknown,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseComplexity(in), in)
	}
}

func TestMerge_UnionsAndConcatenates(t *testing.T) {
	p := Plan{
		Files:    []string{"X.php"},
		Entities: []string{"A", "B"},
	}
	u := PlanUpdate{
		Files:    []string{"X.php"},
		Entities: []string{"B", "C"},
	}

	got := Merge(p, u)
	assert.Equal(t, []string{"A", "B", "C"}, got.Entities)
	assert.Equal(t, []string{"X.php", "X.php"}, got.Files)
	assert.Equal(t, ComplexityUnknown, got.Complexity)
	assert.Equal(t, DefaultArchitecture, got.Architecture)
}

func TestMerge_ScalarPrecedence(t *testing.T) {
	tests := []struct {
		name     string
		plan     Plan
		update   PlanUpdate
		wantCx   Complexity
		wantArch string
	}{
		{"update wins", Plan{Complexity: ComplexityLow, Architecture: "layered"}, PlanUpdate{Complexity: ComplexityHigh, Architecture: "ddd"}, ComplexityHigh, "ddd"},
		{"prior kept", Plan{Complexity: ComplexityLow, Architecture: "layered"}, PlanUpdate{}, ComplexityLow, "layered"},
		{"defaults", Plan{}, PlanUpdate{}, ComplexityUnknown, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge(tt.plan, tt.update)
			assert.Equal(t, tt.wantCx, got.Complexity)
			assert.Equal(t, tt.wantArch, got.Architecture)
		})
	}
}

func TestMerge_DoesNotAliasInputs(t *testing.T) {
	p := Plan{Files: make([]string, 1, 8), Requirements: []string{"r1"}}
	p.Files[0] = "A.php"
	got := Merge(p, PlanUpdate{Files: []string{"B.php"}})
	got.Files[0] = "Z.php"
	assert.Equal(t, "A.php", p.Files[0])
}

func TestPlanUpdate_IsEmpty(t *testing.T) {
	assert.True(t, PlanUpdate{}.IsEmpty())
	assert.False(t, PlanUpdate{Architecture: "ddd"}.IsEmpty())
	assert.False(t, PlanUpdate{Files: []string{"a"}}.IsEmpty())
}

func TestAnalysis_ApplyPlan(t *testing.T) {
	a := NewAnalysis("story")
	require.NoError(t, a.SetRequirements([]string{"login"}))

	a.ApplyPlan(Plan{Entities: []string{"Patient"}, Complexity: "Medium"})

	v := a.View()
	assert.Equal(t, []string{"login"}, v.Requirements)
	assert.Equal(t, []string{"Patient"}, v.Entities)
	assert.Equal(t, ComplexityMedium, v.Complexity)
	assert.Equal(t, DefaultArchitecture, v.Architecture)
}

func TestTask_FilesOnlyGrow(t *testing.T) {
	tk := New("story")
	assert.True(t, tk.RecordFile("A.php", "/out/A.php"))
	assert.False(t, tk.RecordFile("A.php", "/out/other.php"))
	assert.Equal(t, map[string]string{"A.php": "/out/A.php"}, tk.Files())
	assert.True(t, tk.HasFile("A.php"))
}

func TestTask_ManifestKeptApartFromFiles(t *testing.T) {
	tk := New("story")
	require.True(t, tk.RecordFile("composer.json", "/out/src/composer.json"))
	tk.SetManifest("/out/composer.json")

	r := tk.Result()
	assert.Equal(t, "/out/composer.json", r.Manifest)
	assert.Equal(t, map[string]string{"composer.json": "/out/src/composer.json"}, r.Files,
		"a planned file with the manifest name keeps its own path")
	assert.Empty(t, New("other").Result().Manifest)
}

func TestTask_ConcurrentRecord(t *testing.T) {
	tk := New("story")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tk.RecordFile("same.php", "path")
			tk.RecordOutcome("same.php", OutcomeCodeProduced)
		}(i)
	}
	wg.Wait()
	assert.Len(t, tk.Files(), 1)
	assert.Equal(t, OutcomeCodeProduced, tk.Outcomes()["same.php"])
}

func TestResult_JSONShape(t *testing.T) {
	tk := New("story")
	r := tk.Result()
	data, err := json.Marshal(r)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Contains(t, m, "analysis")
	assert.Nil(t, m["analysis"])
	assert.Nil(t, m["validation"])
	assert.Equal(t, false, m["success"])

	a := NewAnalysis("story")
	require.NoError(t, a.SetComplexity(ComplexityMedium))
	tk.SetAnalysis(a)
	tk.SetValidation("no files planned")
	tk.SetMessage("done")
	tk.SetSuccess(true)

	r = tk.Result()
	require.NotNil(t, r.Analysis)
	assert.Equal(t, ComplexityMedium, r.Analysis.Complexity)
	require.NotNil(t, r.Validation)
	assert.Equal(t, "no files planned", *r.Validation)

	// snapshot is detached from later mutation
	tk.RecordFile("late.php", "p")
	assert.NotContains(t, r.Files, "late.php")
}

func TestResult_FileNamesSorted(t *testing.T) {
	r := Result{Files: map[string]string{"b.php": "", "composer.json": "", "a.php": ""}}
	assert.Equal(t, []string{"a.php", "b.php", "composer.json"}, r.FileNames())
	assert.Empty(t, Result{}.FileNames())
}
