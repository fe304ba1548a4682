package env

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mvdan.cc/sh/v3/expand"
)

func ExampleNewVarsFromEnviron() {
	vars := NewVarsFromEnviron([]string{"C=D", "A=B", "E", "F=G=H"})

	fmt.Printf("Environ(): %q\n", vars.Environ())
	fmt.Printf("Getenv(\"F\"): %q\n", vars.Getenv("F"))

	// Output: Environ(): ["A=B" "C=D" "E=" "F=G=H"]
	// Getenv("F"): "G=H"
}

func ExampleVars_Export() {
	vars := NewVars()
	vars.Setenv("LOCAL", "1")
	vars.Setenv("SHARED", "2")
	vars.Export("SHARED")

	fmt.Printf("Environ(): %q\n", vars.Environ())

	// Output: Environ(): ["SHARED=2"]
}

func TestSetenvKeepsExport(t *testing.T) {
	vars := NewVarsFromEnviron([]string{"PATH=/bin"})

	require.NoError(t, vars.Setenv("PATH", "/usr/bin"))

	assert.Equal(t, []string{"PATH=/usr/bin"}, vars.Environ())
}

func TestExportBeforeAssignment(t *testing.T) {
	vars := NewVars()

	require.NoError(t, vars.Export("LATER"))
	assert.Empty(t, vars.Environ(), "exported but unset variables are not passed on")

	require.NoError(t, vars.Setenv("LATER", "x"))
	assert.Equal(t, []string{"LATER=x"}, vars.Environ())
}

func TestUnsetenv(t *testing.T) {
	vars := NewVarsFromEnviron([]string{"A=1"})

	require.NoError(t, vars.Unsetenv("A"))

	_, ok := vars.LookupEnv("A")
	assert.False(t, ok)
	assert.Empty(t, vars.Names())
}

func TestReadOnly(t *testing.T) {
	vars := NewVars()
	require.NoError(t, vars.Setenv("FIXED", "1"))
	require.NoError(t, vars.ReadOnly("FIXED"))

	err := vars.Setenv("FIXED", "2")
	assert.True(t, errors.Is(err, ErrReadOnly))
	assert.True(t, errors.Is(vars.Unsetenv("FIXED"), ErrReadOnly))
	assert.Equal(t, "1", vars.Getenv("FIXED"))
}

func TestRestoreDropsAttributes(t *testing.T) {
	vars := NewVars()
	require.NoError(t, vars.Setenv("A", "1"))
	saved := vars.Get("A")
	missing := vars.Get("B")

	require.NoError(t, vars.Set("A", expand.Variable{Set: true, Exported: true, Kind: expand.String, Str: "2"}))
	require.NoError(t, vars.Setenv("B", "x"))
	vars.Restore("A", saved)
	vars.Restore("B", missing)

	assert.Equal(t, "1", vars.Getenv("A"))
	assert.Empty(t, vars.Environ(), "A is no longer exported and B is gone")
	assert.Equal(t, []string{"A"}, vars.Names())
}

func TestCloneIsIndependent(t *testing.T) {
	vars := NewVars()
	require.NoError(t, vars.Setenv("A", "parent"))
	require.NoError(t, vars.Set("L", expand.Variable{Set: true, Kind: expand.Indexed, List: []string{"x"}}))

	child := vars.Clone()
	require.NoError(t, child.Setenv("A", "child"))
	require.NoError(t, child.Setenv("B", "new"))
	child.Get("L").List[0] = "y"

	assert.Equal(t, "parent", vars.Getenv("A"))
	assert.Equal(t, "", vars.Getenv("B"))
	assert.Equal(t, "x", vars.Get("L").String())
}

func TestEachStops(t *testing.T) {
	vars := NewVarsFromEnviron([]string{"A=1", "B=2", "C=3"})

	var seen []string
	vars.Each(func(name string, _ expand.Variable) bool {
		seen = append(seen, name)
		return len(seen) < 2
	})

	assert.Equal(t, []string{"A", "B"}, seen)
}

func TestEmptyName(t *testing.T) {
	assert.Error(t, NewVars().Setenv("", "x"))
}
