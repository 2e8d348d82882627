//go:build ballast_failfast

package fixed

import (
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ballast/infra/memory"
)

const failFastCaseEnv = "BALLAST_FIXED_FAILFAST_CASE"

var failFastCases = map[string]func(){
	"vector append on full": func() {
		v := NewVector[int](memory.NewPhaseManager())
		_ = v.Reserve(1)
		_ = v.Append(1)
		_ = v.Append(2)
	},
	"vector growth": func() {
		v := NewVector[int](memory.NewPhaseManager())
		_ = v.Reserve(1)
		_ = v.Reserve(2)
	},
	"list release in steady": func() {
		phases := memory.NewPhaseManager()
		l := NewList[int](phases)
		_ = l.Reserve(1)
		phases.SetPhase(memory.PhaseSteady)
		_ = l.Release()
	},
	"map release in steady": func() {
		phases := memory.NewPhaseManager()
		m := NewMap[int, int](phases)
		_ = m.Reserve(1)
		phases.SetPhase(memory.PhaseSteady)
		_ = m.Release()
	},
}

// Each case runs in a child process, which must exit with the abort status
// instead of returning.
func TestFailFastBuildAborts(t *testing.T) {
	if name := os.Getenv(failFastCaseEnv); name != "" {
		failFastCases[name]()
		os.Exit(0)
	}

	for name := range failFastCases {
		t.Run(name, func(t *testing.T) {
			cmd := exec.Command(os.Args[0], "-test.run=^TestFailFastBuildAborts$")
			cmd.Env = append(os.Environ(), failFastCaseEnv+"="+name)
			err := cmd.Run()

			var exit *exec.ExitError
			require.ErrorAs(t, err, &exit)
			assert.Equal(t, 70, exit.ExitCode())
		})
	}
}
