package warmpool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPyDictLiteral_SortsKeysAndQuotesJSONSafe(t *testing.T) {
	literal := pyDictLiteral(map[string]string{"B": "two", "A": "one \"quoted\""})
	require.Equal(t, `{"A": "one \"quoted\"", "B": "two"}`, literal)
}

func TestBuildDriverScript_EmbedsFunctionAndPaths(t *testing.T) {
	script := buildDriverScript("/scratch/inv-1", "tools/actions.py", "do_thing", map[string]string{"KEY": "val"})

	require.Contains(t, script, "/module/tools/actions.py")
	require.Contains(t, script, `getattr(module, "do_thing")`)
	require.Contains(t, script, "/scratch/inv-1/params.json")
	require.Contains(t, script, "/scratch/inv-1/result.json")
	require.Contains(t, script, "/scratch/inv-1/error.txt")
	require.Contains(t, script, `"KEY": "val"`)
}
