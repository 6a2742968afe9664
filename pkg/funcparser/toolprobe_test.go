package funcparser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/genbase-project/genbase/pkg/platformerr"
)

func TestProbeToolSchema_FindsMarkedMethods(t *testing.T) {
	dir := t.TempDir()
	writeActionFile(t, dir, "__init__.py", `
class SupportAgent(BaseAgent):
    def process_request(self, user_input: str):
        """Handle a user turn."""
        pass

    @tool
    def search_docs(self, query: str, limit: int = 5):
        """Search the documentation.

        Args:
            query: search text
            limit: max results
        """
        pass

    @tool
    async def fetch_page(self, url: str):
        """Fetch a page body."""
        pass

    def _internal_helper(self, x: int):
        pass
`)

	descriptors, err := ProbeToolSchema(dir, "SupportAgent")
	require.NoError(t, err)
	require.Len(t, descriptors, 2)

	names := map[string]bool{}
	for _, d := range descriptors {
		names[d.Name] = true
	}
	require.True(t, names["search_docs"])
	require.True(t, names["fetch_page"])
	require.False(t, names["process_request"])
	require.False(t, names["_internal_helper"])
}

func TestProbeToolSchema_FallsBackToPeerFiles(t *testing.T) {
	dir := t.TempDir()
	writeActionFile(t, dir, "__init__.py", "# empty\n")
	writeActionFile(t, dir, "support.py", `
class SupportAgent(BaseAgent):
    @tool
    def ping(self):
        """Ping."""
        pass
`)

	descriptors, err := ProbeToolSchema(dir, "SupportAgent")
	require.NoError(t, err)
	require.Len(t, descriptors, 1)
	require.Equal(t, "ping", descriptors[0].Name)
}

func TestProbeToolSchema_ClassNotFound(t *testing.T) {
	dir := t.TempDir()
	writeActionFile(t, dir, "__init__.py", "# empty\n")

	_, err := ProbeToolSchema(dir, "Missing")
	require.Error(t, err)
	require.Equal(t, platformerr.FunctionNotFound, platformerr.KindOf(err))
}
