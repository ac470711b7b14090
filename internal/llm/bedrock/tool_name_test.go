package bedrock

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeToolNameReplacesDots(t *testing.T) {
	require.Equal(t, "atlas_read_get_time_series", SanitizeToolName("atlas.read.get_time_series"))
}

func TestSanitizeToolNameIsDeterministic(t *testing.T) {
	in := "weird/tool name!"
	require.Equal(t, SanitizeToolName(in), SanitizeToolName(in))
}

func TestSanitizeToolNameTruncatesLongNames(t *testing.T) {
	long := strings.Repeat("a", 200)
	out := SanitizeToolName(long)
	require.LessOrEqual(t, len(out), 64)
	require.Contains(t, out, "_")
}

func TestSanitizeToolNameEmpty(t *testing.T) {
	require.Empty(t, SanitizeToolName(""))
}
