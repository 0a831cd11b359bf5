package sensor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseReferencePicksColumn(t *testing.T) {
	csv := strings.Join([]string{
		"Pregnancies,Glucose,DiabetesPedigreeFunction,Age",
		"6,148,0.627,50",
		"1,85,0.351,31",
		"8,183,not-a-number,32",
		"1,89,0.167,21",
	}, "\n")

	values, err := parseReference(strings.NewReader(csv))
	require.NoError(t, err)
	require.Equal(t, []float64{0.627, 0.351, 0.167}, values)
}

func TestParseReferenceMissingColumn(t *testing.T) {
	_, err := parseReference(strings.NewReader("Glucose,Age\n148,50\n"))
	require.Error(t, err)
}

func TestLoadReferenceFallsBack(t *testing.T) {
	values := LoadReference(filepath.Join(t.TempDir(), "missing.csv"))
	require.Len(t, values, fallbackCount)
	for _, v := range values {
		require.GreaterOrEqual(t, v, dpfMin)
		require.LessOrEqual(t, v, dpfMax)
	}
}

func TestLoadReferenceReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diabetes.csv")
	require.NoError(t, os.WriteFile(path, []byte("DiabetesPedigreeFunction\n0.5\n1.2\n"), 0o644))

	values := LoadReference(path)
	require.Equal(t, []float64{0.5, 1.2}, values)
}
