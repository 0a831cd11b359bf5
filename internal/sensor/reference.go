package sensor

import (
	"encoding/csv"
	"io"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"strconv"
)

const (
	dpfColumn     = "DiabetesPedigreeFunction"
	dpfMin        = 0.078
	dpfMax        = 2.42
	fallbackCount = 100
)

// LoadReference reads DiabetesPedigreeFunction values from the bundled
// dataset CSV. When the file is missing or unusable, a generated set of
// values in the typical range is substituted so the gateway stays operable.
func LoadReference(path string) []float64 {
	if path == "" {
		return fallbackReference()
	}

	file, err := os.Open(path)
	if err != nil {
		log.Printf("sensor: reference dataset unavailable (%v), using generated values", err)
		return fallbackReference()
	}
	defer file.Close()

	values, err := parseReference(file)
	if err != nil || len(values) == 0 {
		log.Printf("sensor: reference dataset unusable, using generated values")
		return fallbackReference()
	}

	log.Printf("sensor: loaded %d reference values from %s", len(values), path)
	return values
}

func parseReference(r io.Reader) ([]float64, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, err
	}

	column := -1
	for i, name := range header {
		if name == dpfColumn {
			column = i
			break
		}
	}
	if column < 0 {
		return nil, io.ErrUnexpectedEOF
	}

	var values []float64
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if column >= len(row) {
			continue
		}
		if parsed, err := strconv.ParseFloat(row[column], 64); err == nil {
			values = append(values, parsed)
		}
	}
	return values, nil
}

func fallbackReference() []float64 {
	values := make([]float64, fallbackCount)
	for i := range values {
		v := dpfMin + rand.Float64()*(dpfMax-dpfMin)
		values[i] = math.Round(v*1000) / 1000
	}
	return values
}
