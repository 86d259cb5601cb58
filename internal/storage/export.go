package storage

import (
	"encoding/json"
	"io"
	"os"

	"github.com/san-kum/kinsim/internal/dynamo"
)

type ExportData struct {
	RunMetadata
	Times       []float64   `json:"times"`
	States      [][]float64 `json:"states"`
	Controls    [][]float64 `json:"controls"`
	Multipliers [][]float64 `json:"multipliers,omitempty"`
	Residuals   [][]float64 `json:"residuals,omitempty"`
}

func NewExportData(meta RunMetadata, result *dynamo.Result) ExportData {
	data := ExportData{
		RunMetadata: meta,
		Times:       result.Times,
		States:      make([][]float64, len(result.States)),
		Controls:    make([][]float64, len(result.Controls)),
		Multipliers: result.Multipliers,
		Residuals:   result.Residuals,
	}
	for i, s := range result.States {
		data.States[i] = s
	}
	for i, c := range result.Controls {
		data.Controls[i] = c
	}
	return data
}

// Export writes the run as indented JSON.
func Export(w io.Writer, meta RunMetadata, result *dynamo.Result) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(NewExportData(meta, result))
}

func ExportJSON(path string, meta RunMetadata, result *dynamo.Result) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return Export(file, meta, result)
}
