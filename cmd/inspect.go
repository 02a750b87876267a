package cmd

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/pdevine/tensor"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/stat"

	"github.com/ctconvert/ctconvert/checkpoint"
	"github.com/ctconvert/ctconvert/format"
)

func InspectHandler(cmd *cobra.Command, args []string) error {
	modelDir, err := cmd.Flags().GetString("model-dir")
	if err != nil {
		return err
	}

	m, err := checkpoint.Load(newAdapter(), modelDir, checkpoint.LoadOptions{SkipVocabularies: true})
	if err != nil {
		return err
	}

	printVariables(cmd.OutOrStdout(), m)
	return nil
}

func printVariables(w io.Writer, m *checkpoint.Model) {
	fmt.Fprintf(w, "%s, schema %s, %d variables\n\n", m.Source, m.Version, m.Variables.Len())

	var data [][]string
	for _, name := range m.Variables.Names() {
		t, _ := m.Variables.Get(name)
		mean, stddev := statistics(t)
		data = append(data, []string{
			name,
			format.Shape(t.Shape()),
			format.HumanNumber(format.Elements(t.Shape())),
			formatFloat(mean),
			formatFloat(stddev),
		})
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"NAME", "SHAPE", "SIZE", "MEAN", "STDDEV"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
}

// statistics returns the mean and sample standard deviation of t. Both are
// NaN when they are undefined.
func statistics(t *tensor.Dense) (float64, float64) {
	var xs []float64
	switch v := t.Data().(type) {
	case []float32:
		xs = make([]float64, len(v))
		for i := range v {
			xs[i] = float64(v[i])
		}
	case float32:
		xs = []float64{float64(v)}
	default:
		return math.NaN(), math.NaN()
	}

	if len(xs) < 2 {
		return stat.Mean(xs, nil), math.NaN()
	}

	return stat.MeanStdDev(xs, nil)
}

func formatFloat(f float64) string {
	if math.IsNaN(f) {
		return "-"
	}
	return strconv.FormatFloat(f, 'g', 4, 64)
}
