package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/pdevine/tensor"
	"github.com/spf13/cobra"

	"github.com/ctconvert/ctconvert/convert"
	"github.com/ctconvert/ctconvert/format"
	"github.com/ctconvert/ctconvert/progress"
	"github.com/ctconvert/ctconvert/spec"
)

const (
	sourceVocabularyFile = "source_vocabulary.txt"
	targetVocabularyFile = "target_vocabulary.txt"
)

func ConvertHandler(cmd *cobra.Command, args []string) error {
	modelDir, err := cmd.Flags().GetString("model-dir")
	if err != nil {
		return err
	}

	srcVocab, err := cmd.Flags().GetString("src-vocab")
	if err != nil {
		return err
	}

	tgtVocab, err := cmd.Flags().GetString("tgt-vocab")
	if err != nil {
		return err
	}

	name, err := cmd.Flags().GetString("model")
	if err != nil {
		return err
	}

	outputDir, err := cmd.Flags().GetString("output-dir")
	if err != nil {
		return err
	}

	m, err := spec.PresetByName(name)
	if err != nil {
		return err
	}

	p := progress.NewProgress(os.Stderr)

	spinner := progress.NewSpinner(fmt.Sprintf("loading %s", modelDir))
	p.Add(spinner)

	var bar *progress.Bar
	c := convert.Converter{
		ModelDir:         modelDir,
		SourceVocabulary: srcVocab,
		TargetVocabulary: tgtVocab,
		Adapter:          newAdapter(),
		Progress: func(populated, total int) {
			if bar == nil {
				spinner.Stop()
				bar = progress.NewBar(fmt.Sprintf("converting to %s", m.Name()), int64(total))
				p.Add(bar)
			}
			bar.Set(int64(populated))
		},
	}

	result, err := c.Convert(m)
	if err != nil {
		p.StopAndClear()
		return err
	}
	p.Stop()

	if outputDir != "" {
		if err := copyVocabularies(result, outputDir); err != nil {
			return err
		}
	}

	printSummary(cmd.OutOrStdout(), result)
	return nil
}

// copyVocabularies writes the vocabularies of r into dir under the names the
// engine expects.
func copyVocabularies(r *convert.Result, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	src, tgt := r.Vocabularies()
	for _, f := range []struct{ from, to string }{
		{src, sourceVocabularyFile},
		{tgt, targetVocabularyFile},
	} {
		to := filepath.Join(dir, f.to)
		if err := copyFile(f.from, to); err != nil {
			return fmt.Errorf("copying vocabulary: %w", err)
		}

		slog.Debug("copied vocabulary", "from", f.from, "to", to)
	}

	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}

	return out.Close()
}

func printSummary(w io.Writer, r *convert.Result) {
	var variables int
	var parameters int64
	r.Model.Visit(func(_ string, t *tensor.Dense) {
		if t != nil {
			variables++
			parameters += format.Elements(t.Shape())
		}
	})

	src, tgt := r.Vocabularies()

	table := tablewriter.NewWriter(w)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding(" ")
	table.AppendBulk([][]string{
		{"Model:", r.Model.Name()},
		{"Source:", r.Source.String()},
		{"Schema:", r.Version.String()},
		{"Variables:", strconv.Itoa(variables)},
		{"Parameters:", format.HumanNumber(parameters)},
		{"Size:", format.HumanBytes(format.WeightBytes(parameters))},
		{"Source vocabulary:", src},
		{"Target vocabulary:", tgt},
	})
	table.Render()
}
