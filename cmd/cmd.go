package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ctconvert/ctconvert/checkpoint"
	"github.com/ctconvert/ctconvert/envconfig"
	"github.com/ctconvert/ctconvert/logutil"
	"github.com/ctconvert/ctconvert/spec"
)

func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-28s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// newAdapter returns the adapter used to read model directories.
func newAdapter() checkpoint.Adapter {
	return checkpoint.NewSafetensors(checkpoint.Config{
		FrameworkVersion: envconfig.FrameworkVersion,
		Parallel:         envconfig.NumParallel,
	})
}

func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:   "ctconvert",
		Short: "Convert trained Transformer checkpoints to engine model specifications",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Disable usage printing on errors
			cmd.SilenceUsage = true
			logutil.Setup(os.Stderr, envconfig.LogLevel())
		},
	}

	convertCmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert a bundle or checkpoint",
		Long: `Convert the bundle or latest checkpoint found in a model directory.

Checkpoints do not carry their vocabularies, pass them with --src-vocab and
--tgt-vocab. Bundles reference their own and ignore both flags.`,
		Args: cobra.NoArgs,
		RunE: ConvertHandler,
	}

	convertCmd.Flags().String("model-dir", "", "Directory holding the bundle or checkpoint")
	convertCmd.Flags().String("src-vocab", "", "Source vocabulary file (checkpoints only)")
	convertCmd.Flags().String("tgt-vocab", "", "Target vocabulary file (checkpoints only)")
	convertCmd.Flags().String("model", envconfig.Model, fmt.Sprintf("Model specification (%s)", strings.Join(spec.PresetNames(), ", ")))
	convertCmd.Flags().StringP("output-dir", "o", "", "Copy the vocabularies into this directory")
	_ = convertCmd.MarkFlagRequired("model-dir")

	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "List the variables of a bundle or checkpoint",
		Args:  cobra.NoArgs,
		RunE:  InspectHandler,
	}

	inspectCmd.Flags().String("model-dir", "", "Directory holding the bundle or checkpoint")
	_ = inspectCmd.MarkFlagRequired("model-dir")

	envVars := envconfig.AsMap()
	envs := []envconfig.EnvVar{
		envVars["CTCONVERT_DEBUG"],
		envVars["CTCONVERT_FRAMEWORK_VERSION"],
		envVars["CTCONVERT_NUM_PARALLEL"],
	}

	appendEnvDocs(convertCmd, append(envs, envVars["CTCONVERT_MODEL"]))
	appendEnvDocs(inspectCmd, envs)

	rootCmd.AddCommand(
		convertCmd,
		inspectCmd,
	)

	return rootCmd
}
