package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/ctconvert/ctconvert/logutil"
)

var (
	// Set via CTCONVERT_DEBUG in the environment
	Debug int
	// Set via CTCONVERT_FRAMEWORK_VERSION in the environment
	FrameworkVersion int
	// Set via CTCONVERT_NUM_PARALLEL in the environment
	NumParallel int
	// Set via CTCONVERT_MODEL in the environment
	Model string
)

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"CTCONVERT_DEBUG":             {"CTCONVERT_DEBUG", Debug, "Show additional debug information (1), or every resolved variable (2)"},
		"CTCONVERT_FRAMEWORK_VERSION": {"CTCONVERT_FRAMEWORK_VERSION", FrameworkVersion, "Framework major version assumed for bundles that do not record one (default 1)"},
		"CTCONVERT_NUM_PARALLEL":      {"CTCONVERT_NUM_PARALLEL", NumParallel, "Maximum number of checkpoint shards read in parallel (default 1)"},
		"CTCONVERT_MODEL":             {"CTCONVERT_MODEL", Model, "Model specification to convert to (default \"TransformerBase\")"},
	}
}

func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}

// Clean quotes and spaces from the value
func clean(key string) string {
	return strings.Trim(os.Getenv(key), "\"' ")
}

func init() {
	LoadConfig()
}

func LoadConfig() {
	Debug = 0
	FrameworkVersion = 1
	NumParallel = 1
	Model = "TransformerBase"

	if debug := clean("CTCONVERT_DEBUG"); debug != "" {
		if d, err := strconv.ParseBool(debug); err == nil {
			if d {
				Debug = 1
			}
		} else if n, err := strconv.Atoi(debug); err == nil && n >= 0 {
			Debug = n
		} else {
			Debug = 1
		}
	}

	if fv := clean("CTCONVERT_FRAMEWORK_VERSION"); fv != "" {
		v, err := strconv.Atoi(fv)
		if err != nil || v <= 0 {
			slog.Error("invalid setting, ignoring", "CTCONVERT_FRAMEWORK_VERSION", fv, "error", err)
		} else {
			FrameworkVersion = v
		}
	}

	if onp := clean("CTCONVERT_NUM_PARALLEL"); onp != "" {
		val, err := strconv.Atoi(onp)
		if err != nil || val <= 0 {
			slog.Error("invalid setting must be greater than zero", "CTCONVERT_NUM_PARALLEL", onp, "error", err)
		} else {
			NumParallel = val
		}
	}

	if model := clean("CTCONVERT_MODEL"); model != "" {
		Model = model
	}
}

// LogLevel maps Debug to a log level.
func LogLevel() slog.Level {
	switch {
	case Debug >= 2:
		return logutil.LevelTrace
	case Debug == 1:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
