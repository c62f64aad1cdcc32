package flags

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	Config    = "config"
	LogFormat = "log-format"
	LogLevel  = "log-level"
	LogSource = "log-source"
	Verbose   = "verbose"

	Concurrency   = "concurrency"
	Devices       = "devices"
	MetricsListen = "metrics-listen"
	DockerDriver  = "docker-driver"
)

// Register declares the settings shared by every command.
func Register(flags *flag.FlagSet) {
	flags.String(Config, "", "YAML file holding default settings")
	flags.String(LogFormat, "text", "log format (json, text)")
	flags.String(LogLevel, "WARN", "minimum log level")
	flags.Bool(LogSource, false, "add source code location to logs")
	flags.BoolP(Verbose, "v", false, "verbose output")
}

// RegisterRun declares the settings of dispatching commands.
func RegisterRun(flags *flag.FlagSet) {
	flags.Int(Concurrency, 0, "maximum number of tasks running at once (0: one per device)")
	flags.StringSlice(Devices, nil, "devices to dispatch tasks on, overrides the jobfile")
	flags.String(MetricsListen, "", "address serving Prometheus metrics while the job runs")
	flags.String(DockerDriver, "nvidia", "device driver of docker GPU requests")
}

// Bind makes every flag available through viper, with TIDY_* environment
// variables and the optional config file as fallbacks.
func Bind(flags *flag.FlagSet) error {
	v := viper.GetViper()
	v.SetEnvPrefix("tidy")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	lo.Must0(v.BindPFlags(flags))

	if file := v.GetString(Config); file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file '%s': %w", file, err)
		}
	}
	return nil
}
