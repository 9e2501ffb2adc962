// Package cmd provides the Cobra commands for the funcpack CLI.
package cmd

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cliconfig "github.com/funcpack/funcpack/cli/config"
	"github.com/funcpack/funcpack/cli/output"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"

	// Global flags
	cfgFile       string
	flagRegion    string
	flagBucket    string
	flagPrefix    string
	flagEndpoint  string
	flagTSConfig  string
	searchPaths   []string
	collectorArgs []string
	outputFmt     string
	quiet         bool
	debug         bool

	// Shared across commands
	cfg       *cliconfig.Config
	formatter *output.Formatter
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "funcpack",
	Short: "funcpack - Package and deploy Lambda function code",
	Long: `funcpack packages a JavaScript or TypeScript entry file together with the
source files it transitively requires into a reproducible zip archive for
AWS Lambda.

Modes:
  funcpack zip       Write the archive to a local file
  funcpack upload    Upload the archive to S3 under a content-addressed key
  funcpack update    Replace the code of a deployed Lambda function
  funcpack template  Rewrite a CloudFormation/SAM template to point at uploaded code

Identical inputs always produce byte-identical archives, so uploads
deduplicate by content.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceErrors = quiet
		return initialize()
	},
}

// Execute runs the CLI
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ~/.funcpack/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagRegion, "region", "",
		"target region")
	rootCmd.PersistentFlags().StringVar(&flagBucket, "bucket", "",
		"artifact bucket for uploads")
	rootCmd.PersistentFlags().StringVar(&flagPrefix, "prefix", "",
		"key prefix for uploaded archives")
	rootCmd.PersistentFlags().StringVar(&flagEndpoint, "endpoint", "",
		"endpoint override for S3/Lambda (e.g. a localstack URL)")
	rootCmd.PersistentFlags().StringVar(&flagTSConfig, "tsconfig", "",
		"tsconfig.json used for TypeScript entries")
	rootCmd.PersistentFlags().StringArrayVar(&searchPaths, "search-path", nil,
		"additional directory for absolute imports (repeatable)")
	rootCmd.PersistentFlags().StringArrayVar(&collectorArgs, "collector-arg", nil,
		"extra argument passed through to the resolver (repeatable)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output-format", "o", "table",
		"output format: table, json, yaml")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false,
		"minimal output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false,
		"enable debug output")

	// Bind environment variables
	viper.SetEnvPrefix("FUNCPACK")
	_ = viper.BindEnv("region")   // FUNCPACK_REGION
	_ = viper.BindEnv("bucket")   // FUNCPACK_BUCKET
	_ = viper.BindEnv("prefix")   // FUNCPACK_PREFIX
	_ = viper.BindEnv("endpoint") // FUNCPACK_ENDPOINT
	_ = viper.BindEnv("tsconfig") // FUNCPACK_TSCONFIG
	_ = viper.BindEnv("debug")    // FUNCPACK_DEBUG

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(zipCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(templateCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(cliconfig.DefaultConfigDir())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()

	// Read config file (ignore error if not found)
	_ = viper.ReadInConfig()
}

// initialize loads the config file, sets up logging and the output formatter.
func initialize() error {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if debug || viper.GetBool("debug") {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else if quiet {
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	configPath := cfgFile
	if configPath == "" {
		configPath = cliconfig.DefaultConfigPath()
	}

	var err error
	cfg, err = cliconfig.LoadOrCreate(configPath)
	if err != nil {
		return err
	}

	fmtName := outputFmt
	if fmtName == "table" && cfg.Defaults.Output != "" {
		fmtName = cfg.Defaults.Output
	}
	format, err := output.ParseFormat(fmtName)
	if err != nil {
		return err
	}
	formatter = output.NewFormatter(format, quiet)

	return nil
}

// setting resolves one configuration value: flag beats environment beats
// config-file default.
func setting(flagValue, envKey, configDefault string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := viper.GetString(envKey); v != "" {
		return v
	}
	return configDefault
}

func regionSetting() string   { return setting(flagRegion, "region", cfg.Defaults.Region) }
func bucketSetting() string   { return setting(flagBucket, "bucket", cfg.Defaults.Bucket) }
func prefixSetting() string   { return setting(flagPrefix, "prefix", cfg.Defaults.Prefix) }
func endpointSetting() string { return setting(flagEndpoint, "endpoint", cfg.Defaults.Endpoint) }
func tsconfigSetting() string { return setting(flagTSConfig, "tsconfig", cfg.Defaults.TSConfig) }
