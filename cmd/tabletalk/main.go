package main

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tabletalk-dev/tabletalk/pkg/logger"
	"github.com/tabletalk-dev/tabletalk/pkg/presenter"
	llmtypes "github.com/tabletalk-dev/tabletalk/pkg/types/llm"
)

func init() {
	// .env first so its values are visible to viper's env lookup
	_ = godotenv.Load()

	viper.SetEnvPrefix("TABLETALK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME/.tabletalk")
	viper.AddConfigPath(".")

	setDefaults()

	// Load config file if it exists (ignore errors if it doesn't)
	_ = viper.ReadInConfig()
}

// setDefaults registers every key so that viper.Unmarshal also sees values
// that only come from the environment.
func setDefaults() {
	viper.SetDefault("provider", llmtypes.ProviderOpenAI)
	viper.SetDefault("model", "")
	viper.SetDefault("max_tokens", llmtypes.DefaultMaxTokens)
	viper.SetDefault("profile", "")

	viper.SetDefault("openai.api_key", "")
	viper.SetDefault("openai.base_url", "")
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.base_url", "")
	viper.SetDefault("google.backend", "")
	viper.SetDefault("google.api_key", "")
	viper.SetDefault("google.project", "")
	viper.SetDefault("google.location", "")
	viper.SetDefault("google.base_url", "")

	viper.SetDefault("retry.attempts", llmtypes.DefaultRetryConfig.Attempts)
	viper.SetDefault("retry.initial_delay", llmtypes.DefaultRetryConfig.InitialDelay)
	viper.SetDefault("retry.max_delay", llmtypes.DefaultRetryConfig.MaxDelay)
	viper.SetDefault("retry.backoff_type", llmtypes.DefaultRetryConfig.BackoffType)

	viper.SetDefault("storage.base_path", "")
	viper.SetDefault("turn.persist_answer_context", false)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "fmt")
	viper.SetDefault("log.file", "")
}

var logCloser io.Closer

var rootCmd = &cobra.Command{
	Use:   "tabletalk",
	Short: "Ask questions about CSV data in plain language",
	Long: `tabletalk loads CSV files into a local SQLite database and answers questions
about them. Each question is translated into SQL by a language model, executed,
and the result is explained in plain language. Conversations are kept as threads
that can be resumed later.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		closer, err := logger.Configure(logger.Options{
			Level:  viper.GetString("log.level"),
			Format: viper.GetString("log.format"),
			File:   viper.GetString("log.file"),
		})
		logCloser = closer
		if err != nil {
			return err
		}

		presenter.SetQuiet(viper.GetBool("quiet"))

		shutdown, err := initTracing(cmd.Context())
		if err != nil {
			logger.G(cmd.Context()).WithError(err).Warn("failed to initialise tracing")
			return nil
		}
		tracingShutdown = shutdown
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, _ []string) {
		shutdownTracing(cmd.Context())
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

func main() {
	flags := rootCmd.PersistentFlags()
	flags.String("provider", "", "LLM provider to use (openai, anthropic or google)")
	flags.String("model", "", "LLM model to use (overrides config)")
	flags.String("profile", "", "Named settings profile from the profiles config key")
	flags.Int("max-tokens", 0, "Maximum tokens for each completion (overrides config)")
	flags.String("base-path", "", "Directory holding the databases and session state (default ~/.tabletalk)")
	flags.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	flags.String("log-format", "fmt", "Log format (fmt or json)")
	flags.String("log-file", "", "Write logs to this file instead of stderr")
	flags.BoolP("quiet", "q", false, "Only print command output")

	bindFlag("provider", "provider")
	bindFlag("model", "model")
	bindFlag("max_tokens", "max-tokens")
	bindFlag("profile", "profile")
	bindFlag("storage.base_path", "base-path")
	bindFlag("log.level", "log-level")
	bindFlag("log.format", "log-format")
	bindFlag("log.file", "log-file")
	bindFlag("quiet", "quiet")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(datasetCmd)
	rootCmd.AddCommand(threadCmd)
	rootCmd.AddCommand(withTracing(askCmd))
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		presenter.Error(err, "")
		os.Exit(1)
	}
}

func bindFlag(key, flag string) {
	if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}
