package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/erilali/chatrelay/internal/api"
	"github.com/erilali/chatrelay/internal/config"
	"github.com/erilali/chatrelay/internal/logger"
)

var serveFlags struct {
	configPath string
	envFile    string
	listen     string
	httpAddr   string
	natsURL    string
	logLevel   string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat server",
	Long: `Run the chat server. Settings are read from the config file, then .env
and the environment, then flags; later sources win.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVarP(&serveFlags.configPath, "config", "c", "chatrelay.json", "path to the JSON config file (optional)")
	f.StringVar(&serveFlags.envFile, "env-file", "", "dotenv file to load (default .env when present)")
	f.StringVar(&serveFlags.listen, "listen", "", "TCP line protocol address, empty string disables it")
	f.StringVar(&serveFlags.httpAddr, "http", "", "HTTP address for /ws, /health and /metrics, empty string disables it")
	f.StringVar(&serveFlags.natsURL, "nats", "", "NATS server URL for the event feed")
	f.StringVar(&serveFlags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.AddCommand(serveCmd)
}

// loadServeConfig resolves the effective configuration for serve.
func loadServeConfig(cmd *cobra.Command, fs afero.Fs) (config.Config, error) {
	cfg, err := config.Load(fs, serveFlags.configPath)
	if err != nil {
		return cfg, err
	}

	var envFiles []string
	if serveFlags.envFile != "" {
		envFiles = append(envFiles, serveFlags.envFile)
	}
	if err := config.LoadEnv(&cfg, envFiles...); err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.ListenAddr = serveFlags.listen
	}
	if flags.Changed("http") {
		cfg.HTTPAddr = serveFlags.httpAddr
	}
	if flags.Changed("nats") {
		cfg.NatsURL = serveFlags.natsURL
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = serveFlags.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig(cmd, afero.NewOsFs())
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	logger.InitLogger(cfg.Log, cmd.OutOrStdout())
	serverLogger := logger.NewLogger("server")
	serverLogger.WithFields(map[string]interface{}{
		"level":       cfg.Log.Level,
		"log_to_file": cfg.Log.LogToFile,
		"log_to_json": cfg.Log.LogToJSON,
		"file_path":   cfg.Log.FilePath,
	}).Info("Logger configuration details")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return api.New(cfg, serverLogger).Start(ctx)
}
