package cmd

import (
	"context"
	"fmt"
	u "net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tanq16/imgrab/internal"
	"github.com/tanq16/imgrab/internal/config"
	"github.com/tanq16/imgrab/internal/output"
	"github.com/tanq16/imgrab/internal/utils"
)

var (
	configFile    string
	workers       int
	timeout       time.Duration
	kaTimeout     time.Duration
	maxRedirects  int
	userAgent     string
	proxyURL      string
	proxyUsername string
	proxyPassword string
	headers       []string
	debug         bool
)

var ImgrabVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "imgrab PAGE_URL TARGET_DIR",
	Short:   "Download every image referenced by a web page",
	Version: ImgrabVersion,
	Args:    cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(cmd)
		if err != nil {
			output.PrintError(err.Error())
			os.Exit(1)
		}

		display := !cfg.Debug && output.IsTerminal()
		if display {
			logFile, err := os.OpenFile(utils.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				output.PrintError(fmt.Sprintf("Error opening log file: %v", err))
				os.Exit(1)
			}
			defer logFile.Close()
			utils.InitLogger(cfg.Debug, logFile)
		} else {
			utils.InitLogger(cfg.Debug, os.Stderr)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		outputMgr := output.NewManager()
		if display {
			outputMgr.StartDisplay()
		}
		summary, err := internal.Run(ctx, internal.Options{
			PageURL:          args[0],
			TargetDir:        args[1],
			Workers:          cfg.Workers,
			MaxRedirects:     cfg.MaxRedirects,
			PollInterval:     cfg.PollInterval,
			HTTPClientConfig: cfg.HTTPClientConfig(),
			Debug:            cfg.Debug,
			Reporter:         outputMgr,
		})
		outputMgr.StopDisplay()
		if err != nil {
			output.PrintError(err.Error())
			os.Exit(1)
		}
		outputMgr.ShowSummary()
		if summary.Failed > 0 {
			output.PrintError("Encountered failed download(s)")
			os.Exit(1)
		}
		if abs, err := filepath.Abs(args[1]); err == nil {
			output.PrintSuccess(fmt.Sprintf("Images saved to %s", abs))
		}
	},
}

// loadConfig layers explicitly set flags over the config file over defaults.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if configFile != "" {
		loaded, err := config.LoadFromFile(configFile)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	flags := cmd.Flags()
	if flags.Changed("workers") {
		cfg.Workers = workers
	}
	if flags.Changed("timeout") {
		cfg.Timeout = timeout
	}
	if flags.Changed("keep-alive-timeout") {
		cfg.KeepAliveTimeout = kaTimeout
	}
	if flags.Changed("max-redirects") {
		cfg.MaxRedirects = maxRedirects
	}
	if flags.Changed("user-agent") {
		cfg.UserAgent = userAgent
	}
	if flags.Changed("debug") {
		cfg.Debug = debug
	}
	if flags.Changed("proxy") {
		cfg.Proxy.URL = proxyURL
	}
	if flags.Changed("proxy-username") {
		cfg.Proxy.Username = proxyUsername
	}
	if flags.Changed("proxy-password") {
		cfg.Proxy.Password = proxyPassword
	}
	// Check if proxy URL contains auth
	if parsedProxy, err := u.Parse(cfg.Proxy.URL); err == nil && parsedProxy.User != nil && cfg.Proxy.Username == "" {
		cfg.Proxy.Username = parsedProxy.User.Username()
		if password, set := parsedProxy.User.Password(); set {
			cfg.Proxy.Password = password
		}
		parsedProxy.User = nil
		cfg.Proxy.URL = parsedProxy.String()
	}
	for k, v := range utils.ParseHeaderArgs(headers) {
		cfg.Headers[k] = v
	}
	return cfg, cfg.Validate()
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to a YAML config file")
	rootCmd.Flags().IntVarP(&workers, "workers", "w", utils.DefaultWorkers, "Number of images to download in parallel")
	rootCmd.Flags().DurationVarP(&timeout, "timeout", "t", time.Minute, "Per-request timeout (eg. 5s, 10m)")
	rootCmd.Flags().DurationVarP(&kaTimeout, "keep-alive-timeout", "k", 90*time.Second, "Keep-alive timeout for client (eg. 10s, 1m, 80s)")
	rootCmd.Flags().IntVar(&maxRedirects, "max-redirects", utils.DefaultMaxRedirects, "Maximum redirect hops followed per image")
	rootCmd.Flags().StringVarP(&userAgent, "user-agent", "a", utils.ToolUserAgent, "User agent (\"randomize\" picks a browser agent)")
	rootCmd.Flags().StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	rootCmd.Flags().StringVar(&proxyUsername, "proxy-username", "", "Proxy username (if not provided in proxy URL)")
	rootCmd.Flags().StringVar(&proxyPassword, "proxy-password", "", "Proxy password (if not provided in proxy URL)")
	rootCmd.Flags().StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'Referer: https://example.com'); can be specified multiple times")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging and periodic queue statistics")
}
