// Package main provides the entry point for the Stratum tile catalog service.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stratumgis/stratum/internal/app"
	"github.com/stratumgis/stratum/internal/catalog"
	"github.com/stratumgis/stratum/internal/config"
	"github.com/stratumgis/stratum/internal/domain"
	"github.com/stratumgis/stratum/internal/raster"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "stratum",
	Short: "Stratum - Tiled Layer Catalog Service",
	Long: `Stratum serves tiled raster layers from a geospatial catalog.

It provides a REST API for reading layer metadata and individual tiles from
catalogs stored on a filesystem, HDFS, S3, Azure Blob Storage, Cassandra,
HBase or MBTiles.

Features:
  - Spatial and spacetime layers
  - Bounds-aware single-tile reads
  - Spatial queries with WKB geometry filters
  - Optional Redis tile cache
  - TLS with automatic certificate management
  - Prometheus metrics`,
	RunE: runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("Stratum %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Build Date: %s\n", buildDate)
	},
}

var layersCmd = &cobra.Command{
	Use:   "layers <location>",
	Short: "List the layers of a catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newCLIClient()
		if err != nil {
			return err
		}
		ids, err := client.Layers(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

var metadataCmd = &cobra.Command{
	Use:   "metadata <location> <name> <zoom>",
	Short: "Print the metadata of one layer as JSON",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		zoom, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid zoom %q", args[2])
		}

		client, err := newCLIClient()
		if err != nil {
			return err
		}
		md, err := client.Metadata(
			cmd.Context(),
			args[0],
			spatialTypeFlag(cmd),
			domain.LayerID{Name: args[1], Zoom: zoom},
		)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(md)
	},
}

var tileCmd = &cobra.Command{
	Use:   "tile <location> <name> <zoom> <col> <row>",
	Short: "Read a single tile and write it to a file or stdout",
	Args:  cobra.ExactArgs(5),
	RunE: func(cmd *cobra.Command, args []string) error {
		zoom, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid zoom %q", args[2])
		}
		col, err := strconv.Atoi(args[3])
		if err != nil {
			return fmt.Errorf("invalid column %q", args[3])
		}
		row, err := strconv.Atoi(args[4])
		if err != nil {
			return fmt.Errorf("invalid row %q", args[4])
		}

		timeLabel, _ := cmd.Flags().GetString("time")
		out, _ := cmd.Flags().GetString("out")

		client, err := newCLIClient()
		if err != nil {
			return err
		}
		tile, found, err := client.ReadTile(
			cmd.Context(),
			args[0],
			spatialTypeFlag(cmd),
			domain.LayerID{Name: args[1], Zoom: zoom},
			col, row,
			timeLabel,
		)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("tile (%d, %d) not found", col, row)
		}

		data, err := raster.Encode(tile)
		if err != nil {
			return err
		}
		if out == "" || out == "-" {
			_, err = os.Stdout.Write(data)
			return err
		}
		return os.WriteFile(out, data, 0o644)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, text)")

	// Server flags
	rootCmd.Flags().String("host", "0.0.0.0", "server host")
	rootCmd.Flags().Int("port", 8080, "server port")
	rootCmd.Flags().Bool("tls", false, "enable TLS")
	rootCmd.Flags().StringSlice("tls-domains", nil, "TLS domains")
	rootCmd.Flags().String("tls-email", "", "TLS email for Let's Encrypt")

	// Catalog flags
	rootCmd.Flags().String("location", "", "catalog location, e.g. file:///data/catalog")
	rootCmd.Flags().String("spatial-type", "spatial", "layer kind (spatial, spacetime)")
	rootCmd.Flags().Bool("watch", false, "invalidate cached bounds on catalog file changes")

	// Tile cache flags
	rootCmd.Flags().Bool("cache", false, "enable the Redis tile cache")
	rootCmd.Flags().String("cache-addr", "localhost:6379", "Redis address")

	// CORS flags
	rootCmd.Flags().StringSlice("cors", nil, "allowed CORS origins (e.g., https://example.com,*.sub.domain.tld)")

	// Bind flags to viper
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("server.host", rootCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", rootCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("tls.enabled", rootCmd.Flags().Lookup("tls"))
	_ = viper.BindPFlag("tls.domains", rootCmd.Flags().Lookup("tls-domains"))
	_ = viper.BindPFlag("tls.email", rootCmd.Flags().Lookup("tls-email"))
	_ = viper.BindPFlag("catalog.location", rootCmd.Flags().Lookup("location"))
	_ = viper.BindPFlag("catalog.spatial_type", rootCmd.Flags().Lookup("spatial-type"))
	_ = viper.BindPFlag("catalog.watch", rootCmd.Flags().Lookup("watch"))
	_ = viper.BindPFlag("cache.enabled", rootCmd.Flags().Lookup("cache"))
	_ = viper.BindPFlag("cache.addr", rootCmd.Flags().Lookup("cache-addr"))
	_ = viper.BindPFlag("server.cors.allowed_origins", rootCmd.Flags().Lookup("cors"))

	for _, c := range []*cobra.Command{layersCmd, metadataCmd, tileCmd} {
		c.Flags().String("spatial-type", "spatial", "layer kind (spatial, spacetime)")
	}
	tileCmd.Flags().String("time", "", "RFC3339 time label for spacetime layers")
	tileCmd.Flags().String("out", "-", "output file, - for stdout")

	rootCmd.AddCommand(versionCmd, layersCmd, metadataCmd, tileCmd)
}

func initConfig() {
	config.Defaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// newCLIClient builds a catalog client for the one-shot subcommands. Logs
// go to stderr so binary tile output on stdout stays clean.
func newCLIClient() (*catalog.Client, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return catalog.NewClient(nil, logger, catalog.Config{})
}

func spatialTypeFlag(cmd *cobra.Command) domain.SpatialType {
	st, _ := cmd.Flags().GetString("spatial-type")
	return domain.SpatialType(st)
}

func runServer(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting Stratum",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"location", cfg.Catalog.Location,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Initialize application
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}

	// Start server in background
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "address", cfg.Server.Address())
		if err := application.Start(ctx); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		logger.Error("server error", "error", err)
		cancel()
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	logger.Info("shutting down server")
	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return err
	}

	logger.Info("server stopped")
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(time.Now().UTC().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
