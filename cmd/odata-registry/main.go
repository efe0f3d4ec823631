package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zmcp/odata-registry/internal/client"
	"github.com/zmcp/odata-registry/internal/config"
	"github.com/zmcp/odata-registry/internal/destination"
	"github.com/zmcp/odata-registry/internal/metadata"
	"github.com/zmcp/odata-registry/internal/models"
	"github.com/zmcp/odata-registry/internal/server"
	"github.com/zmcp/odata-registry/internal/transport"
	"github.com/zmcp/odata-registry/internal/transport/http"
	"github.com/zmcp/odata-registry/internal/transport/stdio"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "odata-registry [service-url...]",
	Short: "OData Service Registry - multi-service OData catalog over the Model Context Protocol",
	Long: `OData Service Registry - multi-service OData catalog over the Model Context Protocol.

This tool harvests the metadata of a set of OData services at startup and
exposes the whole catalog through three generic MCP tools: a relevance
search over services, entities, and properties, a CRUD dispatcher, and a
catalog summary.

Examples:
  odata-registry https://services.odata.org/V2/Northwind/Northwind.svc/
  odata-registry --services "/sap/opu/odata/sap/API_BUSINESS_PARTNER/,/sap/opu/odata/sap/API_SALES_ORDER_SRV/" --destination S4H
  odata-registry --user admin --password secret https://my-service.com/odata/
  odata-registry --read-only --transport http --http-addr :8080 https://my-service.com/odata/`,
	Args: cobra.ArbitraryArgs,
	RunE: runRegistry,
}

func init() {
	// Load .env file if it exists
	godotenv.Load()

	cfg = &config.Config{}

	// Catalog content
	rootCmd.Flags().StringVar(&cfg.Services, "services", "", "Comma-separated OData service roots to harvest (overrides positional arguments and ODATA_SERVICES env var)")
	rootCmd.Flags().StringVar(&cfg.Destination, "destination", "", "Named destination resolving the base URL and technical credential for relative service roots (overrides ODATA_DESTINATION env var)")

	// Authentication flags
	rootCmd.Flags().StringVarP(&cfg.Username, "user", "u", "", "Username for basic authentication (overrides ODATA_USERNAME env var)")
	rootCmd.Flags().StringVarP(&cfg.Password, "password", "p", "", "Password for basic authentication (overrides ODATA_PASSWORD env var)")
	rootCmd.Flags().StringVar(&cfg.Password, "pass", "", "Password for basic authentication (alias for --password)")

	// Operation gating
	rootCmd.Flags().BoolVar(&cfg.ReadOnly, "read-only", false, "Read-only mode: refuse all modifying operations (create, update, delete)")
	rootCmd.Flags().BoolVar(&cfg.ReadOnly, "ro", false, "Read-only mode (shorthand for --read-only)")

	// Output and debugging options
	rootCmd.Flags().BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable verbose output to stderr")
	rootCmd.Flags().BoolVar(&cfg.Debug, "debug", false, "Alias for --verbose")
	rootCmd.Flags().BoolVar(&cfg.Trace, "trace", false, "Harvest the catalog, print all tools and parameters, then exit (useful for debugging)")

	// Transport options
	rootCmd.Flags().String("transport", "stdio", "Transport type: 'stdio' or 'http' (SSE)")
	rootCmd.Flags().String("http-addr", ":8080", "HTTP server address (used with --transport http)")

	// Bind flags to viper for environment variable support
	viper.BindPFlag("services", rootCmd.Flags().Lookup("services"))
	viper.BindPFlag("destination", rootCmd.Flags().Lookup("destination"))
	viper.BindPFlag("username", rootCmd.Flags().Lookup("user"))
	viper.BindPFlag("password", rootCmd.Flags().Lookup("password"))
	viper.BindPFlag("verbose", rootCmd.Flags().Lookup("verbose"))

	// Set up environment variable mapping
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	viper.SetEnvPrefix("ODATA")
}

func runRegistry(cmd *cobra.Command, args []string) error {
	// Handle --debug as alias for --verbose
	if cfg.Debug {
		cfg.Verbose = true
	}

	if cfg.ReadOnly && cfg.Verbose {
		fmt.Fprintf(os.Stderr, "[VERBOSE] Read-only mode enabled. All modifying operations (create, update, delete) will be refused.\n")
	}

	// Determine service roots with priority: --services flag > positional args > env var
	if cfg.Services == "" && len(args) > 0 {
		cfg.Services = strings.Join(args, ",")
		if cfg.Verbose {
			fmt.Fprintf(os.Stderr, "[VERBOSE] Using OData service roots from positional arguments.\n")
		}
	}
	if cfg.Services == "" {
		cfg.Services = viper.GetString("SERVICES")
		if cfg.Services != "" && cfg.Verbose {
			fmt.Fprintf(os.Stderr, "[VERBOSE] Using ODATA_SERVICES from environment.\n")
		}
	}
	cfg.ParseServiceRoots()
	if len(cfg.ServiceRoots) == 0 {
		return fmt.Errorf("no OData services to catalog. Use --services, positional arguments, or the ODATA_SERVICES environment variable")
	}

	if cfg.Destination == "" {
		cfg.Destination = viper.GetString("DESTINATION")
	}
	cfg.Destinations = viper.GetString("DESTINATIONS")

	// Basic auth fallback from environment if not provided via flags
	if cfg.Username == "" {
		cfg.Username = viper.GetString("USER")
		if cfg.Username == "" {
			cfg.Username = viper.GetString("USERNAME")
		}
	}
	if cfg.Password == "" {
		cfg.Password = viper.GetString("PASS")
		if cfg.Password == "" {
			cfg.Password = viper.GetString("PASSWORD")
		}
	}

	resolver, err := buildResolver(cfg)
	if err != nil {
		return err
	}

	// Harvest metadata up front so the tool surface is ready before the
	// first client connects.
	httpClient := client.New(cfg.Verbose)
	harvester := metadata.NewHarvester(httpClient, resolver, cfg.Destination, cfg.ServiceRoots, cfg.Verbose)

	cat, harvestInfo, err := harvester.LoadCatalog(context.Background())
	if err != nil {
		return fmt.Errorf("failed to build service catalog: %w", err)
	}
	if cfg.Verbose {
		fmt.Fprintf(os.Stderr, "[VERBOSE] Cataloged %d of %d services.\n", cat.Len(), len(cfg.ServiceRoots))
	}

	registry := server.New(cfg, cat, harvestInfo, resolver, httpClient)

	// Handle trace mode
	if cfg.Trace {
		return printTraceInfo(registry, harvestInfo)
	}

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	handler := func(ctx context.Context, msg *transport.Message) (*transport.Message, error) {
		return registry.HandleMessage(ctx, msg)
	}

	transportType, _ := cmd.Flags().GetString("transport")

	var trans transport.Transport
	switch transportType {
	case "http", "sse":
		httpAddr, _ := cmd.Flags().GetString("http-addr")
		if cfg.Verbose {
			fmt.Fprintf(os.Stderr, "[VERBOSE] Starting HTTP/SSE transport on %s\n", httpAddr)
		}
		trans = http.NewSSE(httpAddr, handler)
	case "stdio":
		fallthrough
	default:
		if cfg.Verbose {
			fmt.Fprintf(os.Stderr, "[VERBOSE] Using stdio transport\n")
		}
		trans = stdio.New(handler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- trans.Start(ctx)
	}()

	select {
	case sig := <-sigChan:
		fmt.Fprintf(os.Stderr, "\n%s received, shutting down server...\n", sig)
		cancel()
		trans.Close()
		return nil
	case err := <-errChan:
		return err
	}
}

// buildResolver assembles the destination resolver from the environment
// endpoint list, falling back to a single default endpoint carrying the
// basic-auth credential (or anonymous access) when none is configured.
func buildResolver(cfg *config.Config) (*destination.Resolver, error) {
	endpoints, err := destination.ParseEndpoints(cfg.Destinations)
	if err != nil {
		return nil, err
	}

	if len(endpoints) == 0 {
		if cfg.HasBasicAuth() {
			if cfg.Verbose {
				fmt.Fprintf(os.Stderr, "[VERBOSE] Using basic authentication for user: %s\n", cfg.Username)
			}
		} else if cfg.Verbose {
			fmt.Fprintf(os.Stderr, "[VERBOSE] No authentication provided or configured. Attempting anonymous access.\n")
		}
		endpoints = []destination.Endpoint{{
			Name:     cfg.Destination,
			Username: cfg.Username,
			Password: cfg.Password,
		}}
	} else if cfg.Verbose {
		fmt.Fprintf(os.Stderr, "[VERBOSE] Loaded %d destination(s) from ODATA_DESTINATIONS.\n", len(endpoints))
	}

	return destination.NewResolver(endpoints, nil), nil
}

func printTraceInfo(registry *server.Registry, harvestInfo *models.HarvestInfo) error {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("OData Service Registry Trace Information")
	fmt.Println(strings.Repeat("=", 80))

	info := map[string]interface{}{
		"tools":   registry.Server().Tools(),
		"harvest": harvestInfo,
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal trace info: %w", err)
	}
	fmt.Println(string(data))

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("Trace complete - registry initialized successfully but not started")
	fmt.Println("Use without --trace to start the actual MCP server")
	fmt.Println(strings.Repeat("=", 80))

	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\n--- FATAL ERROR ---\n")
		fmt.Fprintf(os.Stderr, "An unexpected error occurred: %v\n", err)
		fmt.Fprintf(os.Stderr, "-------------------\n")
		os.Exit(1)
	}
}
