package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/spamm/internal"
	"github.com/starford/spamm/internal/fitservice"
	"github.com/starford/spamm/internal/specio"
	pkgconfig "github.com/starford/spamm/pkg/config"
)

// loadConfig reads the config file over the defaults. A missing file is
// only an error when the path was given explicitly.
func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if cmd.IsSet("config") {
		if err := pkgconfig.Load(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		return cfg, nil
	}
	if _, err := pkgconfig.LoadOptional(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	return internal.RunMCP(ctx,
		internal.WithConfig(cfg),
		internal.WithLogger(internal.NewLogger(cfg.App.LogLevel, os.Stderr)),
	)
}

func fit(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("fit: expected exactly one spectrum file")
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(cmd.Args().First())
	if err != nil {
		return fmt.Errorf("fit: read spectrum: %w", err)
	}
	parsed, err := specio.Parse(raw)
	if err != nil {
		return err
	}
	data, err := parsed.SpectrumData()
	if err != nil {
		return err
	}

	sum, err := internal.Fit(ctx, fitservice.FitRequest{
		Components: cmd.StringSlice("components"),
		Spectrum:   data,
	},
		internal.WithConfig(cfg),
		internal.WithLogger(internal.NewLogger(cfg.App.LogLevel, os.Stderr)),
	)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(sum)
}

func components(_ context.Context, _ *cli.Command) error {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tNAME\tKIND\tDESCRIPTION")
	for _, c := range fitservice.Catalogue() {
		kind := c.Combination
		if c.Analytic {
			kind += ", analytic"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Code, c.Name, kind, c.Description)
	}
	return tw.Flush()
}

func main() {
	configFlag := &cli.StringFlag{
		Name:        "config",
		Aliases:     []string{"c"},
		Usage:       "Path to config file",
		DefaultText: "config/config.yaml",
		Value:       "config/config.yaml",
		Sources:     cli.EnvVars("APP_CONFIG_FILE"),
	}

	cmd := &cli.Command{
		Name:   "spamm",
		Usage:  "Bayesian decomposition of AGN spectra into nuclear, host galaxy and emission components",
		Action: serve,
		Flags:  []cli.Flag{configFlag},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API with fit progress events",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve fit tools over MCP on stdin/stdout",
				Action: serveMCP,
			},
			{
				Name:      "fit",
				Usage:     "Fit one spectrum file and print the posterior summary as JSON",
				ArgsUsage: "<spectrum-file>",
				Action:    fit,
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:    "components",
						Aliases: []string{"m"},
						Usage:   "Component codes to combine (see the components command)",
						Value:   []string{"PL", "HOST"},
					},
				},
			},
			{
				Name:   "components",
				Usage:  "List the available spectral components",
				Action: components,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
