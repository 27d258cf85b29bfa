package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/codereef/reef/internal/config"
	"github.com/codereef/reef/internal/connection"
	"github.com/codereef/reef/internal/debug"
	"github.com/codereef/reef/internal/issue"
	"github.com/codereef/reef/internal/serverapi"
	"github.com/codereef/reef/internal/storage/sqlite"
	"github.com/codereef/reef/internal/telemetry"
	"github.com/codereef/reef/internal/ui"
	"github.com/codereef/reef/internal/version"
)

// Set at build time via -ldflags.
var (
	Version = "dev"
	Build   = "unknown"
)

var (
	cfgFile     string
	dbPath      string
	scopeID     string
	verboseFlag bool
	quietFlag   bool

	// Signal-aware context for graceful cancellation
	rootCtx    context.Context
	rootCancel context.CancelFunc

	store    *sqlite.Store
	bindings *config.Bindings
	registry *connection.Registry
	service  *issue.Service

	connConfigs []config.ConnectionConfig
)

var rootCmd = &cobra.Command{
	Use:   "reef",
	Short: "reef - resolution reconciliation for code findings",
	Long: `Keep finding resolutions in sync between your working copy and the
review server. Findings the server has never seen are resolved locally and
pushed ahead of the next analysis.`,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("reef version %s (%s)\n", Version, Build)
			return
		}
		_ = cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debug.SetVerbose(verboseFlag)
		debug.SetQuiet(quietFlag)
		rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

		if err := telemetry.Init(rootCtx, "reef", Version); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: telemetry init failed: %v\n", err)
		}
		openConfiguration()
		openDatabase()
		buildService()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			_ = store.Close()
		}
		telemetry.Shutdown(context.Background())
		if rootCancel != nil {
			rootCancel()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ~/.config/reef/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (default: .reef/reef.db)")
	rootCmd.PersistentFlags().StringVar(&scopeID, "scope", "default", "Scope id to operate in")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output (errors only)")
	rootCmd.Flags().BoolP("version", "V", false, "Print version information")
}

// openConfiguration loads the global connections file and the per-project
// bindings file. A missing config file yields zero connections, which is a
// valid (fully offline) setup.
func openConfiguration() {
	v := viper.New()
	v.SetEnvPrefix("REEF")
	v.AutomaticEnv()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "reef"))
		}
		v.AddConfigPath(".reef")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fatalf("reading config: %v", err)
		}
	}

	var err error
	connConfigs, err = config.LoadConnections(v)
	if err != nil {
		fatalf("%v", err)
	}

	registry = connection.NewRegistry()
	for _, cc := range connConfigs {
		client := serverapi.NewClient(cc.URL, cc.Token)
		client.Organization = cc.Organization
		kind := connection.KindSelfHosted
		if cc.IsCloud() {
			kind = connection.KindCloud
		}
		conn := connection.New(cc.ID, kind, client)
		if cc.LastVersion != "" {
			if ver, err := version.Parse(cc.LastVersion); err == nil {
				conn.SetVersion(ver)
			}
		}
		registry.Add(conn)
	}

	bindings, err = config.LoadBindings(config.BindingsFileName)
	if err != nil {
		fatalf("%v", err)
	}
}

func openDatabase() {
	path := dbPath
	if path == "" {
		path = filepath.Join(".reef", "reef.db")
	}
	var err error
	store, err = sqlite.Open(rootCtx, path)
	if err != nil {
		fatalf("opening database: %v", err)
	}
}

func buildService() {
	service = issue.NewService(bindings, registry, store, store, telemetry.NewRecorder())
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", ui.Fail("Error:"), fmt.Sprintf(format, args...))
	os.Exit(1)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
