package cmd

import (
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/openswarm-dev/swarmgate/internal/config"
	"github.com/openswarm-dev/swarmgate/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("swarmgate doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND — using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Projects:")
	root := config.ExpandHome(cfg.Swarm.ProjectsRoot)
	if info, err := os.Stat(root); err != nil {
		fmt.Printf("    %-12s %s (NOT ACCESSIBLE)\n", "Root:", root)
	} else if !info.IsDir() {
		fmt.Printf("    %-12s %s (NOT A DIRECTORY)\n", "Root:", root)
	} else {
		fmt.Printf("    %-12s %s (OK)\n", "Root:", root)
	}

	fmt.Println()
	fmt.Println("  Storage:")
	backend := cfg.Storage.Backend
	if backend == "" {
		backend = "file"
	}
	fmt.Printf("    %-12s %s\n", "Backend:", backend)
	if backend == "postgres" {
		if cfg.Storage.PostgresDSN == "" {
			fmt.Printf("    %-12s SWARMGATE_POSTGRES_DSN not set\n", "Status:")
		} else if db, err := sql.Open("pgx", cfg.Storage.PostgresDSN); err != nil {
			fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		} else if err := db.Ping(); err != nil {
			fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
			db.Close()
		} else {
			fmt.Printf("    %-12s OK\n", "Status:")
			db.Close()
		}
	}

	fmt.Println()
	fmt.Println("  Providers:")
	printKey("Anthropic", cfg.Providers.AnthropicAPIKey)
	printKey("OpenAI", cfg.Providers.OpenAIAPIKey)

	fmt.Println()
	fmt.Println("  Gateway:")
	addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
	client := &http.Client{Timeout: 2 * time.Second}
	if resp, err := client.Get(fmt.Sprintf("http://%s/health", addr)); err != nil {
		fmt.Printf("    %-12s %s (not running)\n", "Address:", addr)
	} else {
		resp.Body.Close()
		fmt.Printf("    %-12s %s (running)\n", "Address:", addr)
	}
}

func printKey(name, key string) {
	if key == "" {
		fmt.Printf("    %-12s not set\n", name+":")
		return
	}
	fmt.Printf("    %-12s set (%d chars)\n", name+":", len(key))
}
