package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"vassist/internal/config"
	"vassist/internal/manifest"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your vassist installation",
		Long: `Verifies that vassist's configuration, state database, skill manifests,
and ports are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("vassist Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'vassist init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
			} else {
				printPass("Config validation", "valid")
				passed++
			}

			if cfg == nil {
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return nil
			}

			// 3. State database writable
			if err := checkDatabase(cfg.State.DBPath); err != nil {
				printFail("State database", err.Error())
				failed++
			} else {
				printPass("State database", cfg.State.DBPath)
				passed++
			}

			// 4. Skill manifests load and route without conflicts
			manifests, err := manifest.LoadDirectory(cfg.Skills.ManifestDir, logger)
			if err != nil {
				printFail("Skill manifests", err.Error())
				failed++
			} else if len(manifests) == 0 {
				printWarn("Skill manifests", "no manifests in "+cfg.Skills.ManifestDir)
				warned++
			} else if _, err := manifest.NewRouter(manifests); err != nil {
				printFail("Skill routing", err.Error())
				failed++
			} else {
				printPass("Skill manifests", fmt.Sprintf("%d skill(s) loaded", len(manifests)))
				passed++
			}

			// 5. Host credentials configured
			if cfg.Host.AppID == "" || cfg.Host.AppPassword == "" {
				printWarn("Host credentials", "appId/appPassword not set; skills requiring auth will reject this host")
				warned++
			} else {
				printPass("Host credentials", "configured")
				passed++
			}

			// 6. Skill host manifest and port
			if _, err := os.Stat(cfg.SkillHost.ManifestPath); err != nil {
				printWarn("Skill host manifest", fmt.Sprintf("not found at %s", cfg.SkillHost.ManifestPath))
				warned++
			} else {
				printPass("Skill host manifest", cfg.SkillHost.ManifestPath)
				passed++
			}
			if err := checkPort(cfg.SkillHost.Port); err != nil {
				printWarn("Skill host port", fmt.Sprintf("port %d may be in use: %v", cfg.SkillHost.Port, err))
				warned++
			} else {
				printPass("Skill host port", fmt.Sprintf(":%d available", cfg.SkillHost.Port))
				passed++
			}

			// 7. Log file writable
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running vassist.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nvassist should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! vassist is ready to run.\n")
			}
			return nil
		},
	}
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
