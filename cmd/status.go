package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dayuer/tourguide-go/internal/config"
	"github.com/dayuer/tourguide-go/internal/providers"
	tgredis "github.com/dayuer/tourguide-go/internal/redis"
	"github.com/dayuer/tourguide-go/internal/router"
	"github.com/dayuer/tourguide-go/internal/utils"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tourguide status",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.GetConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	fmt.Println("🧭 tourguide Status")
	fmt.Println()
	fmt.Printf("Config: %s\n", path)
	fmt.Printf("Model: %s (vision: %s)\n", cfg.LLM.Model, cfg.LLM.VisionModel)

	// Provider status
	spec := providers.FindByName(cfg.LLM.Provider)
	if spec == nil {
		spec = providers.FindByModel(cfg.LLM.Model)
	}
	if spec != nil {
		fmt.Printf("Provider: %s\n", spec.Label())
	}
	fmt.Printf("Facade timeout: %s, slow tool: %s\n", cfg.Facade.Timeout(), cfg.ToolRunner.SlowThreshold())
	fmt.Printf("History limit: %d, strict routing: %v\n", cfg.Network.HistoryLimit, cfg.Network.StrictRouting)

	// Intent rules
	rules, err := router.LoadRules(intentsPath(cfg))
	if err != nil {
		fmt.Printf("Intents: ⚠️ %v\n", err)
	} else {
		fmt.Println("\nIntents:")
		for _, r := range rules.Rules {
			fmt.Printf("  %s → %s %v\n", r.Intent, r.Tool, r.Keywords)
		}
		fmt.Printf("  fallback → %s\n", rules.Fallback.Tool)
	}

	// Server
	fmt.Println()
	if pid, ok := runningPID(); ok {
		fmt.Printf("Server: ✓ PID %d on %s\n", pid, cfg.Server.Addr())
	} else {
		fmt.Println("Server: not running")
	}

	// Mirrored context
	if !cfg.Redis.Enabled() {
		fmt.Println("Redis mirror: not configured")
		return nil
	}
	client, err := tgredis.Connect(tgredis.Config{URL: cfg.Redis.URL, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err != nil {
		fmt.Printf("Redis mirror: ⚠️ %v\n", err)
		return nil
	}
	defer client.Close()

	mirror := tgredis.NewMirror(client, cfg.Redis.MirrorPrefix, cfg.Network.HistoryLimit)
	defer mirror.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, ok := mirror.LoadContext(ctx)
	if !ok {
		fmt.Printf("Redis mirror: ✓ %s (empty)\n", mirror.ContextKey())
		return nil
	}
	fmt.Printf("Redis mirror: ✓ %s\n", mirror.ContextKey())
	fmt.Printf("  Current spot: %s\n", snap.UserSession.CurrentSpot)
	fmt.Printf("  Last intent: %s\n", snap.UserSession.LastIntent)
	fmt.Printf("  Pending tasks: %d\n", snap.SystemStatus.PendingTasks)
	for id, h := range snap.SystemStatus.AgentHealth {
		fmt.Printf("  Agent %s: %s\n", id, h)
	}
	for _, msg := range mirror.LoadHistory(ctx, 5) {
		fmt.Printf("  %s %s → %s %s/%s\n", msg.Timestamp.Format("15:04:05"), msg.Source, msg.Target, msg.Type,
			utils.TruncateString(string(msg.Action), 24, ""))
	}
	return nil
}
