package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dayuer/tourguide-go/internal/server"
)

var (
	serveHost   string
	servePort   int
	serveAPIKey string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and monitor websocket",
	Long: `Start the agent network behind an HTTP API:
  - POST /api/query runs a visitor request through the facade
  - GET /api/context, /api/history, /api/agents for the monitor panel
  - GET /ws streams every dispatched message
  - POST /api/events feeds external village events through the rules
SIGHUP reloads the LLM provider and event rules.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (default from config)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Listen port (default from config)")
	serveCmd.Flags().StringVar(&serveAPIKey, "api-key", "", "Bearer token for the API (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	// --- Resolve settings: CLI flag → config.json / TOURGUIDE_SERVER_* ---
	host := a.cfg.Server.Host
	if serveHost != "" {
		host = serveHost
	}
	port := a.cfg.Server.Port
	if servePort != 0 {
		port = servePort
	}
	apiKey := a.cfg.Server.APIKey
	if serveAPIKey != "" {
		apiKey = serveAPIKey
	}

	srv := server.NewServer(server.Config{
		Host:    host,
		Port:    port,
		APIKey:  apiKey,
		Network: a.net,
		Facade:  a.system.Facade,
		Tools:   a.registry,
		Events:  a.events,
	})

	fmt.Println("🚀 Starting tourguide...")
	fmt.Printf("   Agents: %v\n", a.net.Agents())
	fmt.Printf("   Tools: %v\n", a.registry.Names())
	fmt.Printf("   Model: %s\n", a.provider.DefaultModel())
	fmt.Printf("   Event rules: %d\n", a.events.RuleCount())
	if a.mirror.Enabled() {
		fmt.Printf("   Redis mirror: %s*\n", a.cfg.Redis.MirrorPrefix)
	}
	if apiKey == "" {
		fmt.Println("   ⚠️ No API key set, the API is open")
	}
	fmt.Println("────────────────────────────────────────")

	if err := writePID(os.Getpid()); err != nil {
		log.Printf("⚠️ Could not write PID file: %v", err)
	}
	defer removePID()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown + SIGHUP reload
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigCh:
				if sig == syscall.SIGHUP {
					log.Println("🔄 SIGHUP received, reloading config...")
					if err := a.reload(); err != nil {
						log.Printf("⚠️ Reload failed: %v", err)
					}
					continue
				}
				fmt.Println("\n🛑 Shutting down...")
				cancel()
				return
			}
		}
	}()

	return srv.Start(ctx)
}
