package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dayuer/tourguide-go/internal/config"
	"github.com/dayuer/tourguide-go/internal/events"
	"github.com/dayuer/tourguide-go/internal/router"
	"github.com/dayuer/tourguide-go/internal/utils"
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize tourguide configuration and intent rules",
	RunE:  runOnboard,
}

func init() {
	rootCmd.AddCommand(onboardCmd)
}

func runOnboard(cmd *cobra.Command, args []string) error {
	if _, err := utils.EnsureDir(config.GetDataDir()); err != nil {
		return fmt.Errorf("creating %s: %w", config.GetDataDir(), err)
	}

	path := configPath
	if path == "" {
		path = config.GetConfigPath()
	}
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config already exists at %s\n", path)
	} else {
		if err := config.Save(config.DefaultConfig(), path); err != nil {
			return fmt.Errorf("creating config: %w", err)
		}
		fmt.Printf("✓ Created config at %s\n", path)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	intents := intentsPath(cfg)
	if _, err := os.Stat(intents); err == nil {
		fmt.Printf("Intent rules already exist at %s\n", intents)
	} else {
		if _, err := utils.EnsureDir(filepath.Dir(intents)); err != nil {
			return fmt.Errorf("creating %s: %w", filepath.Dir(intents), err)
		}
		if err := router.WriteRules(intents, router.DefaultRules()); err != nil {
			return fmt.Errorf("creating intent rules: %w", err)
		}
		fmt.Printf("✓ Created intent rules at %s\n", intents)
	}

	dir := eventsDir(cfg)
	sample := filepath.Join(dir, "village.yaml")
	if _, err := os.Stat(sample); err == nil {
		fmt.Printf("Event rules already exist at %s\n", sample)
	} else {
		if _, err := utils.EnsureDir(dir); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
		if err := events.WriteRules(sample, events.SampleRules()); err != nil {
			return fmt.Errorf("creating event rules: %w", err)
		}
		fmt.Printf("✓ Created event rules at %s\n", sample)
	}

	fmt.Println("\n🧭 tourguide is ready!")
	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Add your LLM API key to %s (llm.apiKey) or export ZHIPU_API_KEY\n", path)
	fmt.Println("  2. Ask: tourguide ask -s 东里村 -m \"讲讲这里的历史\"")
	fmt.Println("  3. Serve: tourguide serve")
	return nil
}
