package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dayuer/tourguide-go/internal/agent"
	"github.com/dayuer/tourguide-go/internal/tools"
)

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Ask the guide directly through the facade",
	RunE:  runAsk,
}

var (
	askMessage string
	askSpot    string
	askPhoto   bool
	askJSON    bool
)

func init() {
	askCmd.Flags().StringVarP(&askMessage, "message", "m", "", "Question to ask (omit for interactive mode)")
	askCmd.Flags().StringVarP(&askSpot, "spot", "s", "东里村", "Spot the visitor is at")
	askCmd.Flags().BoolVar(&askPhoto, "photo", false, "Photo mode: recognise the spot instead of answering text")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "Print the raw result as JSON")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	mode := agent.ModeText
	if askPhoto {
		mode = agent.ModePhoto
	}

	if askMessage != "" || askPhoto {
		// Single message mode
		return askOnce(context.Background(), a, askMessage, askSpot, mode)
	}

	// Interactive REPL mode
	fmt.Printf("🧭 tourguide interactive mode at %s (type 'exit' or Ctrl+C to quit)\n", askSpot)
	fmt.Println("   /spot NAME moves the visitor, /photo recognises the current spot")
	fmt.Println()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nGoodbye!")
		cancel()
		a.Close()
		os.Exit(0)
	}()

	scanner := bufio.NewScanner(os.Stdin)
	exitCommands := map[string]bool{
		"exit": true, "quit": true, "/exit": true, "/quit": true, ":q": true,
	}

	spot := askSpot
	for {
		fmt.Print("You: ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if exitCommands[strings.ToLower(input)] {
			fmt.Println("Goodbye!")
			break
		}
		if name, ok := strings.CutPrefix(input, "/spot "); ok {
			spot = strings.TrimSpace(name)
			fmt.Printf("📍 Now at %s\n\n", spot)
			continue
		}

		m := agent.ModeText
		if input == "/photo" {
			m, input = agent.ModePhoto, ""
		}
		if err := askOnce(ctx, a, input, spot, m); err != nil {
			log.Printf("Error: %v", err)
		}
		fmt.Println()
	}
	return nil
}

func askOnce(ctx context.Context, a *app, text, spot string, mode agent.Mode) error {
	res, err := a.system.Facade.ProcessUserRequest(ctx, text, spot, mode)
	if err != nil {
		return err
	}
	if askJSON {
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("🧭 %s", res.Tool)
	if res.Degraded() {
		fmt.Print(" ⚠️")
	}
	fmt.Println()
	fmt.Println(render(res))
	return nil
}

// render picks the human-readable part of a tool result.
func render(res agent.Result) string {
	if v, ok := res.Data.(tools.ShoppingInfo); ok {
		var b strings.Builder
		b.WriteString(v.RecommendText)
		for _, p := range v.Products {
			fmt.Fprintf(&b, "\n  • %s %s (%s)", p.Name, p.Price, p.Business)
		}
		return b.String()
	}
	return res.Text()
}
