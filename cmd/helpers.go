package cmd

import (
	"fmt"
	"log"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dayuer/tourguide-go/internal/agent"
	"github.com/dayuer/tourguide-go/internal/bus"
	"github.com/dayuer/tourguide-go/internal/config"
	"github.com/dayuer/tourguide-go/internal/events"
	"github.com/dayuer/tourguide-go/internal/providers"
	tgredis "github.com/dayuer/tourguide-go/internal/redis"
	"github.com/dayuer/tourguide-go/internal/router"
	"github.com/dayuer/tourguide-go/internal/tools"
	"github.com/dayuer/tourguide-go/internal/utils"
)

// app is one wired agent network: provider, tools, bus and agents.
type app struct {
	cfg      config.Config
	provider *providers.Swappable
	registry *tools.MapRegistry
	net      *bus.Network
	system   *agent.System
	events   *events.Engine
	mirror   *tgredis.Mirror
	redis    *goredis.Client
}

// loadApp reads the config and starts agents A, B and D.
func loadApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	classifier, err := router.Load(intentsPath(cfg))
	if err != nil {
		return nil, fmt.Errorf("loading intents: %w", err)
	}

	a := &app{
		cfg:      cfg,
		provider: providers.NewSwappable(makeProvider(cfg.LLM)),
	}
	a.registry = makeRegistry(cfg, a.provider)
	for _, name := range classifier.Tools() {
		if _, ok := a.registry.Lookup(name); !ok {
			return nil, fmt.Errorf("intents: rule routes to unknown tool %q", name)
		}
	}

	observers := []bus.Observer{bus.NewLogObserver(nil)}
	if cfg.Redis.Enabled() {
		client, err := tgredis.Connect(tgredis.Config{
			URL:      cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Printf("[Redis] ⚠️ %v, running without mirror", err)
		}
		a.redis = client
	}
	a.mirror = tgredis.NewMirror(a.redis, cfg.Redis.MirrorPrefix, cfg.Network.HistoryLimit)
	if a.mirror.Enabled() {
		observers = append(observers, a.mirror)
	}

	a.net = bus.NewNetwork(bus.Options{
		HistoryLimit:  cfg.Network.HistoryLimit,
		StrictRouting: cfg.Network.StrictRouting,
		Debug:         cfg.Network.Debug,
		Observers:     observers,
	})
	a.system = agent.Start(a.net, a.registry, agent.Config{
		Facade: agent.FacadeConfig{
			Timeout:        cfg.Facade.Timeout(),
			ShoppingCoords: cfg.Facade.DefaultCoordinates,
			Classifier:     classifier,
			RecordQueries:  cfg.Facade.RecordQueries,
		},
		SlowThreshold: cfg.ToolRunner.SlowThreshold(),
	})

	a.events = events.NewEngine(a.net)
	if err := a.events.LoadRules(eventsDir(cfg)); err != nil {
		log.Printf("[Events] ⚠️ %v", err)
	}
	return a, nil
}

// Close unregisters the agents and flushes the mirror.
func (a *app) Close() {
	a.system.Stop()
	a.mirror.Close()
	if a.redis != nil {
		a.redis.Close()
	}
}

// reload re-reads the config file and hot-swaps what can change at runtime:
// the LLM provider, debug mode and event rules.
func (a *app) reload() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	a.provider.Swap(makeProvider(cfg.LLM))
	if cfg.Network.Debug {
		a.net.EnableDebugMode()
	} else {
		a.net.DisableDebugMode()
	}
	if err := a.events.LoadRules(eventsDir(cfg)); err != nil {
		log.Printf("[Events] ⚠️ %v", err)
	}
	a.cfg = cfg
	log.Printf("[Server] 🔄 Provider hot-swapped → model=%s", a.provider.DefaultModel())
	return nil
}

// makeProvider creates a Provider from the llm config section. Missing keys
// fall back to the provider's environment variable.
func makeProvider(cfg config.LLMConfig) *providers.Provider {
	return providers.NewProvider(cfg.APIKey, cfg.APIBase, cfg.Model, cfg.Provider)
}

// makeRegistry registers the five guide tools. Lookups that do not depend
// on the visitor's words are cached.
func makeRegistry(cfg config.Config, llm providers.LLMProvider) *tools.MapRegistry {
	guide := &tools.Guide{
		LLM: llm,
		// Empty so text calls follow the provider's default across reloads.
		Model:         "",
		VisionModel:   cfg.LLM.VisionModel,
		MapKey:        cfg.Map.APIKey,
		MapZoom:       cfg.Map.Zoom,
		MapSize:       cfg.Map.Size,
		Spots:         tools.DefaultSpots,
		DefaultCoords: cfg.Facade.DefaultCoordinates,
	}

	reg := tools.NewRegistry()
	for _, t := range guide.Tools() {
		switch t.Name() {
		case tools.GetRelatedKnowledge, tools.GetShoppingInfo, tools.GetMap:
			t = tools.Cached(t, cfg.Cache.Size, cfg.Cache.TTL())
		}
		reg.Register(t)
	}
	return reg
}

func intentsPath(cfg config.Config) string {
	if cfg.Facade.IntentsFile != "" {
		return utils.ExpandHome(cfg.Facade.IntentsFile)
	}
	return config.GetIntentsPath()
}

func eventsDir(cfg config.Config) string {
	if cfg.Events.RulesDir != "" {
		return utils.ExpandHome(cfg.Events.RulesDir)
	}
	return config.GetEventsDir()
}
