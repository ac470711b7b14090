// Command agentrt is the thin wiring point that exercises the Broker and
// Agent Loop end to end: it loads a config file, starts the Supervisor,
// builds a Broker and an LLM-backed Agent Loop, runs one turn, and prints
// the final content.
//
// # Configuration
//
// Flags:
//
//	-config      path to the MCP server configuration document (JSON or YAML)
//	-provider    "anthropic" or "bedrock" (default "anthropic")
//	-model       provider model id (required)
//	-developer   developer id the turn is run on behalf of (default "local")
//	-prompt      the user message to run (required)
//	-max-iters   Agent Loop iteration cap (default 5)
//	-debug       enable debug logging
//
// Environment:
//
//	ANTHROPIC_API_KEY   required when -provider=anthropic
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"goa.design/clue/log"

	"github.com/agentbroker/runtime/internal/agentloop"
	"github.com/agentbroker/runtime/internal/broker"
	cfgregistry "github.com/agentbroker/runtime/internal/config"
	"github.com/agentbroker/runtime/internal/diagnostics"
	"github.com/agentbroker/runtime/internal/llm"
	"github.com/agentbroker/runtime/internal/llm/anthropic"
	"github.com/agentbroker/runtime/internal/llm/bedrock"
	"github.com/agentbroker/runtime/internal/memory"
	"github.com/agentbroker/runtime/internal/memory/inmem"
	"github.com/agentbroker/runtime/internal/supervisor"
	"github.com/agentbroker/runtime/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Print(log.Context(context.Background()), log.KV{K: "error", V: err.Error()})
		os.Exit(1)
	}
}

func run() error {
	var (
		configPathF = flag.String("config", "", "Path to the MCP server config document (required)")
		providerF   = flag.String("provider", "anthropic", "LLM provider: anthropic or bedrock")
		modelF      = flag.String("model", "", "Provider model id (required)")
		developerF  = flag.String("developer", "local", "Developer id the turn runs on behalf of")
		promptF     = flag.String("prompt", "", "User message to run through the Agent Loop (required)")
		maxItersF   = flag.Int("max-iters", 5, "Agent Loop iteration cap")
		debugF      = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	if *configPathF == "" || *modelF == "" || *promptF == "" {
		flag.Usage()
		return fmt.Errorf("agentrt: -config, -model, and -prompt are required")
	}

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *debugF {
		ctx = log.Context(ctx, log.WithDebug())
	}
	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewClueMetrics()

	registry, err := cfgregistry.LoadFile(*configPathF)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	for _, issue := range registry.ValidateConfig() {
		logger.Warn(ctx, "config issue", "serverId", issue.ServerID, "message", issue.Message)
	}

	sup := supervisor.New(supervisor.Options{}, diagnostics.NewSink(256, true), supervisor.WithLogger(logger), supervisor.WithMetrics(metrics))
	br := broker.New(registry, sup, broker.Options{}, broker.WithLogger(logger), broker.WithMetrics(metrics))
	br.StartManaged()
	defer br.StopManaged()

	llmClient, err := buildLLMClient(*providerF, *modelF)
	if err != nil {
		return fmt.Errorf("build llm client: %w", err)
	}

	loop := agentloop.New(llmClient, br, defaultMemoryStore(), agentloop.WithLogger(logger), agentloop.WithMetrics(metrics), agentloop.WithMaxToolIterations(*maxItersF))

	messages := []llm.Message{{Role: llm.RoleUser, Content: *promptF}}
	content, err := loop.Run(ctx, messages, *developerF, agentloop.RunOptions{MaxIterations: *maxItersF})
	if err != nil {
		return fmt.Errorf("run agent loop: %w", err)
	}

	fmt.Println(content)
	return nil
}

// buildLLMClient wires the requested provider adapter. Provider selection is
// a thin dispatch; each adapter owns its own SDK client construction.
func buildLLMClient(provider, model string) (llm.Client, error) {
	switch provider {
	case "bedrock":
		awsCfg, err := config.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		runtime := bedrockruntime.NewFromConfig(awsCfg)
		return bedrock.New(bedrock.Options{Runtime: runtime, DefaultModel: model})
	default:
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required for provider %q", provider)
		}
		return anthropic.NewFromAPIKey(apiKey, model)
	}
}

// defaultMemoryStore backs the memory collaborator with an in-process store;
// production deployments wire internal/memory/redisstore instead.
func defaultMemoryStore() memory.Store {
	return inmem.New()
}
