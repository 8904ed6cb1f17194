// Command flowscript validates, runs, and serves FlowScript workflows.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/taskloom/flowscript/internal/audit"
	"github.com/taskloom/flowscript/internal/config"
	"github.com/taskloom/flowscript/internal/dispatch"
	"github.com/taskloom/flowscript/internal/engine"
	"github.com/taskloom/flowscript/internal/flow"
	"github.com/taskloom/flowscript/internal/generate"
	"github.com/taskloom/flowscript/internal/llm"
	"github.com/taskloom/flowscript/internal/runtime"
	"github.com/taskloom/flowscript/internal/server"
	"github.com/taskloom/flowscript/internal/store"
	"github.com/taskloom/flowscript/internal/validate"
)

func main() {
	logger := log.New(os.Stderr, "", log.LstdFlags)
	app := &cli.App{
		Name:  "flowscript",
		Usage: "validate, run, and serve FlowScript workflow graphs",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to YAML config"},
		},
		Commands: []*cli.Command{
			validateCommand(),
			runCommand(logger),
			stepCommand(logger),
			serveCommand(logger),
		},
	}
	if err := app.Run(os.Args); err != nil {
		logger.Fatalf("[flowscript] %v", err)
	}
}

func loadScript(path string) (*flow.Script, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read flow: %w", err)
	}
	return flow.Decode(raw)
}

// buildLLM wires the configured provider into a client. With no provider in
// the config the client stays unconfigured and ai_prompt nodes fall back to
// mock completions.
func buildLLM(cfg config.LLM) *llm.Client {
	client := llm.NewClient()
	if cfg.Provider == "" {
		return client
	}
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.openai.com"
	}
	key := ""
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	client.Register(llm.NewOpenAICompat(llm.OpenAICompatConfig{
		Provider:     cfg.Provider,
		APIKey:       key,
		BaseURL:      base,
		DefaultModel: cfg.Model,
	}))
	return client
}

func buildEngine(c *cli.Context, logger *log.Logger) (*engine.Engine, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	dcfg := dispatch.Config{
		LLM:          buildLLM(cfg.LLM),
		SandboxRoot:  cfg.Sandbox.Root,
		SandboxAllow: cfg.Sandbox.Allow,
		WebhookURL:   cfg.Notify.WebhookURL,
		Logger:       logger,
	}
	return engine.New(engine.Config{
		Live:           dispatch.NewLive(dcfg),
		Simulate:       dispatch.NewSimulate(dcfg),
		Audit:          audit.New(logger),
		DefaultTimeout: cfg.DispatchTimeout(),
	}), nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "check a FlowScript document for structural problems",
		ArgsUsage: "<flow.json>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected exactly one flow file")
			}
			script, err := loadScript(c.Args().First())
			if err != nil {
				return err
			}
			diags := validate.Validate(script)
			if len(diags) == 0 {
				fmt.Printf("%s: ok (%d nodes, %d edges)\n", script.ID, len(script.Nodes), len(script.Edges))
				return nil
			}
			if err := printJSON(diags); err != nil {
				return err
			}
			for _, d := range diags {
				if d.Severity == validate.SeverityError {
					return fmt.Errorf("%s: validation failed", script.ID)
				}
			}
			return nil
		},
	}
}

func modeFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "mode",
		Value: string(runtime.ModeSimulate),
		Usage: "execution mode: simulate or live",
	}
}

func parseMode(c *cli.Context) (runtime.Mode, error) {
	mode := runtime.Mode(c.String("mode"))
	if mode != runtime.ModeSimulate && mode != runtime.ModeLive {
		return "", fmt.Errorf("unknown mode %q", mode)
	}
	return mode, nil
}

func runCommand(logger *log.Logger) *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "execute a FlowScript document and print the run snapshot",
		ArgsUsage: "<flow.json>",
		Flags: []cli.Flag{
			modeFlag(),
			&cli.StringFlag{Name: "seed", Usage: "JSON object of initial context values"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected exactly one flow file")
			}
			script, err := loadScript(c.Args().First())
			if err != nil {
				return err
			}
			mode, err := parseMode(c)
			if err != nil {
				return err
			}
			var seed map[string]any
			if raw := c.String("seed"); raw != "" {
				if err := json.Unmarshal([]byte(raw), &seed); err != nil {
					return fmt.Errorf("parse seed: %w", err)
				}
			}
			eng, err := buildEngine(c, logger)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			rt, err := eng.Execute(ctx, script, mode, engine.Options{Seed: seed})
			if err != nil {
				return err
			}
			if err := printJSON(rt); err != nil {
				return err
			}
			if rt.Status != runtime.RunCompleted {
				return fmt.Errorf("run %s %s", rt.RunID, rt.Status)
			}
			return nil
		},
	}
}

func stepCommand(logger *log.Logger) *cli.Command {
	return &cli.Command{
		Name:      "step",
		Usage:     "execute a single node in isolation",
		ArgsUsage: "<flow.json> <node-id>",
		Flags: []cli.Flag{
			modeFlag(),
			&cli.StringFlag{Name: "seed", Usage: "JSON object of initial context values"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("expected a flow file and a node id")
			}
			script, err := loadScript(c.Args().First())
			if err != nil {
				return err
			}
			mode, err := parseMode(c)
			if err != nil {
				return err
			}
			var seed map[string]any
			if raw := c.String("seed"); raw != "" {
				if err := json.Unmarshal([]byte(raw), &seed); err != nil {
					return fmt.Errorf("parse seed: %w", err)
				}
			}
			eng, err := buildEngine(c, logger)
			if err != nil {
				return err
			}
			tr, err := eng.ExecuteStep(c.Context, script, c.Args().Get(1), mode, seed)
			if err != nil {
				return err
			}
			return printJSON(tr)
		},
	}
}

func serveCommand(logger *log.Logger) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the FlowScript HTTP service",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "listen address (overrides config)"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			addr := cfg.Server.Addr
			if v := c.String("addr"); v != "" {
				addr = v
			}

			bc := server.NewBroadcaster()
			dcfg := dispatch.Config{
				LLM:          buildLLM(cfg.LLM),
				SandboxRoot:  cfg.Sandbox.Root,
				SandboxAllow: cfg.Sandbox.Allow,
				WebhookURL:   cfg.Notify.WebhookURL,
				Logger:       logger,
			}
			eng := engine.New(engine.Config{
				Live:           dispatch.NewLive(dcfg),
				Simulate:       dispatch.NewSimulate(dcfg),
				Audit:          audit.New(logger),
				Progress:       func(ev engine.Event) { bc.Publish(ev) },
				DefaultTimeout: cfg.DispatchTimeout(),
			})
			srv := server.New(eng, store.NewMemory(), generate.NewService(generate.Stub{}), bc, logger)

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.ListenAndServe(ctx, addr)
		},
	}
}
