// Command tern is an interactive terminal front end for the agent
// runtime: it wires a model session, the filesystem tools, any
// configured MCP servers, and approval prompts into one REPL.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/ternlabs/tern"
	"github.com/ternlabs/tern/llm"
	"github.com/ternlabs/tern/mcp"
	"github.com/ternlabs/tern/tools"
	"github.com/ternlabs/tern/tools/fstools"
	"github.com/ternlabs/tern/trust"
)

func main() {
	if err := run(parseFlags(), os.Stdin, os.Stdout, os.Stderr); err != nil {
		log.Fatal(err)
	}
}

// Config holds the merged command-line configuration.
type Config struct {
	Model        string
	APIKey       string
	AuthPersonal bool
	Approval     string
	MaxTurns     int
	Dir          string
	SettingsPath string
	Yolo         bool
}

func parseFlags() *Config {
	return parseFlagsArgs(os.Args[1:])
}

func parseFlagsArgs(args []string) *Config {
	var config Config
	fs := flag.NewFlagSet("tern", flag.ContinueOnError)

	fs.StringVar(&config.Model, "model", "", "Model to use (e.g., gemini-2.5-pro, gpt-4o, claude-sonnet-4-5)")
	fs.StringVar(&config.APIKey, "api-key", "", "API key (defaults to the provider's environment variable)")
	fs.BoolVar(&config.AuthPersonal, "personal", false, "Use personal-account auth (enables quota fallback)")
	fs.StringVar(&config.Approval, "approval", "", "Approval mode: default, auto_edit, or yolo")
	fs.IntVar(&config.MaxTurns, "max-turns", 0, "Cap on model turns per prompt (0 for default)")
	fs.StringVar(&config.Dir, "dir", ".", "Workspace directory the filesystem tools operate on")
	fs.StringVar(&config.SettingsPath, "settings", defaultSettingsPath(), "Settings file path")
	fs.BoolVar(&config.Yolo, "yolo", false, "Shorthand for -approval yolo")
	_ = fs.Parse(args)

	if config.Yolo && config.Approval == "" {
		config.Approval = string(tools.ApprovalYOLO)
	}
	return &config
}

// merge folds settings-file defaults under flag values.
func merge(config *Config, settings *Settings) {
	if config.Model == "" {
		config.Model = settings.Model
	}
	if config.Model == "" {
		config.Model = llm.DefaultFlashModel
	}
	if config.Approval == "" {
		config.Approval = settings.ApprovalMode
	}
	if config.MaxTurns == 0 {
		config.MaxTurns = settings.MaxTurns
	}
	if !config.AuthPersonal && settings.AuthType == string(llm.AuthPersonal) {
		config.AuthPersonal = true
	}
}

func run(config *Config, input io.Reader, output io.Writer, errOutput io.Writer) error {
	ctx := context.Background()

	settings, err := loadSettings(config.SettingsPath)
	if err != nil {
		return err
	}
	merge(config, settings)

	dir, err := filepath.Abs(config.Dir)
	if err != nil {
		return fmt.Errorf("resolve workspace dir: %w", err)
	}

	reader := bufio.NewReader(input)

	trusted, err := checkTrust(config.SettingsPath, dir, reader, output)
	if err != nil {
		return err
	}

	authType := llm.AuthAPIKey
	if config.AuthPersonal {
		authType = llm.AuthPersonal
	}
	llmConfig := llm.NewConfig(config.Model, llm.WithAuthType(authType), llm.WithAPIKey(apiKey(config)))

	generator, err := tern.NewGenerator(ctx, llmConfig)
	if err != nil {
		return fmt.Errorf("create generator: %w", err)
	}

	registry := tools.NewRegistry()

	var workspace *fstools.Workspace
	if trusted {
		root, err := os.OpenRoot(dir)
		if err != nil {
			return fmt.Errorf("open workspace: %w", err)
		}
		defer root.Close()
		workspace = fstools.NewWorkspace(rootFS{root: root})
		if err := fstools.RegisterAll(registry, workspace); err != nil {
			return fmt.Errorf("register filesystem tools: %w", err)
		}
	} else {
		fmt.Fprintln(output, "Folder is not trusted; filesystem tools are disabled.")
	}

	for name, server := range settings.MCPServers {
		client, err := mcp.Connect(ctx, name, server.Command, server.Args...)
		if err != nil {
			fmt.Fprintf(errOutput, "mcp server %s: %v\n", name, err)
			continue
		}
		defer client.Close()
		if _, err := tools.RegisterDiscovered(ctx, registry, client); err != nil {
			fmt.Fprintf(errOutput, "mcp server %s: %v\n", name, err)
		}
	}

	confirm := newConfirmer(reader, output, int(os.Stdin.Fd()))
	scheduler := tools.NewScheduler(registry, tools.SchedulerOptions{
		Mode:     tools.ApprovalMode(config.Approval),
		OnUpdate: confirm.handle,
	})

	session := tern.NewSession(generator, llmConfig, tern.WithRegistry(registry))

	driverOpts := []tern.DriverOption{}
	if config.MaxTurns > 0 {
		driverOpts = append(driverOpts, tern.WithMaxTurns(config.MaxTurns))
	}
	if workspace != nil {
		driverOpts = append(driverOpts, tern.WithPromptResolver(tern.NewPromptResolver(workspace)))
	}
	driver := tern.NewDriver(session, scheduler, driverOpts...)

	return repl(ctx, driver, session, reader, output, errOutput)
}

// checkTrust consults the trust store for dir, prompting once when no
// decision is recorded yet.
func checkTrust(settingsPath, dir string, reader *bufio.Reader, output io.Writer) (bool, error) {
	dbDir := filepath.Dir(settingsPath)
	if settingsPath == "" {
		dbDir = "."
	}
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return false, fmt.Errorf("create config dir: %w", err)
	}

	store, err := trust.New(filepath.Join(dbDir, "trust.db"))
	if err != nil {
		return false, fmt.Errorf("open trust store: %w", err)
	}
	defer store.Close()

	decision, err := store.TrustFor(dir)
	if err != nil {
		return false, err
	}
	if decision.Source != "" {
		return decision.Trusted, nil
	}

	fmt.Fprintf(output, "Trust folder %s? Tools will be able to read and write files here. [y/N] ", dir)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return false, nil
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		if err := store.SetTrust(dir, trust.TrustFolder); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func apiKey(config *Config) string {
	if config.APIKey != "" {
		return config.APIKey
	}
	return tern.APIKeyFromEnv(llm.DetectProvider(config.Model))
}

func repl(ctx context.Context, driver *tern.Driver, session *tern.Session, reader *bufio.Reader, output, errOutput io.Writer) error {
	fmt.Fprintln(output, "Chat started. Type 'exit' or 'quit' to end the conversation.")
	fmt.Fprintln(output, "---")

	for {
		fmt.Fprint(output, "\nYou: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			if line == "" {
				printUsage(session, output)
				return nil
			}
		}
		prompt := strings.TrimSpace(line)
		switch prompt {
		case "":
			continue
		case "exit", "quit":
			printUsage(session, output)
			return nil
		}

		runPrompt(ctx, driver, prompt, output, errOutput)
	}
}

func runPrompt(ctx context.Context, driver *tern.Driver, prompt string, output, errOutput io.Writer) {
	inThought := false
	for event := range driver.Run(ctx, uuid.NewString(), prompt) {
		switch event.Kind {
		case tern.EventThought:
			if !inThought {
				fmt.Fprint(output, "\n* thinking *\n")
				inThought = true
			}
			fmt.Fprint(output, event.Text)
		case tern.EventContent:
			if inThought {
				fmt.Fprint(output, "\n---\n")
				inThought = false
			}
			fmt.Fprint(output, event.Text)
		case tern.EventToolCalls:
			for _, call := range event.Calls {
				fmt.Fprintf(output, "\n-> %s\n", call.Name)
			}
		case tern.EventToolResults:
			// Approvals and progress already went to the terminal.
		case tern.EventFinished:
			fmt.Fprintln(output)
			switch event.Stop {
			case tern.StopEndTurn:
			case tern.StopCancelled:
				fmt.Fprintln(output, "(cancelled)")
			default:
				fmt.Fprintf(errOutput, "Error: %v\n", event.Err)
			}
		}
	}
}

func printUsage(session *tern.Session, output io.Writer) {
	cumulative, _ := session.Usage()
	fmt.Fprintf(output, "\nGoodbye!\nusage: %d prompt tokens, %d response tokens\n",
		cumulative.PromptTokens, cumulative.ResponseTokens)
}
