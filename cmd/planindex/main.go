package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/msageha/planindex/internal/daemon"
	"github.com/msageha/planindex/internal/events"
	"github.com/msageha/planindex/internal/index"
	"github.com/msageha/planindex/internal/model"
	"github.com/msageha/planindex/internal/store"
)

const version = "0.1.0"

const (
	defaultConfigPath = "planindex.yaml"
	configEnv         = "PLANINDEX_CONFIG"
	mutateTimeout     = 30 * time.Second
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 1
	}

	switch args[0] {
	case "add":
		return runAdd(args[1:], stdout, stderr)
	case "find":
		return runFind(args[1:], stdout, stderr)
	case "remove":
		return runRemove(args[1:], stdout, stderr)
	case "list":
		return runList(args[1:], stdout, stderr)
	case "watch":
		return runWatch(args[1:], stderr)
	case "version":
		fmt.Fprintf(stdout, "planindex %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n\n", args[0])
		printUsage(stderr)
		return 1
	}
}

type addOptions struct {
	configPath  string
	taskUID     string
	verb        string
	kind        string
	asset       string
	subtasks    []model.UID
	composition string
	success     bool
}

func runAdd(args []string, stdout, stderr io.Writer) int {
	const usage = "usage: planindex add --task <uid> --kind <allocation|expansion|aggregation|disposition> [--verb <verb>] [--asset <name>] [--subtask <uid>]... [--composition <uid>] [--success] [--config <path>]"

	var opts addOptions
	for i := 0; i < len(args); i++ {
		flagName := args[i]
		if flagName == "--success" {
			opts.success = true
			continue
		}
		if i+1 >= len(args) {
			fmt.Fprintf(stderr, "%s requires a value\n%s\n", flagName, usage)
			return 1
		}
		i++
		value := args[i]
		switch flagName {
		case "--config":
			opts.configPath = value
		case "--task":
			opts.taskUID = value
		case "--verb":
			opts.verb = value
		case "--kind":
			opts.kind = value
		case "--asset":
			opts.asset = value
		case "--subtask":
			opts.subtasks = append(opts.subtasks, model.UID(value))
		case "--composition":
			opts.composition = value
		default:
			fmt.Fprintf(stderr, "unknown flag: %s\n%s\n", flagName, usage)
			return 1
		}
	}
	if opts.taskUID == "" || opts.kind == "" {
		fmt.Fprintln(stderr, usage)
		return 1
	}

	pe := &model.PlanElement{
		Kind:        model.PlanElementKind(opts.kind),
		Task:        &model.Task{UID: model.UID(opts.taskUID), Verb: opts.verb},
		Asset:       opts.asset,
		Subtasks:    opts.subtasks,
		Composition: model.UID(opts.composition),
		Success:     opts.success,
	}

	st, err := openStore(opts.configPath, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "add: %v\n", err)
		return 1
	}
	ctx, cancel := context.WithTimeout(context.Background(), mutateTimeout)
	defer cancel()

	if err := st.Mutate(ctx, func(s *store.Store) error { return s.Add(pe) }); err != nil {
		fmt.Fprintf(stderr, "add: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "%s\t%s\n", pe.Task.UID, pe.UID)
	return 0
}

func runFind(args []string, stdout, stderr io.Writer) int {
	const usage = "usage: planindex find <task-uid> [--config <path>]"

	positional, configPath, ok := parseCommon(args, usage, stderr)
	if !ok || len(positional) != 1 {
		if ok {
			fmt.Fprintln(stderr, usage)
		}
		return 1
	}

	st, err := loadStore(configPath, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "find: %v\n", err)
		return 1
	}
	pe, found := st.FindByUID(model.UID(positional[0]))
	if !found {
		fmt.Fprintf(stderr, "no plan element for task %s\n", positional[0])
		return 1
	}

	out, err := yaml.Marshal(pe)
	if err != nil {
		fmt.Fprintf(stderr, "find: %v\n", err)
		return 1
	}
	stdout.Write(out)
	return 0
}

func runRemove(args []string, stdout, stderr io.Writer) int {
	const usage = "usage: planindex remove <task-uid> [--config <path>]"

	positional, configPath, ok := parseCommon(args, usage, stderr)
	if !ok || len(positional) != 1 {
		if ok {
			fmt.Fprintln(stderr, usage)
		}
		return 1
	}

	st, err := openStore(configPath, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "remove: %v\n", err)
		return 1
	}
	ctx, cancel := context.WithTimeout(context.Background(), mutateTimeout)
	defer cancel()

	taskUID := model.UID(positional[0])
	removed := false
	err = st.Mutate(ctx, func(s *store.Store) error {
		removed = s.Remove(taskUID)
		return nil
	})
	if err != nil {
		fmt.Fprintf(stderr, "remove: %v\n", err)
		return 1
	}
	if !removed {
		fmt.Fprintf(stderr, "no plan element for task %s\n", taskUID)
		return 1
	}
	fmt.Fprintf(stdout, "removed %s\n", taskUID)
	return 0
}

func runList(args []string, stdout, stderr io.Writer) int {
	const usage = "usage: planindex list [--config <path>]"

	positional, configPath, ok := parseCommon(args, usage, stderr)
	if !ok || len(positional) != 0 {
		if ok {
			fmt.Fprintln(stderr, usage)
		}
		return 1
	}

	st, err := loadStore(configPath, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "list: %v\n", err)
		return 1
	}
	for _, pe := range st.List() {
		taskUID, _ := index.TaskUID(pe)
		fmt.Fprintf(stdout, "%s\t%s\t%s\t%s\n", taskUID, pe.Kind, pe.UID, describe(pe))
	}
	return 0
}

func runWatch(args []string, stderr io.Writer) int {
	const usage = "usage: planindex watch [--config <path>]"

	positional, configPath, ok := parseCommon(args, usage, stderr)
	if !ok || len(positional) != 0 {
		if ok {
			fmt.Fprintln(stderr, usage)
		}
		return 1
	}

	cfg, err := model.LoadConfig(resolveConfigPath(configPath))
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	level := model.ParseLogLevel(cfg.Logging.Level)
	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	st := store.New(cfg, bus, log.New(stderr, "", 0), level)
	d, err := daemon.New(cfg, st, bus, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "create daemon: %v\n", err)
		return 1
	}
	if err := d.Run(context.Background()); err != nil {
		fmt.Fprintf(stderr, "daemon: %v\n", err)
		return 1
	}
	return 0
}

// parseCommon accepts positional arguments and --config.
func parseCommon(args []string, usage string, stderr io.Writer) (positional []string, configPath string, ok bool) {
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--config":
			if i+1 >= len(args) {
				fmt.Fprintf(stderr, "--config requires a value\n%s\n", usage)
				return nil, "", false
			}
			i++
			configPath = args[i]
		case strings.HasPrefix(args[i], "--"):
			fmt.Fprintf(stderr, "unknown flag: %s\n%s\n", args[i], usage)
			return nil, "", false
		default:
			positional = append(positional, args[i])
		}
	}
	return positional, configPath, true
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(configEnv); env != "" {
		return env
	}
	return defaultConfigPath
}

func openStore(configPath string, stderr io.Writer) (*store.Store, error) {
	cfg, err := model.LoadConfig(resolveConfigPath(configPath))
	if err != nil {
		return nil, err
	}
	return store.New(cfg, nil, log.New(stderr, "", 0), model.ParseLogLevel(cfg.Logging.Level)), nil
}

func loadStore(configPath string, stderr io.Writer) (*store.Store, error) {
	st, err := openStore(configPath, stderr)
	if err != nil {
		return nil, err
	}
	if err := st.Load(context.Background()); err != nil {
		return nil, err
	}
	return st, nil
}

func describe(pe *model.PlanElement) string {
	switch pe.Kind {
	case model.KindAllocation:
		return "asset=" + pe.Asset
	case model.KindExpansion:
		parts := make([]string, len(pe.Subtasks))
		for i, st := range pe.Subtasks {
			parts[i] = st.String()
		}
		return "subtasks=" + strings.Join(parts, ",")
	case model.KindAggregation:
		return "composition=" + pe.Composition.String()
	case model.KindDisposition:
		return fmt.Sprintf("success=%t", pe.Success)
	default:
		return ""
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `planindex %s - plan element index keyed by task UID

Usage:
  planindex add --task <uid> --kind <kind> [options]   Store the plan element for a task
  planindex find <task-uid>                            Print the plan element for a task
  planindex remove <task-uid>                          Remove the plan element for a task
  planindex list                                       List plan elements by task UID
  planindex watch                                      Reload the snapshot as it changes
  planindex version                                    Print version

Every command accepts --config <path> (default $%s or ./%s).
`, version, configEnv, defaultConfigPath)
}
