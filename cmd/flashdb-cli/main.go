// Command flashdb-cli issues single commands against a running FlashDB server.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/adeilh/flashdb/cache/network"
	"github.com/adeilh/flashdb/cache/rest"
	"github.com/adeilh/flashdb/config"
	"github.com/adeilh/flashdb/internal/logger"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

type globals struct {
	cfg *config.Config
	log *slog.Logger
}

func run(args []string) error {
	fs := flag.NewFlagSet("flashdb-cli", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigFile, "path to the YAML config file")
	addr := fs.String("addr", "", "server address (overrides config)")
	adminURL := fs.String("admin", "", "admin API base URL (overrides config)")
	fs.Usage = printHelp
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if *addr != "" {
		cfg.Client.Addr = *addr
	}
	if *adminURL != "" {
		cfg.Bench.AdminURL = *adminURL
	}
	g := globals{cfg: cfg, log: logger.New(cfg.Logging)}

	cmdArgs := fs.Args()
	if len(cmdArgs) == 0 || cmdArgs[0] == "help" || cmdArgs[0] == "--help" {
		printHelp()
		return nil
	}

	switch cmdArgs[0] {
	case "set":
		return g.runSet(cmdArgs[1:])
	case "get":
		return g.runGet(cmdArgs[1:])
	case "del":
		return g.runDel(cmdArgs[1:])
	case "all":
		return g.runAll(cmdArgs[1:])
	case "ping":
		return g.runPing(cmdArgs[1:])
	case "stats":
		return g.runStats(cmdArgs[1:])
	case "session":
		return g.runSession(cmdArgs[1:])
	default:
		printHelp()
		return fmt.Errorf("unknown command: %s", cmdArgs[0])
	}
}

func printHelp() {
	fmt.Fprintf(os.Stderr, `Usage: flashdb-cli [-config file] [-addr host:port] [-admin url] <command> [options]

Commands:
  set       Store a value: set -key k [-value v] [-ttl 60s]
  get       Print the value of a live key
  del       Delete a key
  all       List live keys
  ping      Check the server answers
  stats     Print server counters from the admin API
  session   Store and read back a sample JSON session, timing both
  help      Show this help message

Examples:
  flashdb-cli set -key foo -value bar -ttl 10s
  echo '{"name":"Troy"}' | flashdb-cli set -key user:1
  flashdb-cli get -key foo
  flashdb-cli -addr 127.0.0.1:2006 all
`)
}

func (g globals) dial(ctx context.Context) (*network.Store, error) {
	return network.Dial(ctx, network.Options{
		Addr:         g.cfg.Client.Addr,
		DialTimeout:  g.cfg.Client.DialTimeout,
		ReadTimeout:  g.cfg.Client.ReadTimeout,
		WriteTimeout: g.cfg.Client.WriteTimeout,
		Logger:       g.log,
	})
}

func (g globals) runSet(args []string) error {
	fs := flag.NewFlagSet("set", flag.ContinueOnError)
	key := fs.String("key", "", "entry key (required)")
	value := fs.String("value", "", "entry value; read from stdin when omitted")
	ttl := fs.Duration("ttl", 0, "time to live, whole seconds; 0 never expires")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *key == "" {
		return errors.New("-key is required")
	}

	v := *value
	if !isFlagSet(fs, "value") {
		var err error
		if v, err = readValue(); err != nil {
			return fmt.Errorf("read value: %w", err)
		}
	}

	ctx := context.Background()
	store, err := g.dial(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.Set(ctx, *key, v, *ttl); err != nil {
		return fmt.Errorf("set %s: %w", *key, err)
	}
	fmt.Println("OK")
	return nil
}

func (g globals) runGet(args []string) error {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	key := fs.String("key", "", "entry key (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *key == "" {
		return errors.New("-key is required")
	}

	ctx := context.Background()
	store, err := g.dial(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	value, found, err := store.Get(ctx, *key)
	if err != nil {
		return fmt.Errorf("get %s: %w", *key, err)
	}
	if !found {
		fmt.Println("(nil)")
		return nil
	}
	fmt.Println(value)
	return nil
}

func (g globals) runDel(args []string) error {
	fs := flag.NewFlagSet("del", flag.ContinueOnError)
	key := fs.String("key", "", "entry key (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *key == "" {
		return errors.New("-key is required")
	}

	ctx := context.Background()
	store, err := g.dial(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	deleted, err := store.Delete(ctx, *key)
	if err != nil {
		return fmt.Errorf("del %s: %w", *key, err)
	}
	if deleted {
		fmt.Println("DELETED")
	} else {
		fmt.Println("NOT_FOUND")
	}
	return nil
}

func (g globals) runAll(args []string) error {
	fs := flag.NewFlagSet("all", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	store, err := g.dial(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	keys, err := store.Keys(ctx)
	if err != nil {
		return fmt.Errorf("all: %w", err)
	}
	if len(keys) == 0 {
		fmt.Println("No keys.")
		return nil
	}
	for _, k := range keys {
		fmt.Println(k)
	}
	return nil
}

func (g globals) runPing(args []string) error {
	fs := flag.NewFlagSet("ping", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	start := time.Now()
	store, err := g.dial(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	fmt.Printf("PONG from %s in %v\n", store.Addr(), time.Since(start).Round(time.Microsecond))
	return nil
}

func (g globals) runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	stats, err := rest.New(g.cfg.Bench.AdminURL).Stats(context.Background())
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "COUNTER\tVALUE")
	_, _ = fmt.Fprintf(w, "connections_total\t%d\n", stats.ConnectionsTotal)
	_, _ = fmt.Fprintf(w, "connections_active\t%d\n", stats.ConnectionsActive)
	_, _ = fmt.Fprintf(w, "commands_total\t%d\n", stats.Commands)
	_, _ = fmt.Fprintf(w, "command_errors\t%d\n", stats.CommandErrors)
	_, _ = fmt.Fprintf(w, "swept_total\t%d\n", stats.Swept)
	_, _ = fmt.Fprintf(w, "entries\t%d\n", stats.Entries)
	return w.Flush()
}

type session struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	TTL   int64  `json:"ttl"`
}

func (g globals) runSession(args []string) error {
	fs := flag.NewFlagSet("session", flag.ContinueOnError)
	key := fs.String("key", "user:uuid:session", "session key")
	name := fs.String("name", "Troy", "session user name")
	email := fs.String("email", "troy@example.com", "session user email")
	ttl := fs.Duration("ttl", 60*time.Second, "session lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	payload, err := json.Marshal(session{Name: *name, Email: *email, TTL: int64(ttl.Seconds())})
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, err := g.dial(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	start := time.Now()
	if err := store.Set(ctx, *key, string(payload), *ttl); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Time taken to save session: %v\n", time.Since(start))

	start = time.Now()
	value, found, err := store.Get(ctx, *key)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Time taken to get session: %v\n", time.Since(start))
	if !found {
		fmt.Println("SESSION: (nil)")
		return nil
	}
	fmt.Println("SESSION:", value)
	return nil
}

// readValue takes the value from stdin. An interactive terminal gets a prompt
// and a single line; a pipe is read to EOF with one trailing newline dropped.
func readValue() (string, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) { //nolint:gosec // fd fits in int
		fmt.Fprint(os.Stderr, "value: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(string(b), "\n"), nil
}

func isFlagSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
