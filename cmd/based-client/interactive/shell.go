// Package interactive provides the interactive shell of based-client.
package interactive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"
	"github.com/tidwall/jsonc"

	"github.com/based-protocol/based-go/pkg/client"
	"github.com/based-protocol/based-go/pkg/connection"
)

// commandTimeout bounds get, call and auth commands.
const commandTimeout = 30 * time.Second

// Engine is the part of the client the shell drives.
type Engine interface {
	State() connection.State
	Observe(name, payload string, cb client.ObserveFunc) (client.SubID, error)
	Unobserve(id client.SubID) error
	Fetch(ctx context.Context, name, payload string) ([]byte, error)
	Call(ctx context.Context, name, payload string) ([]byte, error)
	Authenticate(ctx context.Context, state string) (string, error)
	SaveCache() error
}

// Shell reads commands from the terminal and runs them against an Engine.
type Shell struct {
	rl  *readline.Instance
	out io.Writer

	mu   sync.Mutex
	subs map[client.SubID]string
}

// New creates a shell on the process terminal.
func New() (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "based> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	s := newShell(rl.Stdout())
	s.rl = rl
	return s, nil
}

func newShell(out io.Writer) *Shell {
	return &Shell{out: out, subs: make(map[client.SubID]string)}
}

// Stdout returns a writer that coordinates with the readline prompt.
func (s *Shell) Stdout() io.Writer {
	return s.rl.Stdout()
}

// Run reads commands until quit, EOF or ctx is done. It calls cancel on
// quit so the caller can shut down.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc, e Engine) {
	defer s.rl.Close()

	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}

		if !s.exec(ctx, e, line) {
			cancel()
			return
		}
	}
}

// exec runs one command line. It returns false when the shell should exit.
func (s *Shell) exec(ctx context.Context, e Engine, line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return true
	}

	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])
	args := strings.TrimSpace(strings.TrimPrefix(input, parts[0]))

	switch cmd {
	case "help", "?":
		s.printHelp()

	case "observe", "o":
		s.cmdObserve(e, args)

	case "unobserve", "u":
		s.cmdUnobserve(e, args)

	case "subs", "ls":
		s.cmdSubs()

	case "get", "g":
		s.cmdGet(ctx, e, args)

	case "call", "c":
		s.cmdCall(ctx, e, args)

	case "auth":
		s.cmdAuth(ctx, e, args)

	case "save":
		if err := e.SaveCache(); err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
			break
		}
		fmt.Fprintln(s.out, "Cache saved")

	case "status":
		fmt.Fprintf(s.out, "State: %s\n", e.State())
		fmt.Fprintf(s.out, "Subscriptions: %d\n", len(s.subscriptions()))

	case "quit", "exit", "q":
		fmt.Fprintln(s.out, "Exiting...")
		return false

	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

func (s *Shell) cmdObserve(e Engine, args string) {
	name, payload, err := parseRequest(args)
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	label := requestLabel(name, payload)
	id, err := e.Observe(name, payload, func(value []byte, sum uint64, err error) {
		if err != nil {
			fmt.Fprintf(s.out, "[%s] error: %v\n", label, err)
			return
		}
		fmt.Fprintf(s.out, "[%s] %s (checksum %016x)\n", label, value, sum)
	})
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}

	s.mu.Lock()
	s.subs[id] = label
	s.mu.Unlock()
	fmt.Fprintf(s.out, "Subscribed %d: %s\n", id, label)
}

func (s *Shell) cmdUnobserve(e Engine, args string) {
	n, err := strconv.ParseUint(strings.TrimSpace(args), 10, 32)
	if err != nil {
		fmt.Fprintln(s.out, "Usage: unobserve <sub-id>")
		return
	}
	id := client.SubID(n)
	if err := e.Unobserve(id); err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}

	s.mu.Lock()
	delete(s.subs, id)
	s.mu.Unlock()
	fmt.Fprintf(s.out, "Unsubscribed %d\n", id)
}

func (s *Shell) cmdSubs() {
	subs := s.subscriptions()
	if len(subs) == 0 {
		fmt.Fprintln(s.out, "No subscriptions")
		return
	}
	for _, line := range subs {
		fmt.Fprintln(s.out, line)
	}
}

func (s *Shell) cmdGet(ctx context.Context, e Engine, args string) {
	name, payload, err := parseRequest(args)
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	value, err := e.Fetch(ctx, name, payload)
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "%s\n", value)
}

func (s *Shell) cmdCall(ctx context.Context, e Engine, args string) {
	name, payload, err := parseRequest(args)
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	result, err := e.Call(ctx, name, payload)
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "%s\n", result)
}

func (s *Shell) cmdAuth(ctx context.Context, e Engine, args string) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	state, err := e.Authenticate(ctx, args)
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "Auth state: %s\n", state)
}

// subscriptions returns "id: label" lines sorted by id.
func (s *Shell) subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]client.SubID, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, fmt.Sprintf("%d: %s", id, s.subs[id]))
	}
	return out
}

// parseRequest splits "<name> [payload]" and normalises the payload.
// The payload may be JSONC: comments and trailing commas are stripped.
func parseRequest(args string) (name, payload string, err error) {
	args = strings.TrimSpace(args)
	if args == "" {
		return "", "", errors.New("missing name")
	}
	name, rest, _ := strings.Cut(args, " ")
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return name, "", nil
	}

	normalized := jsonc.ToJSON([]byte(rest))
	if !json.Valid(normalized) {
		return "", "", fmt.Errorf("payload is not valid JSON: %s", rest)
	}
	return name, string(normalized), nil
}

func requestLabel(name, payload string) string {
	if payload == "" {
		return name
	}
	return name + " " + payload
}

func (s *Shell) printHelp() {
	fmt.Fprint(s.out, `
Commands:
  observe, o <name> [payload]   Subscribe and print every update
  unobserve, u <sub-id>         Cancel a subscription
  subs, ls                      List subscriptions
  get, g <name> [payload]       Fetch a value once
  call, c <name> [payload]      Call a function
  auth [state]                  Send auth state (empty clears it)
  save                          Write the cache to -cache-file
  status                        Show connection state
  help, ?                       Show this help
  quit, exit, q                 Exit

Payloads are JSON; comments and trailing commas are accepted.
`)
}
