// termhold keeps named terminal sessions alive across stateless CLI
// invocations. Every command is a complete round trip: load config, touch
// the registry, drive the backend, print exactly one JSON envelope to
// stdout, exit. Sessions themselves persist in tmux or as detached shell
// processes, never inside this binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/termhold/termhold/internal/command"
	"github.com/termhold/termhold/internal/config"
	"github.com/termhold/termhold/internal/logging"
)

var version = "dev" // set via -ldflags at release

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg := config.Load()
	logging.Init(logging.Config{
		LogDir:     config.LogDir(),
		Level:      cfg.Logs.Level,
		MaxSizeMB:  cfg.Logs.MaxSizeMB,
		MaxBackups: cfg.Logs.MaxBackups,
	})
	defer logging.Shutdown()

	if len(args) == 0 {
		printUsage()
		return 1
	}

	verb, rest := args[0], args[1:]
	switch verb {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "version", "--version":
		fmt.Printf("termhold %s\n", version)
		return 0
	}

	d := command.NewDispatcher(cfg, config.SessionsDir())
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := dispatch(ctx, d, verb, rest)
	if err := env.Emit(os.Stdout); err != nil {
		logging.Logger().Error("failed to emit envelope", slog.Any("error", err))
		return 1
	}
	return env.ExitCode()
}

func dispatch(ctx context.Context, d *command.Dispatcher, verb string, args []string) *command.Envelope {
	switch verb {
	case "create":
		return runCreate(ctx, d, args)
	case "attach":
		return runAttach(ctx, d, args)
	case "exec":
		return runExec(d, args)
	case "read":
		return runRead(d, args)
	case "send":
		return runSend(d, args)
	case "list":
		return d.List()
	case "close":
		return runClose(d, args)
	case "close-all":
		return d.CloseAll()
	default:
		return argErr("unknown command %q (see 'termhold help')", verb)
	}
}

func runCreate(ctx context.Context, d *command.Dispatcher, args []string) *command.Envelope {
	fs := newFlagSet("create")
	backendPref := fs.String("backend", "", "backend: auto, tmux or process")
	shell := fs.String("shell", "", "shell to run in the session")
	background := fs.Bool("background", false, "create detached instead of attaching")
	name, _, env := parseVerb(fs, args, true)
	if env != nil {
		return env
	}
	return d.Create(ctx, command.CreateOpts{
		Name:       name,
		Backend:    *backendPref,
		Shell:      *shell,
		Foreground: !*background,
	})
}

func runAttach(ctx context.Context, d *command.Dispatcher, args []string) *command.Envelope {
	fs := newFlagSet("attach")
	name, _, env := parseVerb(fs, args, true)
	if env != nil {
		return env
	}
	return d.Attach(ctx, name)
}

func runExec(d *command.Dispatcher, args []string) *command.Envelope {
	fs := newFlagSet("exec")
	cmdFlag := fs.String("cmd", "", "command to run in the session")
	timeout := fs.Int("timeout", 0, "seconds to wait for completion")
	name, rest, env := parseVerb(fs, args, true)
	if env != nil {
		return env
	}
	cmdLine := *cmdFlag
	if cmdLine == "" {
		cmdLine = strings.Join(rest, " ")
	}
	if cmdLine == "" {
		return argErr("exec requires --cmd with a command to run")
	}
	return d.Exec(command.ExecOpts{
		Name:        name,
		Command:     cmdLine,
		TimeoutSecs: *timeout,
	})
}

func runRead(d *command.Dispatcher, args []string) *command.Envelope {
	cfg := config.Load()
	fs := newFlagSet("read")
	lines := fs.Int("lines", cfg.Read.Lines, "trailing lines to capture")
	maxChars := fs.Int("max-chars", cfg.Read.MaxChars, "character cap on output, 0 for unlimited")
	outFile := fs.String("output", "", "write capture to this file instead of the envelope")
	name, _, env := parseVerb(fs, args, true)
	if env != nil {
		return env
	}
	return d.Read(command.ReadOpts{
		Name:       name,
		Lines:      *lines,
		MaxChars:   *maxChars,
		OutputFile: *outFile,
	})
}

func runSend(d *command.Dispatcher, args []string) *command.Envelope {
	fs := newFlagSet("send")
	text := fs.String("text", "", "literal text to deliver verbatim")
	cfgPath := fs.String("config", "", "JSON file holding the text out of band")
	key := fs.String("key", "", "dot-separated key path into the JSON file")
	name, _, env := parseVerb(fs, args, true)
	if env != nil {
		return env
	}
	return d.Send(command.SendOpts{
		Name:       name,
		Text:       *text,
		ConfigPath: *cfgPath,
		KeyPath:    *key,
	})
}

func runClose(d *command.Dispatcher, args []string) *command.Envelope {
	fs := newFlagSet("close")
	name, _, env := parseVerb(fs, args, true)
	if env != nil {
		return env
	}
	return d.Close(name)
}

func newFlagSet(verb string) *flag.FlagSet {
	fs := flag.NewFlagSet(verb, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.String("name", "", "session name")
	return fs
}

// parseVerb parses flags wherever they appear on the line and resolves the
// session name when the verb wants one: --name is the documented spelling,
// a leading positional the convenience form. Flag errors become envelopes;
// they never reach stderr half-formatted.
func parseVerb(fs *flag.FlagSet, args []string, wantName bool) (string, []string, *command.Envelope) {
	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		return "", nil, argErr("%v", err)
	}
	rest := fs.Args()
	if !wantName {
		return "", rest, nil
	}
	if f := fs.Lookup("name"); f != nil && f.Value.String() != "" {
		return f.Value.String(), rest, nil
	}
	if len(rest) == 0 {
		return "", nil, argErr("%s requires --name", fs.Name())
	}
	return rest[0], rest[1:], nil
}

// normalizeArgs reorders a mixed argument line so flags precede positionals,
// which is what the flag package requires. "--" ends flag processing.
func normalizeArgs(fs *flag.FlagSet, args []string) []string {
	boolFlags := make(map[string]bool)
	fs.VisitAll(func(f *flag.Flag) {
		if bf, ok := f.Value.(interface{ IsBoolFlag() bool }); ok && bf.IsBoolFlag() {
			boolFlags[f.Name] = true
		}
	})

	var flags, positional []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			positional = append(positional, args[i+1:]...)
			break
		}
		if strings.HasPrefix(arg, "-") && arg != "-" {
			flags = append(flags, arg)
			name := strings.TrimLeft(arg, "-")
			if strings.Contains(name, "=") {
				continue
			}
			if !boolFlags[name] && i+1 < len(args) {
				i++
				flags = append(flags, args[i])
			}
		} else {
			positional = append(positional, arg)
		}
	}
	return append(flags, positional...)
}

func argErr(format string, args ...any) *command.Envelope {
	return &command.Envelope{
		Success: false,
		Error:   fmt.Sprintf(format, args...),
		Code:    command.CodeInvalidArguments,
	}
}

func printUsage() {
	fmt.Print(`termhold - persistent terminal sessions for stateless callers

Usage:
  termhold create --name NAME [--backend auto|tmux|process] [--shell PATH] [--background]
  termhold attach --name NAME
  termhold exec --name NAME --cmd COMMAND [--timeout SECS]
  termhold read --name NAME [--lines N] [--max-chars C] [--output FILE]
  termhold send --name NAME --text STRING
  termhold send --name NAME --config FILE --key DOTTED.PATH
  termhold list
  termhold close --name NAME
  termhold close-all
  termhold version

create attaches your terminal to the new session; pass --background to
create detached. The name may also be given positionally, and a trailing
command after -- substitutes for --cmd:
  termhold exec work -- ls -la

Every command prints a single JSON envelope to stdout. Sessions survive
between invocations; state lives in ./` + config.StoreDirName + ` and in the backend
(tmux or a detached shell process), never in this binary.

Detach from an attached session with Ctrl+Q. Detaching leaves the session
running.
`)
}
