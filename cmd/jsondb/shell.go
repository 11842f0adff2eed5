package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/peterh/liner"
)

// Registered here rather than in the commands literal, which cmdShell reads.
func init() {
	commands["shell"] = cmdShell
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".jsondb_history")
}

// cmdShell runs commands interactively against the open database.
func cmdShell(ctx context.Context, e *env, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("shell: unexpected arguments: %s", strings.Join(args, " "))
	}

	l := liner.NewLiner()
	defer l.Close()
	l.SetCtrlCAborts(true)
	l.SetCompleter(complete)

	if f, err := os.Open(historyFile()); err == nil {
		l.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if path := historyFile(); path != "" {
			if f, err := os.Create(path); err == nil {
				l.WriteHistory(f)
				f.Close()
			}
		}
	}()

	for ctx.Err() == nil {
		line, err := l.Prompt("jsondb> ")
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("shell: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		l.AppendHistory(line)

		if quit, err := shellLine(ctx, e, line); err != nil {
			fmt.Fprintf(e.stdout, "error: %v\n", err)
		} else if quit {
			return nil
		}
	}
	return ctx.Err()
}

// shellLine runs one shell line. It reports whether the shell should exit.
func shellLine(ctx context.Context, e *env, line string) (bool, error) {
	parts, err := splitArgs(line)
	if err != nil || len(parts) == 0 {
		return false, err
	}
	switch parts[0] {
	case "exit", "quit", "q":
		return true, nil
	case "help", "?":
		fmt.Fprintln(e.stdout, "commands:", strings.Join(commandNames(), " "), "exit")
		return false, nil
	case "shell", "restore", "backup":
		// Binary streams and nesting make no sense at a prompt.
		return false, fmt.Errorf("%s is not available in the shell", parts[0])
	}
	cmd, ok := commands[parts[0]]
	if !ok {
		return false, fmt.Errorf("unknown command: %s", parts[0])
	}
	return false, cmd(ctx, e, parts[1:])
}

func commandNames() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func complete(line string) []string {
	var out []string
	for _, name := range append(commandNames(), "help", "exit") {
		if strings.HasPrefix(name, line) {
			out = append(out, name)
		}
	}
	return out
}

// splitArgs splits a shell line into words. Single and double quotes group
// words, so conditions can be written as '{"op":"eq",...}'; a backslash
// escapes the next character outside single quotes.
func splitArgs(line string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)
	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\' && quote != '\'':
			escaped, inWord = true, true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote, inWord = r, true
		case r == ' ' || r == '\t':
			if inWord {
				args = append(args, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if quote != 0 || escaped {
		return nil, errors.New("unterminated quote or escape")
	}
	if inWord {
		args = append(args, cur.String())
	}
	return args, nil
}
