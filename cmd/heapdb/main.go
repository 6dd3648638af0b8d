// Command heapdb opens a database described by a config file and inspects or modifies its tables.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/pflag"
	"mit.edu/dsg/heapdb"
	"mit.edu/dsg/heapdb/config"
)

func main() {
	fs := pflag.NewFlagSet("heapdb", pflag.ExitOnError)
	configPath := fs.StringP("config", "c", "", "path to a YAML config file")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: heapdb [--config file] [command [args...]]\n\n%s\nflags:\n", usage)
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if _, err := config.SetupLogging(cfg.Log, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	db, err := heapdb.Open(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := fs.Args()
	if len(args) == 0 || args[0] == "shell" {
		err = runShell(db)
	} else {
		err = runCommand(db, args, os.Stdout)
	}
	if closeErr := db.Close(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runShell(db *heapdb.Database) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "heapdb> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer func() { _ = rl.Close() }()

	fmt.Println("type help for help")
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			fmt.Println()
			return nil
		}
		if err != nil {
			return err
		}

		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}
		switch args[0] {
		case "quit", "exit", `\q`:
			return nil
		}
		if err := runCommand(db, args, os.Stdout); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}
