// nettool is the remote administration console for a running lockstep
// server. With arguments it runs one command and exits; without, it reads
// commands from stdin.
//
//	nettool -server example.org:13353 -password secret clients
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/lockstep/internal/cli"
	"github.com/energizer-project/lockstep/internal/config"
	"github.com/energizer-project/lockstep/internal/util"
)

func main() {
	server := flag.String("server", "127.0.0.1", "server address, host or host:port")
	password := flag.String("password", os.Getenv("LOCKSTEP_ADMIN_PASSWORD"), "admin password")
	nickname := flag.String("nick", "nettool", "nickname shown in the client list")
	timeout := flag.Duration("timeout", 10*time.Second, "how long to wait for each answer")
	verbose := flag.Bool("v", false, "log network activity")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	util.SetOutput(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	if err := run(*server, *password, *nickname, *timeout, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "nettool: %v\n", err)
		os.Exit(1)
	}
}

func run(server, password, nickname string, timeout time.Duration, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := cli.Dial(ctx, config.DefaultConfig().Network, server, nickname, timeout)
	if err != nil {
		return err
	}
	defer session.Close()

	if password != "" {
		if err := session.Login(password); err != nil {
			return fmt.Errorf("login: %w", err)
		}
	}

	console := cli.New(session, os.Stdout)
	if len(args) > 0 {
		err := console.Execute(args)
		if errors.Is(err, cli.ErrShutdown) {
			fmt.Println("Server is shutting down")
			return nil
		}
		return err
	}
	return console.Start(ctx, os.Stdin)
}
