package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/planpoker/backend/internal/models"
	"github.com/planpoker/backend/pkg/client"
)

// poker is a terminal client for estimation sessions. It drives the same
// synchronization core a UI would: a session store fed by the realtime
// channel, with optimistic local writes.
//
//	poker -server http://localhost:8080 create [-options "1, 2, 3, 5, 8"]
//	poker -server http://localhost:8080 join -session <id> -name <name>

const defaultOptions = "0.5, 1, 2, 3, 5, 8, 13"

type stderrNotifier struct{}

func (stderrNotifier) Show(text string) { fmt.Fprintln(os.Stderr, "! "+text) }
func (stderrNotifier) Hide()            {}

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "backend base URL")
	flag.Parse()

	logger := newLogger()
	defer logger.Sync()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: poker [-server URL] create|join [args]")
		os.Exit(2)
	}

	backend := client.NewHTTPBackend(*serverURL, nil)
	wsURL := strings.Replace(strings.Replace(*serverURL, "https://", "wss://", 1), "http://", "ws://", 1) + "/ws"

	var err error
	switch flag.Arg(0) {
	case "create":
		err = runCreate(backend, flag.Args()[1:])
	case "join":
		err = runJoin(backend, wsURL, logger, flag.Args()[1:])
	default:
		err = fmt.Errorf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}
	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	return logger
}

func runCreate(backend client.Backend, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	options := fs.String("options", defaultOptions, "comma-separated estimate options")
	fs.Parse(args)

	if err := models.ValidateEstimateOptions(*options); err != nil {
		return err
	}
	sess, err := backend.CreateSession(context.Background(), *options)
	if err != nil {
		return err
	}
	fmt.Println("session created:", sess.ID)
	fmt.Println("share the link token, then: poker join -session", sess.ID, "-name <name>")
	return nil
}

func runJoin(backend client.Backend, wsURL string, logger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("join", flag.ExitOnError)
	sessionID := fs.String("session", "", "session id")
	name := fs.String("name", "", "participant name (3-15 characters)")
	participantID := fs.String("participant", "", "saved participant id to resume as")
	fs.Parse(args)

	if *sessionID == "" {
		return errors.New("-session is required")
	}

	store := client.NewStore(backend, client.NewWSChannelFactory(wsURL, logger), stderrNotifier{}, logger)
	defer store.Teardown()

	ctx := context.Background()
	if err := store.Initialize(ctx, *sessionID, *participantID); err != nil {
		if errors.Is(err, client.ErrSessionNotFound) {
			return fmt.Errorf("no session with id %s", *sessionID)
		}
		return err
	}

	if store.NeedsParticipant() {
		if *name == "" {
			return errors.New("-name is required to join a session for the first time")
		}
		p, err := store.Join(ctx, *name)
		if err != nil {
			return err
		}
		fmt.Println("joined as", p.Name, "(resume with -participant", p.ID.String()+")")
	}

	go renderUpdates(store)

	fmt.Println("commands: estimate <n> | observe | reveal [description] | restart | results | quit")
	return repl(ctx, store)
}

// renderUpdates prints a board snapshot on every store change.
func renderUpdates(store *client.Store) {
	updates := store.Updates()
	for range updates {
		sess, err := store.Session()
		if err != nil {
			return
		}
		fmt.Println("--------")
		if sess.AverageEstimate != nil {
			fmt.Printf("average: %.1f\n", *sess.AverageEstimate)
		} else {
			fmt.Println("estimation in progress")
		}
		for _, p := range store.PresentParticipants() {
			marker := " "
			if p.IsObserver {
				marker = "o"
			} else if p.Estimate != nil {
				if sess.AverageEstimate != nil {
					marker = strconv.FormatFloat(*p.Estimate, 'f', -1, 64)
				} else {
					marker = "*"
				}
			}
			fmt.Printf("  [%s] %s\n", marker, p.Name)
		}
	}
}

func repl(ctx context.Context, store *client.Store) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		var err error
		switch fields[0] {
		case "estimate":
			if len(fields) < 2 {
				fmt.Println("usage: estimate <n>")
				continue
			}
			var v float64
			v, err = strconv.ParseFloat(fields[1], 64)
			if err == nil {
				err = store.SelectEstimate(ctx, v)
			}
		case "observe":
			err = store.ToggleObserver(ctx)
		case "reveal":
			err = store.RevealAverage(ctx, strings.Join(fields[1:], " "))
		case "restart":
			err = store.RestartEstimation(ctx)
		case "results":
			if err = store.RefreshResults(ctx); err == nil {
				for _, r := range store.Results() {
					fmt.Printf("  %.1f  %s  (%s, %s)\n",
						r.AverageEstimate, r.Description, r.GeneratedBy,
						r.CreatedAt.Format("2006-01-02 15:04"))
				}
			}
		case "quit", "exit":
			return nil
		default:
			fmt.Println("commands: estimate <n> | observe | reveal [description] | restart | results | quit")
			continue
		}
		switch {
		case errors.Is(err, client.ErrNoEstimates):
			fmt.Println("nothing to reveal yet")
		case errors.Is(err, client.ErrEstimateConflict):
			// notifier already reported it
		case err != nil:
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}
	return scanner.Err()
}
