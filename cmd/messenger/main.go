package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Avanquish/DoughNation-sub002/internal/auth"
	"github.com/Avanquish/DoughNation-sub002/internal/bus"
	"github.com/Avanquish/DoughNation-sub002/internal/config"
	"github.com/Avanquish/DoughNation-sub002/internal/database"
	"github.com/Avanquish/DoughNation-sub002/internal/donation"
	"github.com/Avanquish/DoughNation-sub002/internal/logger"
	"github.com/Avanquish/DoughNation-sub002/internal/messenger"
	"github.com/Avanquish/DoughNation-sub002/internal/protocol"
	"github.com/Avanquish/DoughNation-sub002/internal/transport"
)

func main() {
	// The terminal belongs to the conversation, so logs only go to the file.
	logFile, err := os.OpenFile("messenger.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer logFile.Close()
	logger.SetOutput(logFile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.ApplyLogLevel(); err != nil {
		log.Fatalf("Invalid LOG_LEVEL: %v", err)
	}

	token := cfg.SessionToken
	if len(os.Args) > 1 {
		token = os.Args[1]
	}
	if token == "" {
		fmt.Fprintln(os.Stderr, "no session: set SESSION_TOKEN or pass a token as the first argument")
		os.Exit(2)
	}
	identity, err := auth.DecodeIdentity(token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid session token: %v\n", err)
		os.Exit(2)
	}

	storage, err := database.NewStorage(cfg.StorageDriver, cfg.StorageDSN)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer storage.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := bus.New()
	events.Subscribe(bus.Notice, func(detail any) {
		if n, ok := detail.(bus.NoticeDetail); ok {
			fmt.Fprintf(os.Stdout, "! %s\n", n.Message)
		}
	})
	events.Subscribe(bus.DonationAcceptedEvent, func(detail any) {
		if d, ok := detail.(bus.AcceptedDetail); ok {
			fmt.Fprintf(os.Stdout, "* donation %s accepted\n", d.DonationID)
		}
	})
	events.Subscribe(bus.DonationCancelled, func(detail any) {
		if d, ok := detail.(bus.CancelDetail); ok {
			fmt.Fprintf(os.Stdout, "* donation %s cancelled\n", d.DonationID)
		}
	})

	var m *messenger.Messenger
	ch := transport.New(transport.Options{
		URL:        cfg.WSURL,
		RetryDelay: cfg.ReconnectDelay,
		OutboxSize: cfg.OutboxSize,
		OnFrame:    func(f protocol.Frame) { m.HandleFrame(f) },
		OnState:    func(s transport.State) { m.HandleState(s) },
	})
	defer ch.Close()

	m, err = messenger.New(ctx, messenger.Options{
		Identity:       identity,
		Link:           ch,
		Storage:        storage,
		Donations:      donation.NewHTTPClient(cfg.APIURL, token),
		Bus:            events,
		TypingDebounce: cfg.TypingDebounce,
	})
	if err != nil {
		log.Fatalf("Failed to start messenger: %v", err)
	}
	defer m.Close()

	r := newRenderer(os.Stdout)
	m.OnChange(r.update)

	if err := ch.Connect(ctx, identity, token); err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}

	fmt.Printf("signed in as %s (%s, id %s); /help lists commands\n", identity.Name, identity.Role, identity.ID)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	sh := &shell{s: m, out: os.Stdout}
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			quit, err := sh.exec(ctx, line)
			if err != nil {
				fmt.Fprintf(os.Stdout, "! %v\n", err)
			}
			if quit {
				return
			}
		}
	}
}
