// Command peer joins a shared document from the terminal.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/serroba/livedoc/internal/channel"
	"github.com/serroba/livedoc/internal/collab"
	"github.com/serroba/livedoc/internal/config"
	"github.com/serroba/livedoc/internal/discovery"
	"github.com/serroba/livedoc/internal/keeper"
	"github.com/serroba/livedoc/internal/outcome"
	"github.com/serroba/livedoc/internal/presence"
	"github.com/serroba/livedoc/internal/protocol"
	"github.com/serroba/livedoc/internal/relay"
	"github.com/serroba/livedoc/internal/sim"
	"github.com/serroba/livedoc/internal/storage"
	"github.com/spf13/pflag"
)

// demoMaxDelay is the simulated network jitter when none is configured.
const demoMaxDelay = 100 * time.Millisecond

func main() {
	flags := pflag.NewFlagSet("peer", pflag.ExitOnError)
	config.PeerFlags(flags)
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdin, os.Stdout); err != nil {
		log.Fatalf("peer error: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {
	me := presence.NewParticipant(cfg.Peer.Name)

	ch, cleanup, err := openChannel(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	var session *collab.Session

	session = collab.NewSession(collab.SessionConfig{
		DocumentID:  cfg.Peer.Document,
		Participant: me,
		Channel:     ch,
		OnStatus: func(st collab.Status) {
			fmt.Fprintf(out, "* %s\n", st)
		},
		OnUpdate: func(msg protocol.Message, o outcome.Outcome) {
			if line := describe(session, msg, o); line != "" {
				fmt.Fprintf(out, "* %s\n", line)
			}
		},
	})

	if err := session.Start(); err != nil {
		return err
	}
	defer session.Leave()

	fmt.Fprintf(out, "joined %q as %s [%s], /help for commands\n", cfg.Peer.Document, me.DisplayName, me.Avatar)

	lines := make(chan string)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}

			cmd, err := parseCommand(line)
			if err != nil {
				fmt.Fprintln(out, err)

				continue
			}

			if execute(session, cmd, out) {
				return nil
			}
		}
	}
}

// openChannel picks the transport: an in-process relay with simulated
// participants, an explicit URL, or a relay found on the local network.
func openChannel(ctx context.Context, cfg *config.Config) (channel.Channel, func(), error) {
	if cfg.Peer.Demo {
		return openDemo(ctx, cfg)
	}

	base := cfg.Peer.URL
	if base == "" {
		if !cfg.Discovery.Enabled {
			return nil, nil, errors.New("no relay: pass --url, --discover or --demo")
		}

		lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		found, err := discovery.Lookup(lookupCtx, cfg.Discovery.Service)
		if err != nil {
			return nil, nil, err
		}

		base = found
	}

	target, err := channel.DialURL(base, cfg.Peer.Document)
	if err != nil {
		return nil, nil, err
	}

	return channel.NewSocket(target, channel.SocketConfig{}), func() {}, nil
}

func openDemo(ctx context.Context, cfg *config.Config) (channel.Channel, func(), error) {
	maxDelay := cfg.Relay.MaxDelay
	if maxDelay == 0 {
		maxDelay = demoMaxDelay
	}

	rl := relay.New(relay.Config{Link: relay.NewRandomLink(maxDelay, cfg.Relay.DropRate, nil)})
	keeper.New(rl, storage.NewMemoryStore())

	crowd := sim.NewCrowd(sim.Config{
		Manager:    collab.NewManager(collab.ManagerConfig{Relay: rl, SetupDelay: cfg.Peer.SetupDelay}),
		DocumentID: cfg.Peer.Document,
		Interval:   cfg.Peer.Interval,
	})

	crowdCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)

		if err := crowd.Run(crowdCtx); err != nil {
			log.Printf("crowd stopped: %v", err)
		}
	}()

	ch := channel.NewLocal(channel.LocalConfig{
		Relay:      rl,
		Room:       cfg.Peer.Document,
		SetupDelay: cfg.Peer.SetupDelay,
	})

	return ch, func() {
		cancel()
		<-done
	}, nil
}
