package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/urfave/cli"

	"github.com/hashlattice/platform/internal/addressbook"
	"github.com/hashlattice/platform/internal/conf"
	"github.com/hashlattice/platform/internal/event"
	"github.com/hashlattice/platform/internal/log"
	"github.com/hashlattice/platform/internal/node"
)

// noOpAppState is the default application-state trait used when the node
// is run without a configured transaction processor: it accepts every
// event without touching any ledger state, a headless posture for nodes
// run without a services directory.
type noOpAppState struct{}

func (noOpAppState) HandlePreConsensus(ev *event.Event) error {
	log.TX("pre-consensus").Info().Int("creator_id", ev.CreatorID).Uint64("creator_seq", ev.CreatorSeq).Msg("event applied pre-consensus")
	return nil
}

func (noOpAppState) HandleConsensus(ev *event.Event) error {
	log.TX("consensus").Info().Int("creator_id", ev.CreatorID).Uint64("creator_seq", ev.CreatorSeq).Msg("event reached consensus")
	return nil
}

func main() {
	app := cli.NewApp()

	app.Name = "hashgraph-node"
	app.Usage = "a permissioned gossip-and-consensus node"
	app.Version = "0.1.0"

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "listen, l",
			Value: "0.0.0.0:3000",
			Usage: "Listen for peers on `ADDRESS`.",
		},
		cli.IntFlag{
			Name:  "self-id, id",
			Usage: "This node's member id in the address book `ID`.",
		},
		cli.StringFlag{
			Name:  "addressbook, ab",
			Usage: "Path to the address book `FILE`.",
		},
		cli.StringFlag{
			Name:  "config, c",
			Usage: "Path to a configuration `FILE`.",
		},
		cli.StringFlag{
			Name:  "tls-cert",
			Usage: "Path to the TLS certificate `FILE`.",
		},
		cli.StringFlag{
			Name:  "tls-key",
			Usage: "Path to the TLS private key `FILE`.",
		},
		cli.BoolFlag{
			Name:  "pretty",
			Usage: "Use human-readable console log output instead of JSON.",
		},
	}

	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	log.Init(c.Bool("pretty"), zerolog.InfoLevel)

	cfg, err := conf.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	book, err := loadAddressBook(c.String("addressbook"))
	if err != nil {
		return fmt.Errorf("load address book: %w", err)
	}

	selfID := c.Int("self-id")

	tlsCfg, err := loadTLSConfig(c.String("tls-cert"), c.String("tls-key"))
	if err != nil {
		return fmt.Errorf("load TLS config: %w", err)
	}

	n := node.New(cfg, selfID, book, tlsCfg, noOpAppState{})

	stop := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sig
		log.Node().Info().Msg("shutting down")
		close(stop)
	}()

	return n.Run(c.String("listen"), stop)
}

func loadAddressBook(path string) (*addressbook.Book, error) {
	if path == "" {
		return addressbook.New(nil)
	}
	return addressbook.LoadFile(path)
}

func loadTLSConfig(certPath, keyPath string) (*tls.Config, error) {
	if certPath == "" || keyPath == "" {
		return &tls.Config{InsecureSkipVerify: true}, nil
	}

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, err
	}

	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}
