// Command cutenet-client is an interactive echo client: it reads a
// connect-token blob (from cutenet-tokengen), dials the server, and
// relays stdin lines as reliable messages while printing whatever the
// server sends back.
package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ventosilenzioso/cutenet/client"
	"github.com/ventosilenzioso/cutenet/internal/crypto"
	"github.com/ventosilenzioso/cutenet/internal/token"
	"github.com/ventosilenzioso/cutenet/pkg/logger"
	"github.com/ventosilenzioso/cutenet/protocol"
)

const version = "0.1.0"

var (
	tokenPath  string
	appID      uint64
	protocolID uint32
	tickMillis int
)

func main() {
	root := &cobra.Command{
		Use:   "cutenet-client",
		Short: "Connect to a cutenet server and exchange lines interactively",
		RunE:  run,
	}
	root.Flags().StringVar(&tokenPath, "token", "connect-token.bin", "path to the connect-token blob")
	root.Flags().Uint64Var(&appID, "app-id", 1, "application id the token must match")
	root.Flags().Uint32Var(&protocolID, "protocol-id", 1, "wire protocol id the server expects")
	root.Flags().IntVar(&tickMillis, "tick-millis", 20, "client update tick in milliseconds")

	if err := root.Execute(); err != nil {
		logger.Fatal("cutenet-client: %v", err)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logger.Banner("cutenet-client", version)

	blob, err := os.ReadFile(tokenPath)
	if err != nil {
		return fmt.Errorf("read connect token: %w", err)
	}
	ct, err := token.ClientReadRest(blob, appID, time.Now())
	if err != nil {
		return fmt.Errorf("connect token rejected: %w", err)
	}

	crypto.Init()
	prov := crypto.New()

	cfg := client.DefaultConfig()
	cfg.Protocol.ApplicationID = appID
	cfg.Protocol.ProtocolID = protocolID

	c, err := client.Dial(cfg, prov, ct)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(time.Duration(tickMillis) * time.Millisecond)
	defer ticker.Stop()

	reportedConnected := false
	for {
		select {
		case now := <-ticker.C:
			c.Update(now)
			state := c.State()
			if state == protocol.StateConnected && !reportedConnected {
				logger.Success("cutenet-client: connected")
				reportedConnected = true
			} else if state.Terminal() {
				logger.Error("cutenet-client: handshake ended in %s", state)
				c.Disconnect(now)
				return nil
			}
			for {
				msg, ok := c.Receive()
				if !ok {
					break
				}
				fmt.Printf("< %s\n", string(msg))
			}
		case line, ok := <-lines:
			if !ok {
				c.Disconnect(time.Now())
				return nil
			}
			if err := c.SendReliable(time.Now(), []byte(line)); err != nil {
				logger.Warn("cutenet-client: send failed: %v", err)
			}
		case sig := <-sigChan:
			logger.Warn("cutenet-client: received signal %v, disconnecting", sig)
			c.Disconnect(time.Now())
			return nil
		}
	}
}
