// Command cutenet-server hosts a cutenet server: it loads a YAML config
// and key file, binds a UDP socket, and drives server.Server.Update on a
// fixed tick, the way the teacher's core/main.go boots its RakNet server
// and owns its own shutdown signal handling.
package main

import (
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ventosilenzioso/cutenet/internal/crypto"
	"github.com/ventosilenzioso/cutenet/pkg/logger"
	"github.com/ventosilenzioso/cutenet/server"
)

const version = "0.1.0"

// Config is the YAML shape loaded from --config, matching spec.md §6's
// recognized server options plus this repo's ambient-stack additions
// (metrics listen address, tick rate).
type Config struct {
	ListenAddr         string `yaml:"listen_addr"`
	MaxClients         int    `yaml:"max_clients"`
	ConnectionTimeout  int    `yaml:"connection_timeout_seconds"`
	ProtocolID         uint32 `yaml:"protocol_id"`
	ApplicationID      uint64 `yaml:"application_id"`
	SignPublicKeyHex   string `yaml:"sign_public_key"`
	SharedSecretKeyHex string `yaml:"shared_secret_key"`
	MetricsAddr        string `yaml:"metrics_addr"`
	TickMillis         int    `yaml:"tick_millis"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:        "0.0.0.0:7777",
		MaxClients:        32,
		ConnectionTimeout: 10,
		ProtocolID:        1,
		ApplicationID:     1,
		MetricsAddr:       ":9090",
		TickMillis:        20,
	}
}

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "cutenet-server",
		Short: "Run a cutenet UDP server",
		RunE:  run,
	}
	root.Flags().StringVar(&configPath, "config", "server.yaml", "path to the server's YAML config file")

	if err := root.Execute(); err != nil {
		logger.Fatal("cutenet-server: %v", err)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logger.Banner("cutenet-server", version)

	cfg := defaultConfig()
	if raw, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read config: %w", err)
	} else {
		logger.Warn("cutenet-server: no config at %s, using defaults", configPath)
	}

	signPK, err := decodeSignPublicKey(cfg.SignPublicKeyHex)
	if err != nil {
		return fmt.Errorf("sign_public_key: %w", err)
	}
	sharedKey, err := decodeKey(cfg.SharedSecretKeyHex)
	if err != nil {
		return fmt.Errorf("shared_secret_key: %w", err)
	}

	laddr, err := net.ResolveUDPAddr("udp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("resolve listen_addr: %w", err)
	}

	crypto.Init()
	prov := crypto.New()

	serverCfg := server.DefaultConfig()
	serverCfg.Protocol.MaxClients = cfg.MaxClients
	serverCfg.Protocol.ConnectionTimeout = time.Duration(cfg.ConnectionTimeout) * time.Second
	serverCfg.Protocol.ProtocolID = cfg.ProtocolID
	serverCfg.Protocol.ApplicationID = cfg.ApplicationID
	serverCfg.Protocol.SignPublicKey = signPK
	serverCfg.Protocol.SharedSecretKey = sharedKey

	reg := prometheus.NewRegistry()
	srv, err := server.New(serverCfg, laddr, prov, reg)
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logger.Warn("cutenet-server: metrics listener stopped: %v", err)
			}
		}()
		logger.Fields{"addr": cfg.MetricsAddr}.Info("cutenet-server: metrics exposed")
	}

	logger.Fields{
		"listen_addr": cfg.ListenAddr,
		"max_clients": cfg.MaxClients,
		"protocol_id": cfg.ProtocolID,
	}.Success("cutenet-server: started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	tick := time.Duration(cfg.TickMillis) * time.Millisecond
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			srv.Update(now)
		case sig := <-sigChan:
			logger.Warn("cutenet-server: received signal %v, shutting down", sig)
			srv.Stop()
			logger.Success("cutenet-server: stopped")
			return nil
		}
	}
}

func decodeKey(s string) (crypto.Key, error) {
	var k crypto.Key
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, err
	}
	if len(b) != crypto.KeySize {
		return k, fmt.Errorf("want %d bytes, got %d", crypto.KeySize, len(b))
	}
	copy(k[:], b)
	return k, nil
}

func decodeSignPublicKey(s string) (crypto.SignPublicKey, error) {
	var k crypto.SignPublicKey
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, err
	}
	if len(b) != crypto.SignPublicSize {
		return k, fmt.Errorf("want %d bytes, got %d", crypto.SignPublicSize, len(b))
	}
	copy(k[:], b)
	return k, nil
}
