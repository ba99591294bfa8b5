// Command cutenet-tokengen issues a connect-token blob from a YAML key
// file, standing in for the out-of-scope HTTPS token-issuance service: it
// only wraps token.Generate, never a network transport, auth flow, or
// storage layer a real issuance service would need.
package main

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ventosilenzioso/cutenet"
	"github.com/ventosilenzioso/cutenet/internal/crypto"
	"github.com/ventosilenzioso/cutenet/internal/token"
	"github.com/ventosilenzioso/cutenet/pkg/logger"
)

// KeyFile is the YAML shape a server operator keeps its long-lived keys
// in: the Ed25519 signing keypair and the shared AEAD secret sealing a
// token's private section. Never transmitted; read once at issuance time.
type KeyFile struct {
	SignPublicKeyHex   string `yaml:"sign_public_key"`
	SignSecretKeyHex   string `yaml:"sign_secret_key"`
	SharedSecretKeyHex string `yaml:"shared_secret_key"`
}

var (
	keyFilePath      string
	appID            uint64
	clientID         uint64
	servers          []string
	expireSeconds    int64
	handshakeSeconds int64
	outPath          string
)

func main() {
	root := &cobra.Command{
		Use:   "cutenet-tokengen",
		Short: "Issue a connect-token blob for a client to present to a cutenet server",
		RunE:  run,
	}
	root.Flags().StringVar(&keyFilePath, "keys", "keys.yaml", "path to the server's key file")
	root.Flags().Uint64Var(&appID, "app-id", 1, "application id the token is scoped to")
	root.Flags().Uint64Var(&clientID, "client-id", 1, "opaque client id embedded in the token")
	root.Flags().StringArrayVar(&servers, "server", nil, "candidate server endpoint (host:port), repeatable")
	root.Flags().Int64Var(&expireSeconds, "expire-seconds", 30, "seconds until the token expires")
	root.Flags().Int64Var(&handshakeSeconds, "handshake-timeout-seconds", 10, "seconds the handshake may take against one candidate")
	root.Flags().StringVar(&outPath, "out", "connect-token.bin", "output path for the 1114-byte token blob")

	var keygenOut string
	keygenCmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new signing keypair and shared secret key file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return keygen(keygenOut)
		},
	}
	keygenCmd.Flags().StringVar(&keygenOut, "out", "keys.yaml", "output path for the generated key file")
	root.AddCommand(keygenCmd)

	if err := root.Execute(); err != nil {
		logger.Fatal("cutenet-tokengen: %v", err)
	}
}

func keygen(out string) error {
	crypto.Init()
	prov := crypto.New()
	pk, sk, err := prov.GenerateSignKeypair()
	if err != nil {
		return fmt.Errorf("generate sign keypair: %w", err)
	}
	shared := prov.GenerateSymmetricKey()

	kf := KeyFile{
		SignPublicKeyHex:   hex.EncodeToString(pk[:]),
		SignSecretKeyHex:   hex.EncodeToString(sk[:]),
		SharedSecretKeyHex: hex.EncodeToString(shared[:]),
	}
	data, err := yaml.Marshal(kf)
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	logger.Fields{"out": out}.Success("cutenet-tokengen: generated key file")
	return nil
}

func run(cmd *cobra.Command, args []string) error {
	if len(servers) == 0 {
		return fmt.Errorf("at least one --server is required")
	}

	raw, err := os.ReadFile(keyFilePath)
	if err != nil {
		return fmt.Errorf("read key file: %w", err)
	}
	var kf KeyFile
	if err := yaml.Unmarshal(raw, &kf); err != nil {
		return fmt.Errorf("parse key file: %w", err)
	}
	signSK, err := decodeSignSecretKey(kf.SignSecretKeyHex)
	if err != nil {
		return fmt.Errorf("sign_secret_key: %w", err)
	}
	sharedKey, err := decodeKey(kf.SharedSecretKeyHex)
	if err != nil {
		return fmt.Errorf("shared_secret_key: %w", err)
	}

	endpoints := make([]cutenet.Endpoint, 0, len(servers))
	for _, s := range servers {
		addr, err := net.ResolveUDPAddr("udp", s)
		if err != nil {
			return fmt.Errorf("resolve %q: %w", s, err)
		}
		ep, err := cutenet.NewEndpoint(addr)
		if err != nil {
			return err
		}
		endpoints = append(endpoints, ep)
	}

	crypto.Init()
	prov := crypto.New()
	c2sKey := prov.GenerateSymmetricKey()
	s2cKey := prov.GenerateSymmetricKey()

	now := time.Now()
	var userData [token.UserDataSize]byte

	blob, err := token.Generate(
		prov,
		appID,
		now,
		c2sKey, s2cKey,
		now.Add(time.Duration(expireSeconds)*time.Second),
		time.Duration(handshakeSeconds)*time.Second,
		endpoints,
		clientID,
		userData,
		sharedKey,
		signSK,
	)
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}

	if err := os.WriteFile(outPath, blob, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", outPath, err)
	}
	logger.Fields{"client_id": clientID, "out": outPath, "servers": len(endpoints)}.Success("cutenet-tokengen: wrote connect token")
	return nil
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

func decodeSignSecretKey(s string) (crypto.SignSecretKey, error) {
	var k crypto.SignSecretKey
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, err
	}
	if len(b) != crypto.SignSecretSize {
		return k, fmt.Errorf("want %d bytes, got %d", crypto.SignSecretSize, len(b))
	}
	copy(k[:], b)
	return k, nil
}
