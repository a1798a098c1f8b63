// walletbridged is the wallet-side session daemon: it restores persisted
// dApp sessions, accepts new connection URIs over the local HTTP facade
// and mediates signing requests between the bridge relay and the wallet
// keys.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/peerwallet-project/walletbridge/api"
	"github.com/peerwallet-project/walletbridge/bridge"
	"github.com/peerwallet-project/walletbridge/config"
	"github.com/peerwallet-project/walletbridge/logger"
	"github.com/peerwallet-project/walletbridge/manager"
	"github.com/peerwallet-project/walletbridge/signer"
	"github.com/peerwallet-project/walletbridge/store"
	"github.com/peerwallet-project/walletbridge/types"
)

var (
	listenAddr   string
	storeBackend string
	chainsPath   string
	keysPath     string
)

func main() {
	root := &cobra.Command{
		Use:   "walletbridged",
		Short: "WalletConnect-style session daemon for the wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}

	root.Flags().StringVar(&listenAddr, "listen", "", "HTTP listen address (overrides WB_LISTEN_ADDR)")
	root.Flags().StringVar(&storeBackend, "store", "", "session store backend: redis or file (overrides WB_STORE_BACKEND)")
	root.Flags().StringVar(&chainsPath, "chains", "", "chains config path (overrides WB_CHAINS_CONFIG)")
	root.Flags().StringVar(&keysPath, "keys", "", "wallet key file path (overrides WB_KEYS_FILE)")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(ctx context.Context) error {
	env, err := config.LoadEnv()
	if err != nil {
		return err
	}
	applyOverrides(env)

	log := logger.Global()
	if level, err := logger.ParseLevel(env.LogLevel); err == nil {
		log.SetLevel(level)
	}

	chains, err := config.LoadChainsConfig(env.ChainsConfigPath)
	if err != nil {
		return fmt.Errorf("chains config: %w", err)
	}

	sessionStore, err := buildStore(ctx, env)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}

	keystore, err := signer.LoadKeystore(env.KeysFile)
	if err != nil {
		return fmt.Errorf("keystore: %w", err)
	}
	signingService := signer.NewService(keystore, &signer.StaticFeeSource{}, nil, nil,
		log.WithComponent("signer"))

	validator, err := bridge.NewPayloadValidator()
	if err != nil {
		return fmt.Errorf("payload schemas: %w", err)
	}
	bridgeLog := log.WithComponent("bridge")
	factory := func(key types.SessionKey, handler bridge.Handler) (types.Transport, error) {
		return bridge.Dial(key, handler, validator, bridgeLog)
	}

	mgr := manager.New(factory, signingService, sessionStore, manager.Config{
		HandshakeTimeout: env.HandshakeTimeout,
		DefaultChainID:   chains.DefaultChainID,
		ChainID:          chains.ChainID,
		WalletMeta: &types.PeerMeta{
			Name: "walletbridge",
			URL:  "https://github.com/peerwallet-project/walletbridge",
		},
	}, log.WithComponent("manager"))

	restored, failures, err := mgr.Restore(ctx)
	if err != nil {
		log.Error("session restore failed", err)
	}
	for _, f := range failures {
		log.WithSession(f.Key.Topic).Error("session skipped during restore", f.Err)
	}
	log.Infof("serving on %s with %d restored sessions", env.ListenAddr, len(restored))

	srv := &http.Server{
		Addr:    env.ListenAddr,
		Handler: api.NewServer(mgr, log.WithComponent("api")).Handler(),
	}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func applyOverrides(env *config.EnvConfig) {
	if listenAddr != "" {
		env.ListenAddr = listenAddr
	}
	if storeBackend != "" {
		env.StoreBackend = storeBackend
	}
	if chainsPath != "" {
		env.ChainsConfigPath = chainsPath
	}
	if keysPath != "" {
		env.KeysFile = keysPath
	}
}

func buildStore(ctx context.Context, env *config.EnvConfig) (store.SessionStore, error) {
	switch env.StoreBackend {
	case "redis":
		return store.NewRedisStore(ctx, env.RedisAddr, env.RedisPassword, env.RedisDB)
	case "file":
		return store.NewFileStore(env.SessionsFile)
	default:
		return nil, fmt.Errorf("unknown store backend %q (supported: redis, file)", env.StoreBackend)
	}
}
