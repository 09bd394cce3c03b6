package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/civicsetu/civicauth"
	"github.com/civicsetu/civicauth/gateway"
	"github.com/civicsetu/civicauth/httpapi"
	promexport "github.com/civicsetu/civicauth/metrics/export/prometheus"
	"github.com/civicsetu/civicauth/userstore"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := run(log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(log *zap.Logger) error {
	redisURL := mustEnv(log, "REDIS_URL")
	gatewayURL := mustEnv(log, "GATEWAY_URL")
	host := envOr("HOST", "0.0.0.0")
	port := envOr("PORT", "8080")

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return err
	}
	redisClient := redis.NewClient(opt)
	defer redisClient.Close()

	cfg, err := configFromEnv()
	if err != nil {
		return err
	}

	engine, err := civicauth.New().
		WithConfig(cfg).
		WithRedis(redisClient).
		WithUserProvider(userstore.New(redisClient)).
		WithProfileStore(gateway.NewProfileStore(gatewayURL, nil)).
		WithCodeSender(gateway.NewCodeSender(gatewayURL, nil)).
		WithAuditSink(civicauth.NewJSONWriterSink(os.Stdout)).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	api := httpapi.NewServer(engine, log)
	server := &http.Server{
		Addr:              host + ":" + port,
		Handler:           api.Routes(promexport.Handler(engine)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		errc <- server.ListenAndServe()
	}()
	log.Info("listening", zap.String("addr", server.Addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	log.Info("shutdown complete")
	return nil
}

func configFromEnv() (civicauth.Config, error) {
	cfg := civicauth.DefaultConfig()

	method := envOr("JWT_SIGNING_METHOD", "ed25519")
	cfg.JWT.SigningMethod = method

	switch method {
	case "hs256":
		secret, ok := os.LookupEnv("JWT_SECRET")
		if !ok {
			return civicauth.Config{}, errors.New("JWT_SECRET not set")
		}
		cfg.JWT.PrivateKey = []byte(secret)
	default:
		priv, err := readKeyFile("JWT_PRIVATE_KEY_FILE")
		if err != nil {
			return civicauth.Config{}, err
		}
		pub, err := readKeyFile("JWT_PUBLIC_KEY_FILE")
		if err != nil {
			return civicauth.Config{}, err
		}
		cfg.JWT.PrivateKey = priv
		cfg.JWT.PublicKey = pub
	}

	return cfg, nil
}

func readKeyFile(envName string) ([]byte, error) {
	path, ok := os.LookupEnv(envName)
	if !ok {
		return nil, errors.New(envName + " not set")
	}
	return os.ReadFile(path)
}

func mustEnv(log *zap.Logger, name string) string {
	value, ok := os.LookupEnv(name)
	if !ok {
		log.Fatal("missing required environment variable", zap.String("name", name))
	}
	return value
}

func envOr(name, fallback string) string {
	if value, ok := os.LookupEnv(name); ok {
		return value
	}
	return fallback
}
