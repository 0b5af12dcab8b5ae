package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"clinic-phone/config"
	"clinic-phone/internal/redis"
	"clinic-phone/internal/repository"
	"clinic-phone/internal/services"
	"clinic-phone/internal/store"
)

const usage = `
Clinic Phone - State CLI Tool

Usage:
  migrate [flags] [command]

Commands:
  up             Create the phone_state table (Postgres)
  status         Show Postgres connection and stored profile status
  show-state     Print the stored durable state of a profile
  clear-state    Delete the stored durable state of a profile (DANGEROUS)
  hash-password  Print a bcrypt hash for OPERATOR_PASSWORD_HASH

Flags:
  -backend string    postgres or redis (default from PERSISTENCE_BACKEND)
  -profile string    State profile (default from STATE_PROFILE)
  -password string   Password to hash for hash-password

Examples:
  go run cmd/migrate/main.go up
  go run cmd/migrate/main.go -backend redis show-state
  go run cmd/migrate/main.go -password 's3cret' hash-password
`

func main() {
	backendFlag := flag.String("backend", "", "postgres or redis")
	profileFlag := flag.String("profile", "", "state profile")
	password := flag.String("password", "", "password to hash")

	flag.Usage = func() {
		fmt.Print(usage)
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	cfg := config.LoadConfig()
	if *backendFlag != "" {
		cfg.PersistenceBackend = *backendFlag
	}
	if *profileFlag != "" {
		cfg.StateProfile = *profileFlag
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch command := flag.Arg(0); command {
	case "up":
		runUp(ctx, cfg)
	case "status":
		showStatus(ctx, cfg)
	case "show-state":
		showState(ctx, cfg)
	case "clear-state":
		clearState(ctx, cfg)
	case "hash-password":
		hashPassword(*password)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}

func postgresConfig(cfg *config.Config) repository.PostgresConfig {
	return repository.PostgresConfig{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
	}
}

func runUp(ctx context.Context, cfg *config.Config) {
	log.Println("🚀 Creating phone state schema...")

	pool, err := repository.Connect(ctx, postgresConfig(cfg))
	if err != nil {
		log.Fatalf("❌ Database connection failed: %v", err)
	}
	defer pool.Close()

	if err := repository.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}
	log.Println("✅ Schema ready")
}

func showStatus(ctx context.Context, cfg *config.Config) {
	log.Println("🔍 Checking database status...")

	pool, err := repository.Connect(ctx, postgresConfig(cfg))
	if err != nil {
		log.Fatalf("❌ Database connection failed: %v", err)
	}
	defer pool.Close()
	log.Println("✅ Database connection: OK")

	var profiles int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM phone_state`).Scan(&profiles); err != nil {
		log.Printf("❌ Table phone_state unavailable: %v", err)
		return
	}
	log.Printf("✅ Table phone_state exists (%d profiles)", profiles)
}

// openBackend returns the configured backend, a func deleting the profile
// and a close func.
func openBackend(ctx context.Context, cfg *config.Config) (store.Persistence, func() error, func()) {
	switch cfg.PersistenceBackend {
	case config.PersistenceRedis:
		client := redis.NewClient(redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redis.Ping(ctx, client, 3*time.Second); err != nil {
			log.Fatalf("❌ Redis connection failed: %v", err)
		}
		s := redis.NewStateStore(client, cfg.StateProfile)
		return s, func() error { return s.Clear(ctx) }, func() { _ = client.Close() }
	case config.PersistencePostgres:
		pool, err := repository.Connect(ctx, postgresConfig(cfg))
		if err != nil {
			log.Fatalf("❌ Database connection failed: %v", err)
		}
		r := repository.NewStateRepository(pool, cfg.StateProfile)
		return r, func() error { return r.Delete(ctx) }, pool.Close
	default:
		log.Fatalf("❌ Backend %q keeps no state outside the process", cfg.PersistenceBackend)
		return nil, nil, nil
	}
}

func showState(ctx context.Context, cfg *config.Config) {
	backend, _, closeFn := openBackend(ctx, cfg)
	defer closeFn()

	d, ok, err := backend.Load(ctx)
	if err != nil {
		log.Fatalf("❌ Load failed: %v", err)
	}
	if !ok {
		log.Printf("ℹ️  No state stored for profile %q", cfg.StateProfile)
		return
	}
	out, _ := json.MarshalIndent(d, "", "  ")
	fmt.Println(string(out))
	log.Printf("📊 %d calls in history", len(d.History))
}

func clearState(ctx context.Context, cfg *config.Config) {
	log.Printf("⚠️  WARNING: This deletes history, settings and permissions of profile %q!", cfg.StateProfile)

	_, deleteProfile, closeFn := openBackend(ctx, cfg)
	defer closeFn()

	if err := deleteProfile(); err != nil {
		log.Fatalf("❌ Clear failed: %v", err)
	}
	log.Println("✅ State cleared")
}

func hashPassword(password string) {
	if password == "" {
		log.Fatalf("❌ -password is required")
	}
	hash, err := services.HashPassword(password)
	if err != nil {
		log.Fatalf("❌ Hashing failed: %v", err)
	}
	fmt.Println(hash)
}
