package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/mediguard/mediguard-platform/internal/app/bootstrap"
	appconfig "github.com/mediguard/mediguard-platform/internal/config"
	"github.com/mediguard/mediguard-platform/internal/records"
	"github.com/mediguard/mediguard-platform/pkg/logging"
)

// DirectoryFile is the seed format: a list of doctors to publish.
type DirectoryFile struct {
	Doctors []records.DoctorInput `json:"doctors"`
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./scripts/seed-doctors <doctors.json>")
		fmt.Println("Example: go run ./scripts/seed-doctors testdata/doctors.json")
		os.Exit(1)
	}
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	ctx := context.Background()

	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		logger.Error("read seed file", "error", err)
		os.Exit(1)
	}
	var file DirectoryFile
	if err := json.Unmarshal(data, &file); err != nil {
		logger.Error("parse seed file", "error", err)
		os.Exit(1)
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	docs, err := bootstrap.BuildDocStore(ctx, cfg, redisClient, logger)
	if err != nil {
		logger.Error("open document store", "error", err)
		os.Exit(1)
	}
	defer docs.Close()
	if docs.Backend == bootstrap.BackendMemory {
		logger.Warn("seeding the memory backend only lasts for this process")
	}

	added, skipped, err := seed(ctx, records.NewRepository(docs.Store, logger), file.Doctors)
	if err != nil {
		logger.Error("seed doctors", "error", err, "added", added)
		os.Exit(1)
	}
	logger.Info("doctor directory seeded", "added", added, "skipped", skipped)
}

// seed adds every doctor whose name is not already listed.
func seed(ctx context.Context, repo *records.Repository, doctors []records.DoctorInput) (added, skipped int, err error) {
	existing, err := repo.Doctors(ctx)
	if err != nil {
		return 0, 0, err
	}
	seen := make(map[string]bool, len(existing))
	for _, d := range existing {
		seen[strings.ToLower(d.Name)] = true
	}
	for _, in := range doctors {
		key := strings.ToLower(strings.TrimSpace(in.Name))
		if seen[key] {
			skipped++
			continue
		}
		if _, err := repo.AddDoctor(ctx, in); err != nil {
			return added, skipped, fmt.Errorf("add %q: %w", in.Name, err)
		}
		seen[key] = true
		added++
	}
	return added, skipped, nil
}
