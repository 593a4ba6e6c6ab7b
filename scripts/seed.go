package main

import (
	"context"
	"log"
	"time"

	"github.com/go-demo/watchparty/internal/config"
	"github.com/go-demo/watchparty/internal/model"
	"github.com/go-demo/watchparty/internal/pkg/database"
	"github.com/go-demo/watchparty/internal/pkg/utils"
	"github.com/go-demo/watchparty/internal/repository"
	"github.com/go-demo/watchparty/internal/service"
	"go.uber.org/zap"
)

func main() {
	log.Println("Starting database seed...")

	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to database
	ctx := context.Background()
	logger := zap.NewNop()
	db, err := database.NewPostgres(ctx, &cfg.Database, logger)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(ctx, db, logger); err != nil {
		log.Fatalf("Failed to migrate: %v", err)
	}

	store := repository.NewRoomRepository(db)
	gate := service.NewAuthorityGate(service.OwnerOnlyPolicy{})
	locker := service.NewLocalRoomLocker(cfg.Lock.AcquireTimeout)
	membership := service.NewMembershipCoordinator(store, locker, gate, nil, nil, cfg.Retry.Backoff, logger)
	playback := service.NewPlaybackSynchronizer(store, locker, gate, nil, nil, cfg.Retry.Backoff, logger)
	session := service.NewSessionService(membership, playback, gate, cfg.Room.DefaultCapacity, cfg.Room.MaxCapacity, logger)

	jwtManager := utils.NewJWTManager(cfg.JWT.Secret, 24*time.Hour, cfg.JWT.Issuer)

	users := []string{"alice", "bob", "charlie", "diana", "evan"}

	// Dev tokens; the user ID doubles as the username
	log.Println("Issuing dev tokens (24h)...")
	for _, u := range users {
		token, expiresAt, err := jwtManager.GenerateAccessToken(u, u)
		if err != nil {
			log.Fatalf("Failed to sign token for %s: %v", u, err)
		}
		log.Printf("  %s (expires %s): %s", u, expiresAt.Format(time.RFC3339), token)
	}

	// Seed rooms
	log.Println("Creating rooms...")
	rooms := []struct {
		owner     string
		name      string
		desc      string
		isPrivate bool
		capacity  int
		viewers   []string
		media     string
		duration  float64
	}{
		{"alice", "週五電影夜", "每週五晚上一起看電影", false, 20, []string{"bob", "charlie", "diana"}, "movie-night-001", 7260},
		{"bob", "動畫同好會", "新番同步追劇", false, 10, []string{"alice", "evan"}, "anime-s01e01", 1440},
		{"charlie", "紀錄片研究室", "", true, 4, []string{"diana"}, "", 0},
	}

	for _, r := range rooms {
		room, err := session.CreateRoom(ctx, r.owner, &service.CreateRoomInput{
			Name:        r.name,
			Description: r.desc,
			IsPrivate:   r.isPrivate,
			MaxCapacity: r.capacity,
		})
		if err != nil {
			log.Printf("Failed to create room %s: %v", r.name, err)
			continue
		}

		for _, v := range r.viewers {
			if _, err := session.JoinRoom(ctx, room.ID, v); err != nil {
				log.Printf("Failed to join %s to %s: %v", v, r.name, err)
			}
		}

		if r.media != "" {
			mediaID := r.media
			duration := r.duration
			state, err := session.UpdatePlaybackState(ctx, room.ID, r.owner, model.PlaybackPatch{
				MediaID:         &mediaID,
				DurationSeconds: &duration,
			}, nil)
			if err != nil {
				log.Printf("Failed to load media into %s: %v", r.name, err)
			} else {
				log.Printf("  Loaded %s into %s (version %d)", mediaID, r.name, state.Version)
			}
		}

		log.Printf("  Created room: %s (%s)", r.name, room.ID)
	}

	log.Println("Seed completed successfully!")
}
