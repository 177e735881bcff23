package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/adapters/mtproto"
	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/adapters/repo"
	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/infra/config"
	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/infra/db"
)

func main() {
	var (
		filePath    string
		sessionName string
	)
	flag.StringVar(&filePath, "file", "", "Path to MTProto session file (gotd JSON or Telethon format)")
	flag.StringVar(&sessionName, "name", "monitor", "Name of the MTProto session")
	flag.Parse()

	if filePath == "" {
		log.Fatal().Msg("session-importer: path to session file is required (-file)")
	}

	sessionData, err := os.ReadFile(filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("session-importer: failed to read session file")
	}
	normalized, converted, err := mtproto.NormalizeSessionBytes(sessionData)
	if err != nil {
		log.Fatal().Err(err).Msg("session-importer: unsupported MTProto session format")
	}

	cfg := config.Load()
	if cfg.PGDSN == "" {
		log.Fatal().Msg("session-importer: PG_DSN environment variable is required")
	}

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("session-importer: failed to connect to database")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := repoAdapter.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("session-importer: schema migration failed")
	}
	if err := repoAdapter.StoreMTProtoSession(ctx, sessionName, normalized); err != nil {
		log.Fatal().Err(err).Msg("session-importer: failed to store session in database")
	}

	if converted {
		fmt.Println("Session was converted to gotd JSON format before storing")
	}
	fmt.Printf("Stored MTProto session %q (%d bytes) in database\n", sessionName, len(normalized))
}
