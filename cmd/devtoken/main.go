// Command devtoken prints an access token for local testing, signed with the
// jwt_secret of the active config.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Dialogue/internal/adapters/auth"
	"github.com/dkeye/Dialogue/internal/config"
	"github.com/dkeye/Dialogue/internal/domain"
)

func main() {
	user := flag.String("user", "", "username to put in the token")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	uid, err := domain.ParseUserID(*user)
	if err != nil {
		log.Fatal().Err(err).Msg("-user is required")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	tok, err := auth.NewJWTGate(cfg.JWTSecret).Issue(uid, *ttl)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to issue token")
	}
	fmt.Println(tok)
}
