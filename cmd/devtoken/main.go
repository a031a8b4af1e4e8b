// Command devtoken prints a signed bearer token for local testing.
package main

import (
	"fmt"
	"os"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/whisper/dm-gateway/internal/identity"
)

type Config struct {
	JWTSecret string `env:"JWT_SECRET,required=true"`
	JWTIssuer string `env:"JWT_ISSUER,default=whisper"`
}

func main() {
	envFile := pflag.String("env-file", "", "load variables from this dotenv file first")
	userID := pflag.StringP("user", "u", "", "user id (random when empty)")
	ttl := pflag.Duration("ttl", 24*time.Hour, "token lifetime")
	pflag.Parse()

	if err := run(*envFile, *userID, *ttl); err != nil {
		fmt.Fprintf(os.Stderr, "devtoken: %v\n", err)
		os.Exit(1)
	}
}

func run(envFile, userID string, ttl time.Duration) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return err
		}
	}
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return err
	}
	if userID == "" {
		userID = uuid.NewString()
	}

	auth := identity.NewJWTAuthenticator([]byte(cfg.JWTSecret), cfg.JWTIssuer)
	token, err := auth.SignToken(userID, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "user: %s\n", userID)
	fmt.Println(token)
	return nil
}
