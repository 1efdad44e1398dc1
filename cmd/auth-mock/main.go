package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/Clark-Hu/bitebox/internal/authmock"
)

type seedAccount struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func main() {
	var (
		port     = pflag.StringP("port", "p", "9999", "port to listen on")
		secret   = pflag.String("jwt-secret", "dev-secret", "HS256 secret shared with the app (AUTH_JWT_SECRET)")
		apiKey   = pflag.String("api-key", "", "required apikey header; empty disables the check")
		tokenTTL = pflag.Duration("token-ttl", time.Hour, "access token lifetime")
		seed     = pflag.String("seed", "", "JSON file with [{\"email\",\"password\"}] accounts to create")
		verbose  = pflag.BoolP("verbose", "v", false, "enable debug logging")
	)
	pflag.Parse()

	logger := zap.NewNop()
	if *verbose {
		var err error
		if logger, err = zap.NewDevelopment(); err != nil {
			log.Fatalf("init logger: %v", err)
		}
	}

	mock := authmock.New(*secret, *apiKey, *tokenTTL, logger)

	if *seed != "" {
		file, err := os.ReadFile(*seed)
		if err != nil {
			log.Fatalf("read seed file: %v", err)
		}
		var accounts []seedAccount
		if err := json.Unmarshal(file, &accounts); err != nil {
			log.Fatalf("parse seed file: %v", err)
		}
		for _, acct := range accounts {
			user, err := mock.AddUser(acct.Email, acct.Password)
			if err != nil {
				log.Fatalf("seed %s: %v", acct.Email, err)
			}
			log.Printf("seeded %s (id %s)", acct.Email, user.ID)
		}
	}

	addr := ":" + *port
	log.Printf("mock auth service listening on %s", addr)
	if err := http.ListenAndServe(addr, mock); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
