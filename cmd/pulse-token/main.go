// Command pulse-token mints a signed access token for local development and
// manual websocket testing.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/pulsehq/pulse/auth"
)

func main() {
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "signing secret (defaults to JWT_SECRET)")
	issuer := flag.String("issuer", "pulse", "token issuer")
	userID := flag.String("user", "", "user id (random when empty)")
	email := flag.String("email", "dev@example.com", "email claim")
	name := flag.String("name", "Dev User", "name claim")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	if *secret == "" {
		fmt.Fprintln(os.Stderr, "a signing secret is required (-secret or JWT_SECRET)")
		os.Exit(1)
	}

	id := uuid.New()
	if *userID != "" {
		parsed, err := uuid.Parse(*userID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid user id: %v\n", err)
			os.Exit(1)
		}
		id = parsed
	}

	svc := auth.NewService(auth.Config{Secret: *secret, Issuer: *issuer, TokenTTL: *ttl}, nil, nil)
	token, err := svc.IssueToken(auth.Identity{UserID: id, Email: *email, Name: *name})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to issue token: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("user_id: %s\n", id)
	fmt.Println(token)
}
