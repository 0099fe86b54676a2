package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"transit-sync/internal/cli"

	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("key", pflag.ContinueOnError)
	var (
		userID = fs.String("user-id", "", "Entity id of the user (subject)")
		role   = fs.String("role", "PASSENGER", "User role: PASSENGER | DRIVER | ADMIN")
		secret = fs.String("secret", os.Getenv("TRANSIT_SYNC_JWT_SECRET"), "JWT HMAC secret (HS256)")
		ttl    = fs.Duration("ttl", 2*time.Hour, "Token lifetime")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	if *userID == "" || *secret == "" {
		fmt.Fprintln(os.Stderr, "usage: key --user-id=<id> --role=DRIVER --secret='<secret>' [--ttl=2h]")
		os.Exit(2)
	}

	token, claims, err := cli.GenerateUserToken(*secret, *ttl, *userID, *role)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	fmt.Println("TOKEN:")
	fmt.Println(token)
	fmt.Println("\nCLAIMS:")
	fmt.Printf("  sub:  %s\n", claims.Subject)
	fmt.Printf("  role: %s\n", claims.Role)
	fmt.Printf("  iat:  %s\n", claims.IssuedAt.Time.UTC().Format(time.RFC3339))
	fmt.Printf("  exp:  %s\n", claims.ExpiresAt.Time.UTC().Format(time.RFC3339))
}
