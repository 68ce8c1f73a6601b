// Command issue-token signs a candidate token for local testing of the
// scheduling API. With --seed it also upserts the examiner application.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	flag "github.com/spf13/pflag"

	"github.com/md-rashed-zaman/examinerops/libs/auth"
	"github.com/md-rashed-zaman/examinerops/libs/config"
	"github.com/md-rashed-zaman/examinerops/libs/db"
)

func main() {
	_ = config.LoadDotEnv()
	var (
		email    = flag.String("email", "", "candidate email")
		appID    = flag.String("application-id", "", "application uuid (generated when empty)")
		secret   = flag.String("secret", config.String("TOKEN_SECRET", ""), "HS256 signing secret")
		issuer   = flag.String("issuer", config.String("TOKEN_ISSUER", "examinerops"), "token issuer")
		audience = flag.String("audience", config.String("TOKEN_AUDIENCE", "interview-scheduling"), "token audience")
		ttl      = flag.Duration("ttl", 14*24*time.Hour, "token lifetime")
		seed     = flag.Bool("seed", false, "upsert the application into DATABASE_URL")
		status   = flag.String("status", "under_review", "application status used with --seed")
	)
	flag.Parse()

	if strings.TrimSpace(*email) == "" {
		fatal("--email is required")
	}
	id := uuid.New()
	if *appID != "" {
		parsed, err := uuid.Parse(*appID)
		if err != nil {
			fatal("invalid --application-id: " + err.Error())
		}
		id = parsed
	}

	authn, err := auth.NewHS256Authenticator(auth.HS256Config{
		Secret:   *secret,
		Issuer:   *issuer,
		Audience: *audience,
		TTL:      *ttl,
	})
	if err != nil {
		fatal(err.Error())
	}

	if *seed {
		if err := seedApplication(id, *email, *status); err != nil {
			fatal(err.Error())
		}
		fmt.Fprintf(os.Stderr, "application %s seeded with status %s\n", id, *status)
	}

	token, err := authn.Sign(auth.Identity{Email: *email, ApplicationID: id})
	if err != nil {
		fatal(err.Error())
	}
	fmt.Println(token)
}

func seedApplication(id uuid.UUID, email, status string) error {
	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.Open(ctx, dbURL, db.PoolOptions{MaxConns: 1, ApplicationName: "issue-token"})
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer pool.Close()

	_, err = pool.Exec(ctx, `
		INSERT INTO examiner_applications (id, email, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, status = EXCLUDED.status, updated_at = now()
	`, id, email, strings.ToLower(status))
	if err != nil {
		return fmt.Errorf("seed application: %w", err)
	}
	return nil
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
