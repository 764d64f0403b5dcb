// mint-token issues device bearer tokens for employee handhelds and
// checkpoint scanners. The signing secret defaults to AUTH_JWT_SECRET.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/spec-kit/checkpoint-service/internal/auth"
	"github.com/spec-kit/checkpoint-service/internal/domain"
)

func main() {
	_ = godotenv.Load()
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	var (
		subject    string
		role       string
		secret     string
		ttlMinutes int
	)

	flagSet := pflag.NewFlagSet("mint-token", pflag.ContinueOnError)
	flagSet.SetOutput(out)
	flagSet.StringVar(&subject, "subject", "", "subject id carried in the token (employee or scanner id)")
	flagSet.StringVar(&role, "role", string(domain.RoleEmployee), "device role: employee or scanner")
	flagSet.StringVar(&secret, "secret", os.Getenv("AUTH_JWT_SECRET"), "HMAC secret shared with the API")
	flagSet.IntVar(&ttlMinutes, "ttl-minutes", 60*12, "token lifetime in minutes")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if subject == "" {
		return errors.New("--subject is required")
	}
	if secret == "" {
		return errors.New("--secret or AUTH_JWT_SECRET is required")
	}
	deviceRole := domain.DeviceRole(role)
	if !deviceRole.Valid() {
		return fmt.Errorf("unknown role %q", role)
	}

	token, expiresAt, err := auth.NewTokenManager(secret, ttlMinutes).GenerateToken(subject, deviceRole)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s\nexpires_at=%s\n", token, expiresAt.UTC().Format(time.RFC3339))
	return nil
}
