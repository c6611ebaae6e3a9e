package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"tenantauth.org/internal/auth"
	"tenantauth.org/internal/client"
)

// smoke exercises a running server end to end: health, admin login, org and
// user provisioning, tenant isolation and revocation by deletion.
func main() {
	logger := logrus.New()

	baseURL := envOr("TENANTAUTH_URL", "http://localhost:8000")
	grpcAddr := envOr("TENANTAUTH_GRPC_ADDR", "localhost:9090")
	adminUser := envOr("INITIAL_ADMIN_USERNAME", "admin")
	adminPass := os.Getenv("INITIAL_ADMIN_PASSWORD")
	if adminPass == "" {
		logger.Fatal("INITIAL_ADMIN_PASSWORD is required")
	}

	ctx, cancel := client.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	hc, err := client.DialHealth(ctx, grpcAddr)
	if err != nil {
		logger.WithError(err).Fatalf("dial grpc at %s", grpcAddr)
	}
	defer hc.Close()
	if ok, err := hc.Serving(ctx, ""); err != nil || !ok {
		logger.Fatalf("grpc health: serving=%v err=%v", ok, err)
	}

	c := client.New(baseURL, nil)
	tok, err := c.Login(ctx, adminUser, adminPass)
	if err != nil {
		logger.WithError(err).Fatal("admin login")
	}
	admin := c.WithToken(tok.AccessToken)

	suffix := rand.New(rand.NewSource(time.Now().UnixNano())).Intn(1_000_000)
	orgA := fmt.Sprintf("smoke-a-%d", suffix)
	orgB := fmt.Sprintf("smoke-b-%d", suffix)
	editor := fmt.Sprintf("smoke-editor-%d", suffix)
	const editorPass = "smoke-pass"

	for _, org := range []string{orgA, orgB} {
		if _, err := admin.CreateOrganization(ctx, org, org); err != nil {
			logger.WithError(err).Fatalf("create org %s", org)
		}
	}
	if err := admin.CreateUser(ctx, orgA, editor, editorPass, "editor"); err != nil {
		logger.WithError(err).Fatal("create editor")
	}

	etok, err := c.Login(ctx, editor, editorPass)
	if err != nil {
		logger.WithError(err).Fatal("editor login")
	}
	ed := c.WithToken(etok.AccessToken)
	if _, err := ed.ListUsers(ctx, orgB); !errors.Is(err, auth.ErrPermissionDenied) {
		logger.Fatalf("tenant isolation: expected permission denied, got %v", err)
	}
	if err := ed.CreateUser(ctx, orgA, editor+"-admin", editorPass, "admin"); !errors.Is(err, auth.ErrPermissionDenied) {
		logger.Fatalf("role escalation: expected permission denied, got %v", err)
	}

	if err := admin.DeleteUser(ctx, orgA, editor); err != nil {
		logger.WithError(err).Fatal("delete editor")
	}
	if _, err := ed.ListOrganizations(ctx); !errors.Is(err, auth.ErrInvalidCredential) {
		logger.Fatalf("revocation: expected invalid credential, got %v", err)
	}

	fmt.Printf("tenantauth smoke test passed: orgs=%s,%s\n", orgA, orgB)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
