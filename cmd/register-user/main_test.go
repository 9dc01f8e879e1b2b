package main

import (
	"bytes"
	"context"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colinjlacy/knapscen-register-users/internal/registration/application"
	"github.com/colinjlacy/knapscen-register-users/internal/registration/infra/outbound/db/sqlite"
)

// seedDB crea una base SQLite en disco con TechCorp y el rol de owner.
func seedDB(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "knapscen.db")

	db, err := sqlite.Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, sqlite.InitSQLite(ctx, db))
	db.MustExecContext(ctx, `INSERT INTO corporate_customers (id, name) VALUES (?, 'TechCorp')`, uuid.NewString())
	db.MustExecContext(ctx, `INSERT INTO user_roles (id, role_name) VALUES (?, 'customer_account_owner')`, uuid.NewString())
	return path
}

func envFor(dbPath string, extra ...string) []string {
	return append([]string{
		"USER_NAME=Jane Smith",
		"USER_EMAIL=jane.smith@techcorp.com",
		"CUSTOMER_NAME=TechCorp",
		"ROLE_NAME=customer_account_owner",
		"DB_DRIVER=sqlite",
		"SQLITE_PATH=" + dbPath,
		"BROKER_KIND=memory",
		"NATS_STREAM=user-events",
		"NATS_SUBJECT=users.registered",
		"LOG_LEVEL=error",
	}, extra...)
}

var successLine = regexp.MustCompile(`^User registered successfully with ID: [0-9a-f-]{36}\n$`)

func TestRun_RegistersUser(t *testing.T) {
	path := seedDB(t)
	var stdout, stderr bytes.Buffer

	code := run(context.Background(), envFor(path, "USER_ATTR_DEPARTMENT=Engineering"), &stdout, &stderr)

	assert.Equal(t, application.ExitOK, code, stderr.String())
	assert.Regexp(t, successLine, stdout.String())
}

func TestRun_DuplicateEmailIsStoreError(t *testing.T) {
	path := seedDB(t)
	var stdout, stderr bytes.Buffer

	require.Equal(t, application.ExitOK, run(context.Background(), envFor(path), &stdout, &stderr))

	stdout.Reset()
	code := run(context.Background(), envFor(path), &stdout, &stderr)

	assert.Equal(t, application.ExitStore, code)
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "already registered")
}

func TestRun_UnknownCustomer(t *testing.T) {
	path := seedDB(t)
	var stdout, stderr bytes.Buffer

	code := run(context.Background(), envFor(path, "CUSTOMER_NAME=Initech"), &stdout, &stderr)

	assert.Equal(t, application.ExitResolution, code)
	assert.Contains(t, stderr.String(), "Initech")
}

func TestRun_RepublishAfterRegistration(t *testing.T) {
	path := seedDB(t)
	var stdout, stderr bytes.Buffer

	require.Equal(t, application.ExitOK, run(context.Background(), envFor(path), &stdout, &stderr))
	registered := stdout.String()

	stdout.Reset()
	code := run(context.Background(), envFor(path, "REGISTRATION_MODE=republish"), &stdout, &stderr)

	assert.Equal(t, application.ExitOK, code, stderr.String())
	assert.Contains(t, stdout.String(), "republished")
	// Mismo usuario: el id publicado es el del registro original.
	assert.Equal(t, registered[len(registered)-37:], stdout.String()[len(stdout.String())-37:])
}

func TestRun_RepublishUnknownUser(t *testing.T) {
	path := seedDB(t)
	var stdout, stderr bytes.Buffer

	code := run(context.Background(), envFor(path, "REGISTRATION_MODE=republish"), &stdout, &stderr)

	assert.Equal(t, application.ExitResolution, code)
	assert.Contains(t, stderr.String(), "user not found")
}

func TestRun_ConfigurationError(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := run(context.Background(), []string{"USER_NAME=Jane"}, &stdout, &stderr)

	assert.Equal(t, application.ExitConfiguration, code)
	assert.Contains(t, stderr.String(), "user email is required")
	assert.Empty(t, stdout.String())
}

func TestRun_StoreUnavailable(t *testing.T) {
	var stdout, stderr bytes.Buffer

	env := envFor(filepath.Join(t.TempDir(), "missing", "dir", "knapscen.db"))
	code := run(context.Background(), env, &stdout, &stderr)

	assert.Equal(t, application.ExitStore, code)
}
