// Package testhelpers provides utilities for testing medsearch components.
package testhelpers

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/ekaya-inc/medsearch/pkg/config"
	"github.com/ekaya-inc/medsearch/pkg/database"
)

// PostgresImage is the PostgreSQL image used for integration tests.
const PostgresImage = "postgres:16-alpine"

const (
	testUser     = "medsearch"
	testPassword = "test_password"
	adminDB      = "postgres"
	medsearchDB  = "medsearch_test"
)

// TestDB holds a shared test database container and a pool on its
// administrative database.
type TestDB struct {
	Container testcontainers.Container
	Pool      *pgxpool.Pool
	ConnStr   string
	host      string
	port      string
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error
)

// GetTestDB returns a shared PostgreSQL container for integration tests.
// The container is created once and reused across all tests in the run.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})

	if sharedTestDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedTestDBErr)
	}

	return sharedTestDB
}

// DatabaseURL returns a connection URL for dbName on the shared container.
func (d *TestDB) DatabaseURL(user, password, dbName string) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, d.host, d.port, dbName)
}

// SuperuserURL returns a superuser connection URL for dbName.
func (d *TestDB) SuperuserURL(dbName string) string {
	return d.DatabaseURL(testUser, testPassword, dbName)
}

func (d *TestDB) databaseConfig(dbName string) (*config.DatabaseConfig, error) {
	port, err := strconv.Atoi(d.port)
	if err != nil {
		return nil, fmt.Errorf("invalid container port %q: %w", d.port, err)
	}
	return &config.DatabaseConfig{
		Host:            d.host,
		Port:            port,
		User:            testUser,
		Password:        testPassword,
		Database:        dbName,
		SSLMode:         "disable",
		MaxConnections:  10,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}, nil
}

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       adminDB,
			"POSTGRES_USER":     testUser,
			"POSTGRES_PASSWORD": testPassword,
		},
		// The entrypoint restarts the server once after initdb.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	testDB := &TestDB{Container: container, host: host, port: port.Port()}
	testDB.ConnStr = testDB.SuperuserURL(adminDB)

	pool, err := pgxpool.New(ctx, testDB.ConnStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection with retry
	for i := 0; i < 10; i++ {
		if err := pool.Ping(ctx); err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}

	testDB.Pool = pool
	return testDB, nil
}

// MedsearchDB holds a database with the medsearch schema applied.
// Use this for testing repositories and services against a real database.
type MedsearchDB struct {
	DB      *database.DB
	ConnStr string
}

var (
	sharedMedsearchDB     *MedsearchDB
	sharedMedsearchDBOnce sync.Once
	sharedMedsearchDBErr  error
)

// GetMedsearchDB returns a shared database with migrations applied.
// Tests that need an empty catalog should call Reset.
func GetMedsearchDB(t *testing.T) *MedsearchDB {
	t.Helper()

	testDB := GetTestDB(t)

	sharedMedsearchDBOnce.Do(func() {
		sharedMedsearchDB, sharedMedsearchDBErr = setupMedsearchDB(testDB)
	})

	if sharedMedsearchDBErr != nil {
		t.Fatalf("Failed to setup medsearch database: %v", sharedMedsearchDBErr)
	}

	return sharedMedsearchDB
}

// MigrationsDir returns the absolute path of the repository's migrations directory.
func MigrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}

func setupMedsearchDB(testDB *TestDB) (*MedsearchDB, error) {
	ctx := context.Background()

	if _, err := testDB.Pool.Exec(ctx, "CREATE DATABASE "+medsearchDB); err != nil {
		return nil, fmt.Errorf("failed to create medsearch database: %w", err)
	}

	dbCfg, err := testDB.databaseConfig(medsearchDB)
	if err != nil {
		return nil, err
	}
	connStr := dbCfg.ConnectionString()

	// Run migrations using database/sql (required by golang-migrate)
	sqlDB, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open sql connection: %w", err)
	}
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, MigrationsDir(), zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	db, err := database.NewConnection(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to medsearch database: %w", err)
	}

	return &MedsearchDB{
		DB:      db,
		ConnStr: connStr,
	}, nil
}

// Reset empties every catalog table and restarts identities.
func (m *MedsearchDB) Reset(t *testing.T) {
	t.Helper()

	_, err := m.DB.Pool.Exec(context.Background(), `
		TRUNCATE spl_data_issues, spl_parsing_issues, med_organization_map,
		         meds, organizations, med_forms, spls
		RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatalf("Failed to reset medsearch database: %v", err)
	}
}
