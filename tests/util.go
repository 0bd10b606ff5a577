// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/trezcool/roofest/core"
	"github.com/trezcool/roofest/core/loyalty"
	"github.com/trezcool/roofest/core/pricing"
	"github.com/trezcool/roofest/core/project"
	"github.com/trezcool/roofest/core/user"
	"github.com/trezcool/roofest/storage/database"
)

// PrepareDB returns a migrated sqlite database in a temp dir, closed at the end of the test.
func PrepareDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "roofest.db"))
	if err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := database.Migrate(context.Background(), db); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	return db
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	role string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		ID:        core.NewID(),
		Name:      name,
		Username:  uname,
		Email:     email,
		Role:      role,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

func CreateClient(t *testing.T, repo loyalty.Repository, name string, cur pricing.Currency, tz string, tier loyalty.Tier) loyalty.Client {
	t.Helper()
	now := time.Now().UTC()
	c, err := repo.CreateClient(context.Background(), loyalty.Client{
		ID:              core.NewID(),
		Name:            name,
		Email:           fmt.Sprintf("%s@clients.test", core.CleanString(name, true /* lower */)),
		Currency:        cur,
		TimeZone:        tz,
		LoyaltyTier:     tier,
		CashbackBalance: decimal.Zero,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		t.Fatalf("CreateClient() failed: %v", err)
	}
	return c
}

func CreateProject(t *testing.T, repo project.Repository, clientID, name, planType string, qty int) project.Project {
	t.Helper()
	now := time.Now().UTC()
	p, err := repo.CreateProject(context.Background(), project.Project{
		ID:             core.NewID(),
		ClientID:       clientID,
		Name:           name,
		PlanType:       planType,
		Qty:            qty,
		EstimateStatus: project.StatusRequested,
		EstimateSent:   []time.Time{},
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		t.Fatalf("CreateProject() failed: %v", err)
	}
	return p
}

// Logger records log entries for assertions.
type Logger struct {
	mu      sync.Mutex
	Entries []LogEntry
}

type LogEntry struct {
	Level string
	Msg   string
	Args  []interface{}
}

var _ core.Logger = (*Logger)(nil) // interface compliance check

func (l *Logger) log(level, msg string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Entries = append(l.Entries, LogEntry{Level: level, Msg: msg, Args: args})
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.log("debug", msg, args) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log("info", msg, args) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log("warn", msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log("error", msg, args) }
func (l *Logger) Fatal(msg string, args ...interface{}) { l.log("fatal", msg, args) }

// Messages returns the logged messages at `level`.
func (l *Logger) Messages(level string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var msgs []string
	for _, e := range l.Entries {
		if e.Level == level {
			msgs = append(msgs, e.Msg)
		}
	}
	return msgs
}
