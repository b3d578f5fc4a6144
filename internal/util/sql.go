package util

import (
	"context"
	"database/sql"
	"net/url"
	"strings"

	"github.com/shopmonkeyus/go-common/logger"
)

// SQLExecuter wraps a database connection behind a closure that either
// executes statements or, in dry-run mode, logs them without touching the
// database.
func SQLExecuter(ctx context.Context, log logger.Logger, db *sql.DB, dryRun bool) func(sql string) error {
	if dryRun {
		return func(sql string) error {
			log.Info("[dry-run] %s", sql)
			return nil
		}
	}
	return func(sql string) error {
		log.Debug("executing: %s", strings.TrimRight(sql, "\n"))
		_, err := db.ExecContext(ctx, sql)
		return err
	}
}

// ToUserPass returns the user:pass credential portion of a URL.
func ToUserPass(u *url.URL) string {
	if u.User == nil {
		return ""
	}
	var dsn strings.Builder
	dsn.WriteString(u.User.Username())
	if pass, ok := u.User.Password(); ok {
		dsn.WriteString(":")
		dsn.WriteString(pass)
	}
	return dsn.String()
}
