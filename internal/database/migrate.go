package database

import (
	"context"
	"time"

	"github.com/sandeepkv93/gov-coordination-portal/internal/domain"
	"github.com/sandeepkv93/gov-coordination-portal/internal/observability"

	"gorm.io/gorm"
)

// Models lists every table managed by Migrate, in dependency order.
func Models() []any {
	return []any{
		&domain.Role{},
		&domain.Account{},
	}
}

func Migrate(db *gorm.DB) error {
	start := time.Now()
	defer func() {
		observability.RecordDatabaseStartupDuration(context.Background(), "migrate", time.Since(start))
	}()
	if err := db.AutoMigrate(Models()...); err != nil {
		observability.RecordDatabaseStartupEvent(context.Background(), "migrate", "error")
		return err
	}
	observability.RecordDatabaseStartupEvent(context.Background(), "migrate", "success")
	return nil
}

type TableStatus struct {
	Table   string `json:"table"`
	Present bool   `json:"present"`
}

// Status reports which managed tables exist. It never mutates the schema.
func Status(db *gorm.DB) ([]TableStatus, error) {
	out := make([]TableStatus, 0, len(Models()))
	for _, m := range Models() {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(m); err != nil {
			return nil, err
		}
		out = append(out, TableStatus{Table: stmt.Schema.Table, Present: db.Migrator().HasTable(m)})
	}
	return out, nil
}
