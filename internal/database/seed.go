package database

import (
	"context"
	"strings"
	"time"

	"github.com/sandeepkv93/gov-coordination-portal/internal/domain"
	"github.com/sandeepkv93/gov-coordination-portal/internal/observability"

	"gorm.io/gorm"
)

var roleDescriptions = map[string]string{
	"admin":               "Portal administrator",
	"agriculture_officer": "Agriculture sector officer",
	"health_officer":      "Health sector officer",
	"education_officer":   "Education sector officer",
}

type SeedReport struct {
	CreatedRoles  int  `json:"created_roles"`
	ExistingRoles int  `json:"existing_roles"`
	Noop          bool `json:"noop"`
}

// SeedRoles creates any missing role by name. Existing rows are left untouched.
func SeedRoles(db *gorm.DB, names []string) (*SeedReport, error) {
	start := time.Now()
	defer func() {
		observability.RecordDatabaseStartupDuration(context.Background(), "seed", time.Since(start))
	}()

	report := &SeedReport{}
	for _, raw := range names {
		name := strings.TrimSpace(strings.ToLower(raw))
		if name == "" {
			continue
		}
		role := domain.Role{Name: name, Description: roleDescriptions[name]}
		res := db.Where("name = ?", name).FirstOrCreate(&role)
		if res.Error != nil {
			observability.RecordDatabaseStartupEvent(context.Background(), "seed", "error")
			return nil, res.Error
		}
		if res.RowsAffected > 0 {
			report.CreatedRoles++
		} else {
			report.ExistingRoles++
		}
	}
	report.Noop = report.CreatedRoles == 0
	observability.RecordDatabaseStartupEvent(context.Background(), "seed", "success")
	return report, nil
}
