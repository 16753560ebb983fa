package repo

import (
	"log"

	"github.com/Kmccabe/bTree-sub000/internal/config"
	"github.com/Kmccabe/bTree-sub000/internal/model"
	"github.com/Kmccabe/bTree-sub000/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var DB *gorm.DB

// InitDB opens the archive ledger database. An empty DSN disables the
// archive entirely; coordinator state never touches this database.
func InitDB() {
	conf := config.GlobalConfig.Archive
	if conf.DSN == "" {
		logger.Log.Info("archive disabled, no DSN configured")
		return
	}

	var dialector gorm.Dialector
	switch conf.Driver {
	case "postgres":
		dialector = postgres.Open(conf.DSN)
	default:
		dialector = sqlite.Open(conf.DSN)
	}

	var err error
	DB, err = gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		logger.Log.Fatal("Failed to connect to archive database", zap.Error(err))
	}

	err = DB.AutoMigrate(
		&model.ExperimentRecord{},
		&model.PayoutRecord{},
	)
	if err != nil {
		log.Fatalf("Failed to migrate archive database: %v", err)
	}
}
