package main

import (
	"time"

	"github.com/cppla/mediavault/catalog"
	"github.com/cppla/mediavault/config"
	"github.com/cppla/mediavault/media"
	"github.com/cppla/mediavault/models"
	"github.com/cppla/mediavault/routes"
	"github.com/cppla/mediavault/storage"
	"github.com/cppla/mediavault/utils"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}

	db := config.InitDatabase(&models.User{}, &models.MediaEntry{})

	store, err := storage.NewDiskStore(cfg.StoragePath)
	if err != nil {
		utils.Sugar.Fatalf("storage init failed: %v", err)
	}

	cat := catalog.New(db)
	svc := media.NewService(store, cat, cfg.MaxStorageBytes(), utils.Sugar)

	// Background catalog/blob consistency checks (best-effort)
	svc.StartSweeper(10 * time.Minute)

	r := routes.SetupRouter(db, cat, svc)

	utils.Sugar.Infof("Starting server on port %s (graceful)", cfg.AppPort)
	if err := utils.GraceServer(":"+cfg.AppPort, r); err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}
