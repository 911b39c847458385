package app

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/selfnet/selfd/infrastructure/config"
	"github.com/selfnet/selfd/infrastructure/db/archive"
	"github.com/selfnet/selfd/infrastructure/logger"
	"github.com/selfnet/selfd/infrastructure/os/signal"
	"github.com/selfnet/selfd/util/panics"
	"github.com/selfnet/selfd/util/profiling"
	"github.com/selfnet/selfd/version"
)

const archiveDirname = "archive"

type selfdApp struct {
	cfg *config.Config
}

// StartApp starts the selfd app, and blocks until it finishes running
func StartApp() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	defer logger.BackendLog.Close()
	defer panics.HandlePanic(log, "MAIN", nil)

	app := &selfdApp{cfg: cfg}
	return app.main()
}

func (app *selfdApp) main() error {
	err := logger.InitLog(filepath.Join(app.cfg.LogDir, config.DefaultLogFilename),
		filepath.Join(app.cfg.LogDir, config.DefaultErrLogFilename))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}

	// Show version at startup.
	log.Infof("Version %s", version.Version())
	log.Infof("Chain %d, GOMAXPROCS %d", app.cfg.Params.ChainID, runtime.GOMAXPROCS(0))

	// Enable http profiling server if requested.
	if app.cfg.Profile != "" {
		profileServer := profiling.Start(app.cfg.Profile, log)
		defer profileServer.Close()
	}

	interrupt := signal.InterruptListener()

	db, err := openArchive(app.cfg)
	if err != nil {
		log.Errorf("Loading archive failed: %+v", err)
		return err
	}
	defer func() {
		log.Infof("Gracefully shutting down the archive...")
		err := db.Close()
		if err != nil {
			log.Errorf("Failed to close the archive: %s", err)
		}
	}()

	// Return now if an interrupt signal was triggered.
	if signal.InterruptRequested(interrupt) {
		return nil
	}

	componentManager, err := NewComponentManager(app.cfg, db)
	if err != nil {
		log.Errorf("Unable to start selfd: %+v", err)
		return err
	}

	defer func() {
		log.Infof("Gracefully shutting down selfd...")
		componentManager.Stop()
		log.Infof("Selfd shutdown complete")
	}()

	componentManager.Start()

	<-interrupt
	return nil
}

func openArchive(cfg *config.Config) (*archive.Archive, error) {
	archivePath := filepath.Join(cfg.DataDir, archiveDirname)
	versionExists, err := checkArchiveVersion(archivePath)
	if err != nil {
		return nil, err
	}
	log.Infof("Loading archive from '%s'", archivePath)
	db, err := archive.Open(archivePath)
	if err != nil {
		return nil, err
	}
	if !versionExists {
		err := createArchiveVersionFile(archivePath)
		if err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}
