package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/lucasnoah/modelforge/internal/config"
	"github.com/lucasnoah/modelforge/internal/db"
	"github.com/lucasnoah/modelforge/internal/docker"
	"github.com/lucasnoah/modelforge/internal/orchestrator"
	"github.com/lucasnoah/modelforge/internal/staging"
)

func loadEngine() (*config.EngineConfig, error) {
	if engineConfigPath != "" {
		return config.LoadEngine(engineConfigPath)
	}
	return config.LoadEngineDefault()
}

// newOrchestrator wires an orchestrator from the engine config. The
// returned cleanup closes the archive connection, if any.
func newOrchestrator(ctx context.Context, progress io.Writer) (*orchestrator.Orchestrator, func(), error) {
	engine, err := loadEngine()
	if err != nil {
		return nil, nil, err
	}

	var archive *db.Archive
	if engine.DatabaseURL != "" {
		archive, err = db.Open(ctx, engine.DatabaseURL)
		if err != nil {
			// The archive is best-effort; an unreachable database
			// must not block compilation.
			fmt.Fprintf(os.Stderr, "warning: job archive disabled: %v\n", err)
			archive = nil
		}
	}

	o := orchestrator.New(
		engine,
		staging.NewStager(engine.StagingDir),
		docker.NewManager(engine.Images, nil),
		archive,
	)
	if verbose && progress != nil {
		o.SetProgress(progress)
	}

	cleanup := func() { _ = archive.Close() }
	return o, cleanup, nil
}
