package service

import (
	"errors"

	"botcloud/internal/keeper"
	"botcloud/internal/models"
	"botcloud/internal/stager"
)

var (
	ErrArtifactMissing = errors.New("deployment files not found")
	ErrInvalidIdentity = errors.New("invalid bot identity")
	ErrInvalidManifest = errors.New("invalid bot manifest")
	ErrClosed          = errors.New("orchestrator closed")
	ErrInternal        = errors.New("internal error")
)

// Component errors re-exported so handlers depend on one package.
var (
	ErrInvalidSource       = models.ErrInvalidSource
	ErrSourceUnavailable   = stager.ErrSourceUnavailable
	ErrSourceTooLarge      = stager.ErrSourceTooLarge
	ErrExtractionFailed    = stager.ErrExtractionFailed
	ErrInstallFailed       = keeper.ErrInstallFailed
	ErrProcessLaunchFailed = keeper.ErrProcessLaunchFailed
	ErrBusy                = keeper.ErrBusy
)
