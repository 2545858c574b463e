package importer

import "errors"

var (
	// ErrUnknownImporter is returned for names nothing registered.
	ErrUnknownImporter = errors.New("unknown importer")

	// ErrRunInProgress is returned when the importer is already running.
	ErrRunInProgress = errors.New("import already running")

	// ErrNothingToImport is returned when the selected kinds are not
	// supported by the importer.
	ErrNothingToImport = errors.New("importer supports none of the selected kinds")

	ErrNoRunner = errors.New("environment has no runner")
)
