// Package logging provides a process-wide structured logger for the page
// storage core.
//
// The cache, the stream pools and the disk facades obtain their [log/slog]
// loggers from here, so one Init call decides level, encoding and
// destination for the whole core.
//
// # Initialisation
//
// Call Init (or InitDefault for sensible defaults) once at program startup:
//
//	if err := logging.Init(logging.Config{Level: logging.LevelDebug, Format: logging.FormatJSON}); err != nil {
//	    log.Fatal(err)
//	}
//
// InitDefault writes WARN-level text logs to stderr. The storage core logs
// on its hot path only at DEBUG, so the default keeps it quiet.
//
// GetLogger before Init installs that default, so packages may log at any
// time. Close removes the installed logger and closes its file.
//
// # Context helpers
//
//	log := logging.WithComponent("MemoryCache")
//	log := logging.WithPage(pos, mode)   // adds position and mode fields
//	log := logging.WithFacade(kind, id)  // adds component and facade fields
package logging
