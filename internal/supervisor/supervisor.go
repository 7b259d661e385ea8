// Package supervisor owns the process-level lifecycle: starting the
// coordinator's round loop, waiting for an OS shutdown signal or a fatal
// coordinator error, and returning the exit code cmd/federationd should
// use. It also owns the messenger for the process lifetime, since
// spec.md §9 notes the transport context is process-wide rather than
// owned by any one round.
package supervisor

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/opacey/elements-federation/internal/coordinator"
	"github.com/opacey/elements-federation/internal/messenger"
)

// ExitCode mirrors the orderly-vs-fatal distinction spec.md's lifecycle
// section draws between a requested shutdown and an unrecoverable fault.
type ExitCode int

const (
	ExitOK    ExitCode = 0
	ExitFatal ExitCode = 1
)

// Supervisor runs a Coordinator to completion, reacting to SIGINT/SIGTERM
// with an orderly stop and to the coordinator's own termination as a
// fatal condition.
type Supervisor struct {
	coord  *coordinator.Coordinator
	msgr   messenger.Messenger
	logger *log.Logger
}

// New builds a Supervisor over an already-constructed Coordinator and the
// Messenger it shares the process with.
func New(coord *coordinator.Coordinator, msgr messenger.Messenger) *Supervisor {
	return &Supervisor{
		coord:  coord,
		msgr:   msgr,
		logger: log.New(os.Stdout, "SUPERVISOR: ", log.Ldate|log.Ltime|log.Lshortfile),
	}
}

// Run starts the coordinator and blocks until an OS shutdown signal
// arrives or the coordinator exits on its own, returning the process exit
// code the caller should use.
func (s *Supervisor) Run() ExitCode {
	if err := s.coord.Start(); err != nil {
		s.logger.Printf("failed to start coordinator: %v", err)
		return ExitFatal
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		s.logger.Printf("received signal %s, shutting down...", sig)
		return s.shutdown()
	case <-s.coord.Done():
		// The round loop exited without being asked to: spec.md §4.6 treats
		// this as an unhandled fault the supervisor must surface.
		fatal := s.coord.FatalErr()
		if fatal != nil {
			s.logger.Printf("coordinator exited unexpectedly: %v", fatal)
		}
		s.shutdown()
		if fatal != nil {
			return ExitFatal
		}
		return ExitOK
	}
}

// shutdown stops the coordinator and closes the messenger, in that order,
// so no new round starts publishing after the transport begins tearing
// down.
func (s *Supervisor) shutdown() ExitCode {
	if err := s.coord.Stop(); err != nil {
		s.logger.Printf("coordinator stop: %v", err)
	}
	if err := s.msgr.Close(); err != nil {
		s.logger.Printf("messenger close: %v", err)
		return ExitFatal
	}
	s.logger.Println("shutdown complete")
	return ExitOK
}

// FatalError formats an error for a top-level log.Fatal-style exit,
// matching the teacher's log.Fatalf convention for unrecoverable startup
// failures (config validation, RPC construction, etc.) before the
// coordinator is ever started.
func FatalError(component string, err error) error {
	return fmt.Errorf("%s: %w", component, err)
}
