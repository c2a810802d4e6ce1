// Copyright (C) 2021 Toitware ApS.
//
// This library is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; version
// 2.1 only.
//
// This library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// The license can be found in the file `LICENSE` in the top level
// directory of this repository.

package compman

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
)

// UI allows this package to interact with the user.
//
// This package will report user-facing errors (like invalid manifests)
// through this interface.
// The package might report multiple errors.
// If an action wasn't successful, then the package reports the error and
// then returns ErrAlreadyReported. This indicates to the caller that the
// operation failed, but that no further information needs to be printed.
type UI interface {
	// ReportError signals an error to the user.
	// The format string is compatible with fmt.Printf.
	// Returns ErrAlreadyReported.
	ReportError(format string, a ...interface{}) error

	// ReportWarning signals a warning to the user.
	ReportWarning(format string, a ...interface{})

	// ReportInfo reports interesting information.
	ReportInfo(format string, a ...interface{})
}

// logUI implements UI on top of a charmbracelet logger.
type logUI struct {
	logger *log.Logger
}

// NewLogUI returns a UI that writes through the given logger.
func NewLogUI(logger *log.Logger) UI {
	return logUI{logger: logger}
}

func (ui logUI) ReportError(format string, a ...interface{}) error {
	ui.logger.Errorf(format, a...)
	return ErrAlreadyReported
}

func (ui logUI) ReportWarning(format string, a ...interface{}) {
	ui.logger.Warnf(format, a...)
}

func (ui logUI) ReportInfo(format string, a ...interface{}) {
	ui.logger.Infof(format, a...)
}

// nullUI implements a UI that does nothing.
type nullUI struct{}

func (ui nullUI) ReportError(format string, a ...interface{}) error {
	return ErrAlreadyReported
}

func (ui nullUI) ReportWarning(format string, a ...interface{}) {
}

func (ui nullUI) ReportInfo(format string, a ...interface{}) {
}

var (
	// ErrAlreadyReported can be used to signal that an error has
	// been reported, and that no further action needs to be taken.
	// In case the error gets printed anyway, we have a sensible error message
	// instead of "already reported" or similar.
	ErrAlreadyReported = errors.New("component management error")

	// NullUI drops all messages.
	NullUI UI = nullUI{}
)

// IsErrAlreadyReported returns whether 'e' is the ErrAlreadyReported error.
func IsErrAlreadyReported(e error) bool {
	return errors.Is(e, ErrAlreadyReported)
}

// NewLogger creates the logger used by the command line tool.
func NewLogger(w io.Writer, verbose bool) *log.Logger {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: verbose,
		TimeFormat:      "15:04:05",
		Level:           level,
	})
}

// WithLogger returns a context carrying the logger for debug output.
func WithLogger(ctx context.Context, logger *log.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the logger of the context. Without one, returns a
// logger that discards everything.
func LoggerFrom(ctx context.Context) *log.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*log.Logger); ok && logger != nil {
		return logger
	}
	return discardLogger
}

var discardLogger = log.NewWithOptions(io.Discard, log.Options{})

type loggerKey struct{}

func debugf(ctx context.Context, format string, a ...interface{}) {
	LoggerFrom(ctx).Debug(fmt.Sprintf(format, a...))
}
