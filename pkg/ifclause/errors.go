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

package ifclause

import (
	"fmt"

	"go.trai.ch/zerr"
)

var (
	ErrSyntax         = zerr.New("invalid if-clause")
	ErrTypeMismatch   = zerr.New("type mismatch in if-clause")
	ErrMissingKconfig = zerr.New("missing kconfig option")
	ErrMissingFact    = zerr.New("missing build fact")
)

func syntaxError(src string, pos int, msg string) error {
	return zerr.With(zerr.With(zerr.Wrap(ErrSyntax, fmt.Sprintf("%s at position %d in %q", msg, pos, src)), "clause", src), "position", pos)
}

func typeMismatch(format string, a ...interface{}) error {
	return zerr.Wrap(ErrTypeMismatch, fmt.Sprintf(format, a...))
}

// MissingKconfigError is returned when a clause refers to a configuration
// option that isn't present in the configuration map.
//
// During resolution the containing rule is treated as not applicable.
type MissingKconfigError struct {
	Name string
}

func (e *MissingKconfigError) Error() string {
	return fmt.Sprintf("kconfig option %q is not set", e.Name)
}

func (e *MissingKconfigError) Is(target error) bool {
	return target == ErrMissingKconfig
}
