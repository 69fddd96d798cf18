// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// ID identifies a registered plugin for the lifetime of its record.
type ID string

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// NewID generates a new plugin ID.
func NewID() ID {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ID(ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String())
}

// ParseID parses a plugin ID string.
func ParseID(s string) (ID, error) {
	id, err := ulid.Parse(s)
	if err != nil {
		return "", oops.Code(CodeNotFound).With("plugin", s).Wrapf(err, "invalid plugin ID %q", s)
	}
	return ID(id.String()), nil
}

func (id ID) String() string { return string(id) }
