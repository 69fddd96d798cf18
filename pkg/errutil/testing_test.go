// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"

	"github.com/holomush/gatekeeper/pkg/errutil"
)

func TestAssertErrorCode_MatchingCode(t *testing.T) {
	err := oops.Code("MY_CODE").Errorf("test error")
	// Should not fail
	errutil.AssertErrorCode(t, err, "MY_CODE")
}

func TestAssertErrorContext_MatchingKeyValue(t *testing.T) {
	err := oops.With("plugin", "stats").Errorf("test error")
	// Should not fail
	errutil.AssertErrorContext(t, err, "plugin", "stats")
}

func TestCode(t *testing.T) {
	coded := oops.Code("NOT_YET_LOADABLE").Errorf("too early")

	assert.Equal(t, "NOT_YET_LOADABLE", errutil.Code(coded))
	assert.Equal(t, "NOT_YET_LOADABLE", errutil.Code(fmt.Errorf("wrapped: %w", coded)))
	assert.Equal(t, "LOAD_FAILED", errutil.Code(oops.Code("LOAD_FAILED").Wrapf(errors.New("io"), "load")))
	assert.Empty(t, errutil.Code(errors.New("plain")))
	assert.Empty(t, errutil.Code(oops.Errorf("no code")))
	assert.Empty(t, errutil.Code(nil))
}
