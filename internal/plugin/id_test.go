// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/gatekeeper/internal/plugin"
	"github.com/holomush/gatekeeper/pkg/errutil"
)

func TestNewID_UniqueAndOrdered(t *testing.T) {
	prev := plugin.NewID()
	for i := 0; i < 100; i++ {
		next := plugin.NewID()
		assert.Less(t, prev.String(), next.String())
		prev = next
	}
}

func TestParseID(t *testing.T) {
	id := plugin.NewID()
	parsed, err := plugin.ParseID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = plugin.ParseID("not-an-id")
	errutil.AssertErrorCode(t, err, plugin.CodeNotFound)
}
