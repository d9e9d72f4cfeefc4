// Copyright (c) 2019-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, LevelDebug, l)

	_, err = ParseLevel("bogus")
	assert.Error(t, err)
}

func TestDefaultLevelIsError(t *testing.T) {
	l := New(zap.NewNop())
	assert.True(t, l.Enabled(TypeCommit, LevelError))
	assert.False(t, l.Enabled(TypeCommit, LevelDebug))
}

func TestSetLevelRaisesVerbosity(t *testing.T) {
	l := New(zap.NewNop())
	l.SetLevel(TypeMust, LevelDebug)
	assert.True(t, l.Enabled(TypeMust, LevelDebug))
	assert.False(t, l.Enabled(TypeCommit, LevelDebug))
}
