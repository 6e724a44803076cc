package utils_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/dynstruct/internal/utils"
)

func TestOptionalRWMutexEnabled(t *testing.T) {
	m := utils.NewOptionalRWMutex(true)
	require.True(t, m.Enabled())

	m.Lock()
	require.False(t, m.TryLock())
	m.Unlock()

	require.True(t, m.TryLock())
	m.Unlock()

	m.RLock()
	m.RLock()
	require.False(t, m.TryLock())
	m.RUnlock()
	m.RUnlock()
}

func TestOptionalRWMutexDisabled(t *testing.T) {
	m := utils.NewOptionalRWMutex(false)
	require.False(t, m.Enabled())

	m.Lock()
	require.True(t, m.TryLock())
	m.Unlock()
	m.Unlock()
}
