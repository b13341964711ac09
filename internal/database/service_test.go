package database

import (
	"testing"

	"github.com/koustreak/querydeck/internal/errs"
	"github.com/koustreak/querydeck/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_UnknownEngine(t *testing.T) {
	_, err := New(Engine("oracle"), logger.Nop(), DefaultPoolSettings())
	require.Error(t, err)
	assert.True(t, errs.IsConfig(err))
	assert.Contains(t, err.Error(), "oracle")
}

func TestRegister_Duplicate(t *testing.T) {
	engine := Engine("test-dup")
	Register(engine, func(*logger.Logger, PoolSettings) Service { return nil })
	assert.Panics(t, func() {
		Register(engine, func(*logger.Logger, PoolSettings) Service { return nil })
	})
	assert.Contains(t, Available(), engine)
}
