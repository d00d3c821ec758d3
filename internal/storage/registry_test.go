package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharefs/sharefs/pkg/errors"
	"github.com/sharefs/sharefs/pkg/types"
)

func TestDefaultRegistry(t *testing.T) {
	r := NewDefaultRegistry(time.Second, nil, nil)
	assert.Equal(t, []types.Protocol{types.ProtocolNATS, types.ProtocolS3}, r.Protocols())

	c, err := r.Get(types.ProtocolS3)
	require.NoError(t, err)
	assert.Equal(t, types.ProtocolS3, c.Protocol())

	_, err = r.Get(types.ProtocolSMB)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnsupportedProtocol))
}
