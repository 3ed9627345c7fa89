package rsocketdemo

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/rsocket/rsocket-go/payload"
	"github.com/stretchr/testify/require"
)

func TestRouteOf(t *testing.T) {
	md, err := RouteMetadata(RouteStream)
	require.NoError(t, err)

	route, err := RouteOf(payload.New([]byte("{}"), md))
	require.NoError(t, err)
	require.Equal(t, RouteStream, route)

	require.NoError(t, expectRoute(payload.New(nil, md), RouteStream))
	err = expectRoute(payload.New(nil, md), RouteChannel)
	require.True(t, errors.Is(err, ErrUnknownRoute))
}

func TestRouteOfMissingMetadata(t *testing.T) {
	_, err := RouteOf(payload.New([]byte("{}"), nil))
	require.True(t, errors.Is(err, ErrUnknownRoute))
}
