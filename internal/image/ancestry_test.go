package image

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumhq/stratum/internal/domain"
)

func TestAncestry_RootImage(t *testing.T) {
	svc, _ := createService(t)

	pushImage(t, svc, "root", "", testLayer(t, "a.txt"))

	ancestry, err := svc.GetAncestry(context.Background(), "root")
	require.NoError(t, err)
	assert.Equal(t, []string{"root"}, ancestry)
}

func TestAncestry_Chain(t *testing.T) {
	svc, _ := createService(t)

	pushImage(t, svc, "base", "", testLayer(t, "a.txt"))
	pushImage(t, svc, "middle", "base", testLayer(t, "b.txt"))
	pushImage(t, svc, "top", "middle", testLayer(t, "c.txt"))

	ancestry, err := svc.GetAncestry(context.Background(), "top")
	require.NoError(t, err)
	assert.Equal(t, []string{"top", "middle", "base"}, ancestry)
}

func TestAncestry_WriteOnce(t *testing.T) {
	svc, _ := createService(t)
	ctx := context.Background()

	pushImage(t, svc, "base", "", testLayer(t, "a.txt"))
	require.NoError(t, svc.PutJSON(ctx, "child", imageJSON("child", "base")))

	before, err := svc.Ancestry(ctx, "child")
	require.NoError(t, err)

	// A push retry re-sends the JSON; the stored ancestry is untouched.
	require.NoError(t, svc.PutJSON(ctx, "child", imageJSON("child", "base")))
	after, err := svc.Ancestry(ctx, "child")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestAncestry_HiddenWhileMarked(t *testing.T) {
	svc, _ := createService(t)
	ctx := context.Background()

	require.NoError(t, svc.PutJSON(ctx, "img1", imageJSON("img1", "")))

	_, err := svc.GetAncestry(ctx, "img1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// The ungated accessor still sees it; the diff engine relies on this.
	ancestry, err := svc.Ancestry(ctx, "img1")
	require.NoError(t, err)
	assert.Equal(t, []string{"img1"}, ancestry)
}

func TestAncestry_MissingImage(t *testing.T) {
	svc, _ := createService(t)

	_, err := svc.GetAncestry(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
