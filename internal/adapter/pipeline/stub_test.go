package pipeline

import (
	"bytes"
	"context"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zimagehq/zimage/internal/domain"
)

func TestStubProducesRequestedDimensions(t *testing.T) {
	reg := NewRegistry(NewStub)
	p, err := reg.Get(context.Background(), Generate)
	require.NoError(t, err)

	seed := int64(42)
	out, err := p.Run(context.Background(), domain.PipelineParams{
		Prompt: "a cat", Width: 1024, Height: 768, NumImages: 2, Seed: &seed,
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	for _, b := range out {
		img, err := png.Decode(bytes.NewReader(b))
		require.NoError(t, err)
		require.Equal(t, 1024, img.Bounds().Dx())
		require.Equal(t, 768, img.Bounds().Dy())
	}
}

func TestStubDeterministicWithSeed(t *testing.T) {
	reg := NewRegistry(NewStub)
	p, err := reg.Get(context.Background(), Generate)
	require.NoError(t, err)

	seed := int64(7)
	params := domain.PipelineParams{Prompt: "x", Width: 64, Height: 64, NumImages: 1, Seed: &seed}
	a, err := p.Run(context.Background(), params)
	require.NoError(t, err)
	b, err := p.Run(context.Background(), params)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestRegistryLazySingleton(t *testing.T) {
	reg := NewRegistry(NewStub)
	require.False(t, reg.Loaded(Inpaint))

	p1, err := reg.Get(context.Background(), Inpaint)
	require.NoError(t, err)
	require.True(t, reg.Loaded(Inpaint))

	p2, err := reg.Get(context.Background(), Inpaint)
	require.NoError(t, err)
	require.Same(t, p1, p2)
}

func TestStubInheritsSourceDimensions(t *testing.T) {
	reg := NewRegistry(NewStub)
	p, err := reg.Get(context.Background(), Background)
	require.NoError(t, err)

	src, err := renderPNG(320, 200, 1)
	require.NoError(t, err)
	out, err := p.Run(context.Background(), domain.PipelineParams{SourceImage: src})
	require.NoError(t, err)
	require.Len(t, out, 1)
	img, err := png.Decode(bytes.NewReader(out[0]))
	require.NoError(t, err)
	require.Equal(t, 320, img.Bounds().Dx())
	require.Equal(t, 200, img.Bounds().Dy())
}
