package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"strings"

	"github.com/zimagehq/zimage/internal/domain"
)

// Stub is a deterministic stand-in for a model pipeline, used in dev and in
// tests. It emits real PNG bytes of the requested dimensions so downstream
// code (upload, dimension probing, reconciliation) exercises the same paths
// as with a real model.
type Stub struct {
	kind   Kind
	loaded bool
}

// NewStub returns an unloaded stub for kind. It satisfies the registry
// Factory signature.
func NewStub(kind Kind) domain.Pipeline { return &Stub{kind: kind} }

// Load marks the stub resident. Real pipelines pull model weights here.
func (s *Stub) Load(_ domain.Context) error {
	s.loaded = true
	return nil
}

// Run produces NumImages PNGs. Output is a pure function of the parameters,
// so a fixed seed reproduces identical bytes.
func (s *Stub) Run(_ domain.Context, p domain.PipelineParams) ([][]byte, error) {
	if !s.loaded {
		return nil, fmt.Errorf("pipeline %s not loaded", s.kind)
	}
	w, h := p.Width, p.Height
	if w == 0 || h == 0 {
		// editing kinds inherit dimensions from the source image
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(p.SourceImage)); err == nil {
			w, h = cfg.Width, cfg.Height
		} else {
			w, h = 512, 512
		}
	}
	n := p.NumImages
	if n <= 0 {
		n = 1
	}
	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		b, err := renderPNG(w, h, deriveSeed(p, i))
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// Cleanup releases scratch memory. The stub holds none; real pipelines empty
// the GPU memory pool here without unloading weights.
func (s *Stub) Cleanup() {}

func deriveSeed(p domain.PipelineParams, idx int) int64 {
	if p.Seed != nil {
		return *p.Seed + int64(idx)
	}
	var h int64 = 1469598103934665603
	for _, r := range p.Prompt + p.StyleID {
		h = (h ^ int64(r)) * 1099511628211
	}
	return h + int64(idx)
}

func renderPNG(w, h int, seed int64) ([]byte, error) {
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // stub output, not security sensitive
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	base := color.RGBA{R: uint8(rng.Intn(256)), G: uint8(rng.Intn(256)), B: uint8(rng.Intn(256)), A: 255}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, base)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("op=pipeline.render: %w", err)
	}
	return buf.Bytes(), nil
}

// StubTranslator is the dev/test stand-in for the translation pipeline. It
// returns a deterministic English rendering so callers can distinguish the
// model input from the preserved original prompt.
type StubTranslator struct{}

// TranslateToEnglish returns a deterministic English form of text.
func (StubTranslator) TranslateToEnglish(_ domain.Context, text string) (string, error) {
	return "english rendering of " + strings.TrimSpace(text), nil
}
