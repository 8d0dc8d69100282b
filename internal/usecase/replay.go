package usecase

import (
	"encoding/base64"
	"fmt"

	"github.com/zimagehq/zimage/internal/domain"
)

// Replayer re-issues a historical edit against a new target image, reusing
// the stored mask bytes and the recorded parameters verbatim.
type Replayer struct {
	History domain.EditHistoryRepository
	Store   domain.ObjectStore
	Submit  *Submitter
}

// NewReplayer wires a replayer.
func NewReplayer(history domain.EditHistoryRepository, store domain.ObjectStore, submit *Submitter) *Replayer {
	return &Replayer{History: history, Store: store, Submit: submit}
}

// Replay synthesizes a new inpaint submission from history entry historyID,
// targeting targetImageID. Only entries with a stored mask are replayable.
func (r *Replayer) Replay(ctx domain.Context, userID, historyID, targetImageID string) (Envelope, error) {
	h, err := r.History.Get(ctx, historyID, userID)
	if err != nil {
		return Envelope{}, err
	}
	if h.MaskObjectName == "" {
		return Envelope{}, fmt.Errorf("op=replay: history entry has no stored mask: %w", domain.ErrInvalidArgument)
	}

	mask, err := r.Store.Get(ctx, h.MaskObjectName)
	if err != nil {
		return Envelope{}, fmt.Errorf("op=replay: fetch mask: %w", err)
	}

	req := InpaintRequest{
		OriginalImageID: targetImageID,
		Prompt:          h.Prompt,
		NegativePrompt:  h.NegativePrompt,
		MaskData:        base64.StdEncoding.EncodeToString(mask),
		Strength:        &h.Strength,
	}
	if v, ok := metaFloat(h.Metadata, "guidance_scale"); ok {
		req.GuidanceScale = &v
	}
	if v, ok := metaFloat(h.Metadata, "steps"); ok {
		steps := int(v)
		req.Steps = &steps
	}
	if v, ok := metaFloat(h.Metadata, "seed"); ok {
		seed := int64(v)
		req.Seed = &seed
	}
	return r.Submit.Inpaint(ctx, userID, req)
}

// metaFloat reads a numeric metadata value; JSON round-trips numbers as
// float64, but rows built in-process may hold native ints.
func metaFloat(m map[string]any, key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}
