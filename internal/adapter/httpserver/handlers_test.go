package httpserver_test

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zimagehq/zimage/internal/domain"
)

func doJSON(t *testing.T, h http.Handler, method, path string, body any, userID string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
		req.Header.Set("X-User-Role", "user")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// a 1x1 PNG so mask validation sees real image bytes
var tinyPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x62, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

func seedImage(fx *fixture, userID string) domain.Image {
	img := domain.Image{
		ID:         "img-" + userID,
		UserID:     userID,
		ObjectName: "images/" + userID + "/seed/orig.png",
		URL:        "http://public.example/images/" + userID + "/seed/orig.png",
		CreatedAt:  time.Now(),
	}
	fx.mu.Lock()
	fx.images[img.ID] = img
	fx.mu.Unlock()
	return img
}

func TestRegisterLoginMe(t *testing.T) {
	h, fx := newTestAPI()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/register",
		map[string]string{"email": "a@b.c", "password": "pass1234", "name": "Al"}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	require.NotEmpty(t, body["access_token"])
	require.Equal(t, "bearer", body["token_type"])

	rec = doJSON(t, h, http.MethodPost, "/api/v1/auth/login",
		map[string]string{"email": "a@b.c", "password": "pass1234"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	// duplicate email reads as a validation failure
	rec = doJSON(t, h, http.MethodPost, "/api/v1/auth/register",
		map[string]string{"email": "a@b.c", "password": "otherpass", "name": "Bo"}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// profile via the gateway-stamped identity header
	var userID string
	fx.mu.Lock()
	for id := range fx.users {
		userID = id
	}
	fx.mu.Unlock()
	rec = doJSON(t, h, http.MethodGet, "/api/v1/auth/me", nil, userID)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decodeBody(t, rec)
	require.Equal(t, "a@b.c", me["email"])
	_, leaked := me["password_hash"]
	require.False(t, leaked)
}

func TestRegisterValidation(t *testing.T) {
	h, _ := newTestAPI()
	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/register",
		map[string]string{"email": "a@b.c"}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	errObj := body["error"].(map[string]any)
	require.Equal(t, "INVALID_ARGUMENT", errObj["code"])
}

func TestGenerateRequiresIdentity(t *testing.T) {
	h, fx := newTestAPI()

	req := map[string]any{"prompt": "a cat", "width": 1024, "height": 1024, "num_images": 1}
	rec := doJSON(t, h, http.MethodPost, "/api/v1/images/generate", req, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, fx.queued)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/images/generate", req, "u1")
	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decodeBody(t, rec)
	require.NotEmpty(t, body["task_id"])
	require.Equal(t, "pending", body["status"])
	require.InDelta(t, 8.0, body["estimated_time"].(float64), 0.01)
	require.Len(t, fx.queued, 1)
}

func TestGenerateRejectsBadDimensions(t *testing.T) {
	h, fx := newTestAPI()
	rec := doJSON(t, h, http.MethodPost, "/api/v1/images/generate",
		map[string]any{"prompt": "x", "width": 1030, "height": 1024, "num_images": 1}, "u1")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "INVALID_ARGUMENT", body["error"].(map[string]any)["code"])
	require.Empty(t, fx.queued)
}

func TestTaskStatusOwnership(t *testing.T) {
	h, _ := newTestAPI()
	rec := doJSON(t, h, http.MethodPost, "/api/v1/images/generate",
		map[string]any{"prompt": "x", "width": 512, "height": 512, "num_images": 1}, "owner")
	require.Equal(t, http.StatusAccepted, rec.Code)
	taskID := decodeBody(t, rec)["task_id"].(string)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/tasks/"+taskID, nil, "owner")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "pending", decodeBody(t, rec)["status"])

	rec = doJSON(t, h, http.MethodGet, "/api/v1/tasks/"+taskID, nil, "intruder")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInpaintAndHistoryFlow(t *testing.T) {
	h, fx := newTestAPI()
	img := seedImage(fx, "u1")

	rec := doJSON(t, h, http.MethodPost, "/api/v1/images/inpaint", map[string]any{
		"original_image_id": img.ID,
		"prompt":            "replace the sky",
		"mask_data":         base64.StdEncoding.EncodeToString(tinyPNG),
	}, "u1")
	require.Equal(t, http.StatusAccepted, rec.Code)
	taskID := decodeBody(t, rec)["task_id"].(string)

	// worker finishes; the poll materializes the edit
	res := domain.TaskResult{
		TaskID: taskID,
		Status: domain.TaskCompleted,
		Images: []domain.ImageResult{{
			ID: "edited-1", URL: "http://public.example/images/u1/t/e.png",
			ObjectName: "images/u1/t/e.png", Width: 512, Height: 512,
		}},
		MaskObjectName: "masks/u1/" + taskID + "/m.png",
	}
	raw, err := json.Marshal(res)
	require.NoError(t, err)
	fx.mu.Lock()
	fx.qstate[taskID] = domain.QueueStateCompleted
	fx.qresult[taskID] = raw
	fx.mu.Unlock()

	rec = doJSON(t, h, http.MethodGet, "/api/v1/images/inpaint/tasks/"+taskID, nil, "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "completed", body["status"])
	require.Equal(t, img.URL, body["original_image_url"])

	rec = doJSON(t, h, http.MethodGet, "/api/v1/images/edit-history", nil, "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody(t, rec)
	items := list["items"].([]any)
	require.Len(t, items, 1)
	entry := items[0].(map[string]any)
	require.Equal(t, "inpaint", entry["edit_type"])
	require.Equal(t, img.ID, entry["original_image_id"])
	require.Equal(t, "edited-1", entry["edited_image_id"])
	require.Equal(t, res.MaskObjectName, entry["mask_object_name"])
}

func TestGalleryLifecycle(t *testing.T) {
	h, fx := newTestAPI()
	img := seedImage(fx, "u1")

	rec := doJSON(t, h, http.MethodGet, "/api/v1/gallery/", nil, "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, float64(1), body["total"])

	rec = doJSON(t, h, http.MethodPost, "/api/v1/gallery/"+img.ID+"/favorite", nil, "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, decodeBody(t, rec)["is_favorite"])

	// the other tenant sees nothing
	rec = doJSON(t, h, http.MethodGet, "/api/v1/gallery/"+img.ID, nil, "u2")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/api/v1/gallery/"+img.ID, nil, "u1")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/gallery/"+img.ID, nil, "u1")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStylePresetsCatalogue(t *testing.T) {
	h, _ := newTestAPI()
	rec := doJSON(t, h, http.MethodGet, "/api/v1/images/style/presets", nil, "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Len(t, body["presets"].([]any), 12)
}

func TestReplayEndpoint(t *testing.T) {
	h, fx := newTestAPI()
	target := seedImage(fx, "u1")
	maskName := "masks/u1/old/m.png"
	fx.mu.Lock()
	fx.objects[maskName] = tinyPNG
	fx.history["hist-1"] = domain.EditHistory{
		ID: "hist-1", UserID: "u1", OriginalImageID: "img-old", EditedImageID: "img-old-e",
		EditType: "inpaint", Prompt: "aurora sky", Strength: 0.7, MaskObjectName: maskName,
	}
	fx.mu.Unlock()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/images/edit-history/hist-1/replay",
		map[string]string{"target_image_id": target.ID}, "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, decodeBody(t, rec)["task_id"])
	require.Len(t, fx.queued, 1)
	require.Equal(t, "aurora sky", fx.queued[0].Prompt)
}

func TestStatsEndpoints(t *testing.T) {
	h, fx := newTestAPI()
	seedImage(fx, "u1")

	rec := doJSON(t, h, http.MethodGet, "/api/v1/stats", nil, "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, float64(1), decodeBody(t, rec)["total_images"])

	rec = doJSON(t, h, http.MethodGet, "/api/v1/stats/ml/status", nil, "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	gpu := decodeBody(t, rec)["gpu"].(map[string]any)
	require.Equal(t, false, gpu["available"])

	fx.mu.Lock()
	fx.kv["ml_worker:gpu_stats"] = []byte(`{"available":true,"name":"T4","memory_used_mb":512,"memory_free_mb":15872,"power_draw_w":68.5,"power_limit_w":70}`)
	fx.mu.Unlock()
	rec = doJSON(t, h, http.MethodGet, "/api/v1/stats/ml/status", nil, "u1")
	gpu = decodeBody(t, rec)["gpu"].(map[string]any)
	require.Equal(t, true, gpu["available"])
	require.Equal(t, float64(15872), gpu["memory_free_mb"])
	require.Equal(t, 68.5, gpu["power_draw_w"])
	require.Equal(t, float64(70), gpu["power_limit_w"])
}

func TestHealthz(t *testing.T) {
	h, _ := newTestAPI()
	rec := doJSON(t, h, http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, h, http.MethodGet, "/readyz", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
}
