package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envFrom(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(envFrom(map[string]string{
		"CAM_URLS":       "rtsp://a/1, rtsp://b/2 ,,rtsp://c/3",
		"TELEGRAM_TOKEN": "token",
	}))
	require.NoError(t, err)

	assert.Equal(t, []Camera{
		{ID: 1, URL: "rtsp://a/1"},
		{ID: 2, URL: "rtsp://b/2"},
		{ID: 3, URL: "rtsp://c/3"},
	}, cfg.Cameras)
	assert.Equal(t, "token", cfg.TelegramToken)
	assert.Equal(t, "petwatch.db", cfg.DBPath)
	assert.Equal(t, BackendDNN, cfg.DetectorBackend)
	assert.Equal(t, "yolov8n.onnx", cfg.ModelPath)
	assert.Equal(t, ":8090", cfg.HTTPAddr)
	assert.Empty(t, cfg.ChatIDs)
}

func TestLoad_ChatIDs(t *testing.T) {
	cfg, err := Load(envFrom(map[string]string{
		"CAM_URLS":                "rtsp://a/1",
		"TELEGRAM_CHAT_IDS":       "100, -200",
		"TELEGRAM_DEBUG_CHAT_IDS": "300",
	}))
	require.NoError(t, err)
	assert.Equal(t, []int64{100, -200}, cfg.ChatIDs)
	assert.Equal(t, []int64{300}, cfg.DebugChatIDs)

	_, err = Load(envFrom(map[string]string{
		"CAM_URLS":          "rtsp://a/1",
		"TELEGRAM_CHAT_IDS": "abc",
	}))
	assert.Error(t, err)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"no cameras", map[string]string{}},
		{"unknown backend", map[string]string{"CAM_URLS": "x", "DETECTOR_BACKEND": "tpu"}},
		{"http without endpoint", map[string]string{"CAM_URLS": "x", "DETECTOR_BACKEND": "http"}},
		{"grpc without endpoint", map[string]string{"CAM_URLS": "x", "DETECTOR_BACKEND": "GRPC"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(envFrom(tt.env))
			assert.Error(t, err)
		})
	}

	cfg, err := Load(envFrom(map[string]string{
		"CAM_URLS":          "x",
		"DETECTOR_BACKEND":  "grpc",
		"DETECTOR_ENDPOINT": "localhost:50051",
	}))
	require.NoError(t, err)
	assert.Equal(t, BackendGRPC, cfg.DetectorBackend)
}

func TestSplitAndTrim(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitAndTrim(" a ,, b ,", ","))
	assert.Empty(t, splitAndTrim("", ","))
}
