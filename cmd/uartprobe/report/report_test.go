package report

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func TestNew(t *testing.T) {
	r := New("data.txt", "/dev/ttyUSB0")
	_, err := uuid.Parse(r.ID)
	require.NoError(t, err)
	assert.Equal(t, "data.txt", r.DataFile)
	assert.False(t, r.Started.IsZero())
}

func TestWrite(t *testing.T) {
	dir := t.TempDir()
	r := New("data.txt", "/dev/ttyACM0")
	r.ChunkSize = 64
	r.ChunksSent = 2
	r.Finish(OutcomeDeviceTimeout, errors.New("device reported a timeout"))

	yamlPath := filepath.Join(dir, "run.yaml")
	require.NoError(t, r.Write(yamlPath))
	b, err := os.ReadFile(yamlPath)
	require.NoError(t, err)
	var fromYAML map[string]interface{}
	require.NoError(t, yaml.Unmarshal(b, &fromYAML))
	assert.Equal(t, "device-timeout", fromYAML["outcome"])
	assert.Equal(t, 64, fromYAML["chunkSize"])
	assert.Equal(t, r.ID, fromYAML["id"])

	jsonPath := filepath.Join(dir, "run.json")
	require.NoError(t, r.Write(jsonPath))
	b, err = os.ReadFile(jsonPath)
	require.NoError(t, err)
	var fromJSON Run
	require.NoError(t, json.Unmarshal(b, &fromJSON))
	assert.Equal(t, r.ID, fromJSON.ID)
	assert.Equal(t, "device reported a timeout", fromJSON.Error)
	assert.Equal(t, 2, fromJSON.ChunksSent)
}

func TestWriteBadPath(t *testing.T) {
	r := New("data.txt", "")
	assert.Error(t, r.Write(filepath.Join(t.TempDir(), "missing", "run.json")))
}
