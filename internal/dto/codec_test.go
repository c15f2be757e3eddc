package dto

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_JSONFrame(t *testing.T) {
	raw := `{"type":"frame_data","frame_id":"f1","timestamp":12.5,"device_id":"ios-1",
		"image_data":"aGVsbG8=","detections":[{"label":"person","confidence":0.9,"bbox":[1.5,-0.2,0.9,0.4],"track_id":3}]}`

	msg, err := Decode([]byte(raw), false)
	require.NoError(t, err)

	fd, ok := msg.(FrameData)
	require.True(t, ok)
	assert.Equal(t, TypeFrameData, fd.MessageType())

	frame, err := fd.ToFrame()
	require.NoError(t, err)
	assert.Equal(t, "f1", frame.FrameID)
	assert.Equal(t, []byte("hello"), frame.ImageData)
	require.Len(t, frame.Detections, 1)
	assert.Equal(t, [4]float64{1, 0, 0.9, 0.4}, frame.Detections[0].BBox)
	assert.Equal(t, "person_3", frame.Detections[0].TrackKey())
}

func TestDecode_CBORFrame(t *testing.T) {
	data, err := cbor.Marshal(map[string]any{
		"type":      "frame_data",
		"frame_id":  "f2",
		"timestamp": 3.0,
		"image_ref": []byte{0xff, 0xd8},
	})
	require.NoError(t, err)

	msg, err := Decode(data, true)
	require.NoError(t, err)

	frame, err := msg.(FrameData).ToFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8}, frame.ImageData, "image_ref is used when image_data is absent")
}

func TestDecode_OtherTypes(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"user_prompt","prompt_id":"p1","question":"what is here?"}`), false)
	require.NoError(t, err)
	assert.Equal(t, "what is here?", msg.(UserPrompt).Question)

	msg, err = Decode([]byte(`{"type":"configuration","processing_mode":"direct"}`), false)
	require.NoError(t, err)
	assert.Equal(t, "direct", msg.(Configuration).ProcessingMode)

	msg, err = Decode([]byte(`{"type":"request_config"}`), false)
	require.NoError(t, err)
	assert.IsType(t, RequestConfig{}, msg)
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode([]byte(`{"type":"dance"}`), false)
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = Decode([]byte(`{"frame_id":"x"}`), false)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Decode([]byte(`not json`), false)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Decode([]byte(`{"type":"frame_data","timestamp":"soon"}`), false)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestFrameData_ToFrameRequiresID(t *testing.T) {
	_, err := FrameData{Type: TypeFrameData, Timestamp: 1}.ToFrame()
	assert.Error(t, err)
}

func TestFrameInfo_MarshalJSON(t *testing.T) {
	ts := time.Date(2026, 3, 4, 15, 6, 7, 0, time.UTC)
	data, err := json.Marshal(FrameInfo{FrameID: "f1", Device: "cam", Date: ts, TimeOfDay: ts})
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "04-03-2026", out["date"])
	assert.Equal(t, "15:06:07", out["timeOfDay"])
	assert.Equal(t, "f1", out["frame_id"])
}

func TestTotalPages(t *testing.T) {
	assert.Equal(t, 0, TotalPages(0, 10))
	assert.Equal(t, 1, TotalPages(10, 10))
	assert.Equal(t, 2, TotalPages(11, 10))
	assert.Equal(t, 0, TotalPages(5, 0))
}
