package ai

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"orionserver/internal/logger"
	"orionserver/internal/model"
)

// MotionThreshold is the number of changed pixels that counts as motion.
const MotionThreshold = 500

// deviceState holds the previous frame of one device for motion detection.
type deviceState struct {
	previousMat gocv.Mat
	hasPrevious bool
	mutex       sync.Mutex
}

// DetectorService runs an SSD object detection network on encoded images.
type DetectorService struct {
	deviceStates map[string]*deviceState
	statesMutex  sync.RWMutex
	net          gocv.Net
	netMutex     sync.Mutex
	loaded       bool
	modelPath    string
	configPath   string
	threshold    float64
	logger       *logger.Logger
}

// NewDetectorService creates a detector and tries to load the network. A
// missing model leaves the service unhealthy rather than failing.
func NewDetectorService(modelPath, configPath string, threshold float64, logger *logger.Logger) *DetectorService {
	service := &DetectorService{
		deviceStates: make(map[string]*deviceState),
		modelPath:    modelPath,
		configPath:   configPath,
		threshold:    threshold,
		logger:       logger,
	}

	if err := service.initializeNet(); err != nil {
		service.logger.Warning("Could not initialize detection network: %v", err)
	}
	return service
}

// initializeNet loads the DNN network and sets backend/target preferences.
func (s *DetectorService) initializeNet() error {
	if s.modelPath == "" || s.configPath == "" {
		return fmt.Errorf("detector model not configured")
	}
	if _, err := os.Stat(s.modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", s.modelPath)
	}
	if _, err := os.Stat(s.configPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", s.configPath)
	}

	net := gocv.ReadNet(s.modelPath, s.configPath)
	if net.Empty() {
		return fmt.Errorf("failed to load network")
	}
	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return fmt.Errorf("failed to set preferable backend or target")
	}

	s.net = net
	s.loaded = true
	s.logger.Info("Detection network initialized successfully")
	return nil
}

// Healthy reports whether the network is loaded.
func (s *DetectorService) Healthy() bool {
	s.netMutex.Lock()
	defer s.netMutex.Unlock()
	return s.loaded
}

// Detect runs the network on the image and returns detections above the
// threshold with normalized [x1, y1, x2, y2] boxes.
func (s *DetectorService) Detect(imageBytes []byte) ([]model.Detection, error) {
	mat, err := gocv.IMDecode(imageBytes, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %v", err)
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, fmt.Errorf("decoded image is empty")
	}

	// SSD COCO input
	blob := gocv.BlobFromImage(mat, 1.0/127.5, image.Pt(300, 300), gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	s.netMutex.Lock()
	defer s.netMutex.Unlock()
	if !s.loaded {
		return nil, fmt.Errorf("detection network not initialized")
	}

	s.net.SetInput(blob, "")
	output := s.net.Forward("")
	defer output.Close()

	// rows of [batch_id, class_id, confidence, x1, y1, x2, y2]
	rows := output.Reshape(1, output.Total()/7)
	defer rows.Close()

	detections := []model.Detection{}
	for i := 0; i < rows.Rows(); i++ {
		confidence := float64(rows.GetFloatAt(i, 2))
		if confidence <= s.threshold {
			continue
		}
		classID := int(rows.GetFloatAt(i, 1))
		bbox := []float64{
			float64(rows.GetFloatAt(i, 3)),
			float64(rows.GetFloatAt(i, 4)),
			float64(rows.GetFloatAt(i, 5)),
			float64(rows.GetFloatAt(i, 6)),
		}
		detections = append(detections, model.NewDetection(ClassLabel(classID), confidence, bbox, nil))
	}
	return detections, nil
}

// DetectMotion compares the image with the previous one from the same device.
// The first image of a device never reports motion.
func (s *DetectorService) DetectMotion(imageBytes []byte, deviceID string) (bool, error) {
	state := s.getDeviceState(deviceID)
	state.mutex.Lock()
	defer state.mutex.Unlock()

	mat, err := gocv.IMDecode(imageBytes, gocv.IMReadColor)
	if err != nil {
		return false, fmt.Errorf("failed to decode image: %v", err)
	}
	defer mat.Close()
	if mat.Empty() {
		return false, fmt.Errorf("decoded image is empty")
	}

	if !state.hasPrevious || state.previousMat.Rows() != mat.Rows() || state.previousMat.Cols() != mat.Cols() {
		if state.hasPrevious {
			state.previousMat.Close()
		}
		state.previousMat = mat.Clone()
		state.hasPrevious = true
		return false, nil
	}

	diff := gocv.NewMat()
	defer diff.Close()
	if err := gocv.AbsDiff(state.previousMat, mat, &diff); err != nil {
		return false, fmt.Errorf("failed to compute absolute difference: %v", err)
	}
	gray := gocv.NewMat()
	defer gray.Close()
	if err := gocv.CvtColor(diff, &gray, gocv.ColorBGRToGray); err != nil {
		return false, fmt.Errorf("failed to convert image to grayscale: %v", err)
	}
	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(gray, &thresh, 30, 255, gocv.ThresholdBinary)

	nonZeroPixels := gocv.CountNonZero(thresh)

	state.previousMat.Close()
	state.previousMat = mat.Clone()

	return nonZeroPixels > MotionThreshold, nil
}

// Annotate draws detection boxes on the image and returns a JPEG.
func (s *DetectorService) Annotate(detections []model.Detection, img []byte) ([]byte, error) {
	red := color.RGBA{R: 255, G: 0, B: 0, A: 0}

	mat, err := gocv.IMDecode(img, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %v", err)
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, fmt.Errorf("decoded image is empty")
	}

	width, height := float64(mat.Cols()), float64(mat.Rows())
	for _, d := range detections {
		rect := image.Rect(
			int(d.BBox[0]*width), int(d.BBox[1]*height),
			int(d.BBox[2]*width), int(d.BBox[3]*height),
		)
		if err := gocv.Rectangle(&mat, rect, red, 2); err != nil {
			return nil, fmt.Errorf("failed to draw rectangle: %v", err)
		}

		label := fmt.Sprintf("%s (%.2f)", d.Label, d.Confidence)
		if err := gocv.PutText(&mat, label, image.Pt(rect.Min.X, rect.Min.Y-5), gocv.FontHersheySimplex, 0.5, red, 1); err != nil {
			return nil, fmt.Errorf("failed to draw text: %v", err)
		}
	}

	buf, err := gocv.IMEncode(".jpg", mat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %v", err)
	}
	defer buf.Close()
	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}

// Close releases the network and per-device frames.
func (s *DetectorService) Close() {
	s.netMutex.Lock()
	if s.loaded {
		s.net.Close()
		s.loaded = false
	}
	s.netMutex.Unlock()

	s.statesMutex.Lock()
	defer s.statesMutex.Unlock()
	for id, state := range s.deviceStates {
		state.mutex.Lock()
		if state.hasPrevious {
			state.previousMat.Close()
		}
		state.mutex.Unlock()
		delete(s.deviceStates, id)
	}
}

var cocoLabels = map[int]string{
	1:  "person",
	2:  "bicycle",
	3:  "car",
	4:  "motorcycle",
	5:  "airplane",
	6:  "bus",
	7:  "train",
	8:  "truck",
	9:  "boat",
	16: "bird",
	17: "cat",
	18: "dog",
	19: "horse",
	44: "bottle",
	47: "cup",
	62: "chair",
	63: "couch",
	64: "potted plant",
	65: "bed",
	67: "table",
	72: "tv",
	73: "laptop",
	77: "cell phone",
	84: "book",
}

// ClassLabel maps SSD COCO class ids to labels.
func ClassLabel(classID int) string {
	if label, ok := cocoLabels[classID]; ok {
		return label
	}
	return fmt.Sprintf("object_%d", classID)
}

// getDeviceState returns the per-device state, creating it when absent.
func (s *DetectorService) getDeviceState(deviceID string) *deviceState {
	s.statesMutex.RLock()
	state, exists := s.deviceStates[deviceID]
	s.statesMutex.RUnlock()
	if exists {
		return state
	}

	s.statesMutex.Lock()
	defer s.statesMutex.Unlock()
	if state, exists := s.deviceStates[deviceID]; exists {
		return state
	}
	state = &deviceState{}
	s.deviceStates[deviceID] = state
	s.logger.Info("Created motion detection state for device: %s", deviceID)
	return state
}
