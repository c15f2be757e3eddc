package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"orionserver/internal/dto"
	"orionserver/internal/logger"
	"orionserver/internal/model"
)

var (
	jpegHeader = []byte{0xFF, 0xD8}
	jpegFooter = []byte{0xFF, 0xD9}
)

// CameraClientPrefix marks frames that arrived over UDP rather than from a
// registered producer connection.
const CameraClientPrefix = "camera_"

// frameAssembler rebuilds JPEG frames from UDP packets, one buffer per camera.
type frameAssembler struct {
	buffers map[string]*bytes.Buffer
}

func newFrameAssembler() *frameAssembler {
	return &frameAssembler{buffers: make(map[string]*bytes.Buffer)}
}

// Feed appends a packet and returns a complete frame when the JPEG footer arrives.
func (a *frameAssembler) Feed(camera string, data []byte) ([]byte, bool) {
	imgBuffer, ok := a.buffers[camera]
	if !ok {
		imgBuffer = new(bytes.Buffer)
		a.buffers[camera] = imgBuffer
	}

	if bytes.HasPrefix(data, jpegHeader) {
		imgBuffer.Reset()
	}
	imgBuffer.Write(data)

	if !bytes.HasSuffix(data, jpegFooter) {
		return nil, false
	}
	if !bytes.HasPrefix(imgBuffer.Bytes(), jpegHeader) {
		imgBuffer.Reset()
		return nil, false
	}
	fullFrame := make([]byte, imgBuffer.Len())
	copy(fullFrame, imgBuffer.Bytes())
	imgBuffer.Reset()
	return fullFrame, true
}

// MotionDetector reports whether an image differs from the device's previous one.
type MotionDetector interface {
	DetectMotion(image []byte, deviceID string) (bool, error)
}

// CameraOptions configure UDP camera ingest.
type CameraOptions struct {
	Port          int
	Names         map[string]string // ip -> device id
	FrameInterval int               // submit every Nth complete frame per camera, <= 1 submits all
	Motion        MotionDetector    // optional; frames without motion are skipped
}

// cameraGate decides which reassembled frames are worth submitting.
type cameraGate struct {
	interval int
	motion   MotionDetector
	counters map[string]int
}

func newCameraGate(interval int, motion MotionDetector) *cameraGate {
	if interval < 1 {
		interval = 1
	}
	return &cameraGate{interval: interval, motion: motion, counters: make(map[string]int)}
}

// Admit counts the frame and reports whether it should be processed.
func (g *cameraGate) Admit(camera string, image []byte) (bool, error) {
	g.counters[camera]++
	if g.counters[camera]%g.interval != 0 {
		return false, nil
	}
	g.counters[camera] = 0

	if g.motion == nil {
		return true, nil
	}
	return g.motion.DetectMotion(image, camera)
}

// cameraName resolves the device id for a remote address.
func cameraName(names map[string]string, remote net.Addr) string {
	ip := remote.String()
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	if name, ok := names[ip]; ok {
		return name
	}
	return "unknown_" + strings.ReplaceAll(ip, ":", "-")
}

// UDPCameraHandler listens for UDP packets from cameras, reconstructs JPEG frames,
// and submits complete frames to the ingest path until ctx is cancelled.
func UDPCameraHandler(ctx context.Context, opts CameraOptions, frames FrameSubmitter, logger *logger.Logger) error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: opts.Port})
	if err != nil {
		return fmt.Errorf("failed to listen on UDP port %d: %w", opts.Port, err)
	}
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	logger.Info("📷 UDP camera handler started on port %d", opts.Port)
	buffer := make([]byte, 65535)
	assembler := newFrameAssembler()
	gate := newCameraGate(opts.FrameInterval, opts.Motion)
	sequence := make(map[string]uint64)

	for {
		n, remoteAddr, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				logger.Info("UDP camera handler stopped")
				return nil
			}
			logger.Error("Error reading UDP packet: %v", err)
			continue
		}

		camera := cameraName(opts.Names, remoteAddr)
		image, ok := assembler.Feed(camera, buffer[:n])
		if !ok {
			continue
		}
		admit, err := gate.Admit(camera, image)
		if err != nil {
			logger.Error("Error detecting motion for camera %s: %v", camera, err)
			continue
		}
		if !admit {
			continue
		}

		sequence[camera]++
		frame := model.Frame{
			FrameID:   fmt.Sprintf("%s_%d", camera, sequence[camera]),
			Timestamp: dto.UnixNow(),
			DeviceID:  camera,
			ImageData: image,
		}
		if err := frames.Submit(ctx, CameraClientPrefix+camera, frame); err != nil {
			logger.Warning("Frame %s from camera %s not processed: %v", frame.FrameID, camera, err)
		}
	}
}
