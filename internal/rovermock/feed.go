package rovermock

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"time"
)

// FeedBoundary separates frames in the MJPEG stream.
const FeedBoundary = "frame"

const (
	frameWidth  = 160
	frameHeight = 120
)

// handleVideoFeed streams JPEG frames while the camera is on.
func (s *Server) handleVideoFeed(w http.ResponseWriter, r *http.Request) {
	if !s.state.CameraOn() {
		writeDetail(w, http.StatusNotFound, "Camera is not running")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeDetail(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+FeedBoundary)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.FeedFPS))
	defer ticker.Stop()

	for n := 0; ; n++ {
		if !s.state.CameraOn() {
			return
		}

		frame, err := renderFrame(n)
		if err != nil {
			s.logger.Printf("rovermock: failed to encode frame: %v", err)
			return
		}
		if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", FeedBoundary, len(frame)); err != nil {
			return
		}
		if _, err := w.Write(append(frame, '\r', '\n')); err != nil {
			return
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// renderFrame draws a test pattern whose bar position moves with n.
func renderFrame(n int) ([]byte, error) {
	img := image.NewGray(image.Rect(0, 0, frameWidth, frameHeight))
	bar := (n * 4) % frameWidth
	for y := 0; y < frameHeight; y++ {
		for x := 0; x < frameWidth; x++ {
			shade := uint8(y * 255 / frameHeight)
			if x >= bar && x < bar+8 {
				shade = 255
			}
			img.SetGray(x, y, color.Gray{Y: shade})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 60}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
