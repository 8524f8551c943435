package stream

import (
	"context"
	"net/http"
	"time"
)

const keepAliveInterval = 5 * time.Second

var partHeader = []byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")

// WriteMJPEG streams frames as multipart/x-mixed-replace until the channel
// closes, ctx ends or the client goes away. first is sent immediately and
// re-sent as a keep-alive when no frame arrives for a while.
func WriteMJPEG(ctx context.Context, w http.ResponseWriter, frames <-chan []byte, first []byte) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return errStreamingUnsupported
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	last := first
	if err := writePart(w, last); err != nil {
		return err
	}
	flusher.Flush()

	timer := time.NewTimer(keepAliveInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-frames:
			if !ok {
				return nil
			}
			if data != nil {
				last = data
			}
		case <-timer.C:
		}

		if err := writePart(w, last); err != nil {
			return err
		}
		flusher.Flush()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(keepAliveInterval)
	}
}

func writePart(w http.ResponseWriter, data []byte) error {
	if _, err := w.Write(partHeader); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

// ServeHTTP subscribes the request to the broadcaster and streams MJPEG.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, frames := b.Subscribe()
	defer b.Unsubscribe(id)

	b.logger.Info("MJPEG client connected from %s", r.RemoteAddr)
	if err := WriteMJPEG(r.Context(), w, frames, b.Latest()); err != nil {
		b.logger.Debug("MJPEG client %s disconnected: %v", r.RemoteAddr, err)
		return
	}
	b.logger.Info("MJPEG client %s disconnected", r.RemoteAddr)
}
