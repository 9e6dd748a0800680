// Command seed-sessions writes a few demo log files into a node data
// directory and registers them in the session catalog, so a fresh rnrd has
// something to list and replay.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/polysync/rnr/internal/catalog"
	"github.com/polysync/rnr/internal/logfile"
	"github.com/polysync/rnr/internal/msgtype"
)

func main() {
	// Use default data directory (same as running node)
	dataDir := "./data"
	if len(os.Args) > 1 {
		dataDir = os.Args[1]
	}

	ctx := context.Background()

	cat, err := catalog.Open(filepath.Join(dataDir, "catalog"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open catalog: %v\n", err)
		os.Exit(1)
	}
	defer cat.Close()

	sessions := []struct {
		name     string
		msgType  msgtype.Type
		count    int
		interval time.Duration
	}{
		{"demo-bytes.rnr", msgtype.ByteArray, 50, 100 * time.Millisecond},
		{"demo-gps.rnr", msgtype.GPS, 20, time.Second},
		{"demo-can.rnr", msgtype.CANFrame, 200, 10 * time.Millisecond},
	}

	reg := msgtype.DefaultRegistry()
	start := uint64(time.Now().Add(-time.Hour).UnixMicro())

	fmt.Println("Writing sessions...")
	for _, s := range sessions {
		path := filepath.Join(dataDir, "sessions", s.name)
		id := uuid.New()
		began := time.Now().UTC()

		records, bytes, err := writeSession(ctx, path, id, s.msgType, s.count, start, s.interval)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", path, err)
			continue
		}

		stopped := time.Now().UTC()
		entry := catalog.Entry{
			ID:        id,
			Mode:      "write",
			Path:      path,
			StartedAt: began,
			StoppedAt: &stopped,
			Records:   records,
			Bytes:     bytes,
			Status:    catalog.StatusCompleted,
		}
		if err := cat.Put(ctx, entry); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to catalog %s: %v\n", path, err)
			continue
		}
		fmt.Printf("  %s: %d %s records, session %s\n", path, records, reg.Name(s.msgType), id)
	}

	fmt.Println("\nDone! Replay one with: rnrctl control --replay --file demo-gps.rnr --enable")
	fmt.Printf("Decode one with: rnrctl logfile dump %s --decode\n", filepath.Join(dataDir, "sessions", "demo-gps.rnr"))
}

func writeSession(ctx context.Context, path string, id uuid.UUID, t msgtype.Type, n int, start uint64, step time.Duration) (uint64, uint64, error) {
	w, err := logfile.Open(ctx, path, logfile.WriterOptions{SessionID: id})
	if err != nil {
		return 0, 0, err
	}
	var bytes uint64
	for i := 0; i < n; i++ {
		payload, err := demoPayload(t, filepath.Base(path), i)
		if err == nil {
			_, err = w.WriteRecord(t, start+uint64(i)*uint64(step.Microseconds()), payload)
		}
		if err != nil {
			//nolint:errcheck // Ignore close error, the write error is reported
			_ = w.Close()
			return 0, 0, err
		}
		bytes += uint64(len(payload))
	}
	if err := w.Close(); err != nil {
		return 0, 0, err
	}
	return w.Count(), bytes, nil
}

// demoPayload builds record i of a demo session. GPS and CAN records use
// their decodable layouts; other types carry a text label.
func demoPayload(t msgtype.Type, name string, i int) ([]byte, error) {
	switch t {
	case msgtype.GPS:
		// a slow drive north-east from the origin fix
		return msgtype.GPSFix{
			Latitude:  42.2808 + float64(i)*0.0001,
			Longitude: -83.7430 + float64(i)*0.0001,
			Altitude:  256,
			Speed:     11.1,
			Heading:   45,
		}.MarshalBinary()
	case msgtype.CANFrame:
		return msgtype.CANFrameData{
			ID:   0x100 + uint32(i%4),
			Data: []byte{byte(i), byte(i >> 8), 0, 0, 0, 0, 0, byte(i % 4)},
		}.MarshalBinary()
	default:
		return []byte(fmt.Sprintf("%s-%d", name, i)), nil
	}
}
