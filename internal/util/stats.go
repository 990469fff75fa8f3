package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide traffic/session counter.
var Stats = &stats{}

type stats struct {
	TotalSessions  atomic.Int64 // cumulative count of replication sessions since process start
	ClosedSessions atomic.Int64 // cumulative count of finished sessions since process start
	BytesSent      atomic.Int64 // cumulative frame bytes written to transports
	BytesRecv      atomic.Int64 // cumulative frame bytes read from transports
	BlobsSent      atomic.Int64 // cumulative blobs pushed to peers
	BlobsRecv      atomic.Int64 // cumulative blobs stored from peers
}

func (s *stats) AddSession()    { s.TotalSessions.Add(1) }
func (s *stats) RemoveSession() { s.ClosedSessions.Add(1) }
func (s *stats) AddSent(n int)  { s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int)  { s.BytesRecv.Add(int64(n)) }
func (s *stats) AddBlobSent()   { s.BlobsSent.Add(1) }
func (s *stats) AddBlobRecv()   { s.BlobsRecv.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs replication statistics
// every interval. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		secs := interval.Seconds()
		var prevSent, prevRecv, prevBlobsOut, prevBlobsIn int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()
				blobsOut := Stats.BlobsSent.Load()
				blobsIn := Stats.BlobsRecv.Load()
				active := Stats.TotalSessions.Load() - Stats.ClosedSessions.Load()

				outS := float64(sent-prevSent) / secs
				inS := float64(recv-prevRecv) / secs
				outB := blobsOut - prevBlobsOut
				inB := blobsIn - prevBlobsIn

				if outB > 0 || inB > 0 || inS > 10 || outS > 10 {
					pterm.DefaultLogger.Info(formatStats(inS, outS, inB, outB, active))
				}

				prevSent = sent
				prevRecv = recv
				prevBlobsOut = blobsOut
				prevBlobsIn = blobsIn

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(inS, outS float64, inB, outB, active int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Blobs: %3d↓ %3d↑ | Sessions: %d",
		formatBytes(inS),
		formatBytes(outS),
		inB,
		outB,
		active,
	)
}
