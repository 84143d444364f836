package matroska

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/zsiec/lumen/internal/ebml"
	"github.com/zsiec/lumen/internal/media"
)

// PacketSequence is a lazy, pull-driven stream of packets for one track.
// A sequence holds an exclusive claim on its track until it is released,
// canceled or exhausted. Next must not be called concurrently.
type PacketSequence struct {
	s     *Session
	track *trackInfo
	kind  media.TrackKind
	start float64
	log   *slog.Logger

	canceled atomic.Bool
	released atomic.Bool
	once     sync.Once

	off         int64 // next element to read
	inCluster   bool
	clusterEnd  int64 // ebml.UnknownSize for unknown-sized clusters
	clusterTime int64
	pending     []media.Packet
	eof         bool
}

// ReadPackets returns a sequence of packets for track trackID of the given
// kind. With seek set the sequence starts at the cluster holding the cue
// point at or before start; otherwise it scans from the first cluster.
// Non-video packets that end before start are skipped.
func (s *Session) ReadPackets(ctx context.Context, kind media.TrackKind, start float64, trackID int, seek bool) (*PacketSequence, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return nil, err
	}
	t, ok := s.byID[trackID]
	if !ok || t.Kind != kind {
		return nil, fmt.Errorf("%w: %s track %d", ErrUnknownTrack, kind, trackID)
	}
	if _, busy := s.claims[trackID]; busy {
		return nil, fmt.Errorf("%w: track %d", ErrTrackBusy, trackID)
	}
	if start < 0 {
		start = 0
	}

	seq := &PacketSequence{
		s:     s,
		track: t,
		kind:  kind,
		start: start,
		log:   s.log.With("track", trackID, "kind", kind.String()),
	}
	switch {
	case s.info.firstCluster < 0:
		seq.eof = true
	case seek && start > 0:
		seq.off = s.seekOffsetLocked(start)
	default:
		seq.off = s.info.firstCluster
	}
	s.claims[trackID] = seq
	seq.log.Debug("packet sequence opened", "start", start, "seek", seek, "offset", seq.off)
	return seq, nil
}

// seekOffsetLocked returns the cluster offset to start reading from for
// time start.
func (s *Session) seekOffsetLocked(start float64) int64 {
	target := s.info.ticks(start)
	if len(s.cues) > 0 {
		i := sort.Search(len(s.cues), func(i int) bool { return s.cues[i].time > target })
		if i == 0 {
			return s.info.firstCluster
		}
		return s.cues[i-1].clusterPos
	}
	return s.scanClustersLocked(target)
}

// scanClustersLocked walks cluster headers from the first cluster and
// returns the last one whose timecode is at or before target.
func (s *Session) scanClustersLocked(target int64) int64 {
	best := s.info.firstCluster
	off := s.info.firstCluster
	for off < s.info.end {
		h, err := ebml.ReadHeader(s.src, off)
		if err != nil || h.ID != ebml.IDCluster {
			break
		}
		tc, err := clusterTimecode(s.src, h)
		if err != nil || tc > target {
			break
		}
		best = h.Offset
		off = h.End()
		if h.Size == ebml.UnknownSize {
			off = s.unsizedClusterEnd(h)
		}
	}
	return best
}

// unsizedClusterEnd finds the end of an unknown-sized cluster by walking its
// children up to the next top-level element.
func (s *Session) unsizedClusterEnd(cluster ebml.Header) int64 {
	off := cluster.DataOffset
	for off < s.info.end {
		h, err := ebml.ReadHeader(s.src, off)
		if err != nil || ebml.IsTopLevel(h.ID) || h.Size == ebml.UnknownSize {
			return off
		}
		off = h.End()
	}
	return s.info.end
}

func clusterTimecode(r io.ReaderAt, cluster ebml.Header) (int64, error) {
	h, err := ebml.ReadHeader(r, cluster.DataOffset)
	if err != nil {
		return 0, err
	}
	if h.ID != ebml.IDTimecode {
		return 0, errors.New("cluster does not start with a timecode")
	}
	v, err := ebml.ReadUint(r, h)
	return int64(v), err
}

// Track returns the track the sequence reads.
func (q *PacketSequence) Track() media.Track {
	return q.track.Track
}

// Next returns the next packet. It returns io.EOF at the end of the track,
// ErrSequenceCanceled after Cancel or Release, ErrClosed once the session is
// closed, and the context error when ctx is done.
func (q *PacketSequence) Next(ctx context.Context) (media.Packet, error) {
	for {
		if err := q.check(ctx); err != nil {
			return media.Packet{}, err
		}
		if len(q.pending) > 0 {
			pkt := q.pending[0]
			q.pending = q.pending[1:]
			if q.skip(pkt) {
				continue
			}
			return pkt, nil
		}
		if q.eof {
			q.finish()
			return media.Packet{}, io.EOF
		}
		if err := q.advance(); err != nil {
			if errors.Is(err, io.EOF) {
				q.eof = true
				continue
			}
			if q.canceled.Load() || q.released.Load() {
				return media.Packet{}, ErrSequenceCanceled
			}
			if q.sessionClosed() {
				return media.Packet{}, ErrClosed
			}
			return media.Packet{}, err
		}
	}
}

func (q *PacketSequence) check(ctx context.Context) error {
	if q.canceled.Load() || q.released.Load() {
		return ErrSequenceCanceled
	}
	if q.sessionClosed() {
		return ErrClosed
	}
	return ctx.Err()
}

func (q *PacketSequence) sessionClosed() bool {
	select {
	case <-q.s.done:
		return true
	default:
		return false
	}
}

func (q *PacketSequence) skip(p media.Packet) bool {
	if q.kind == media.KindVideo || q.start <= 0 {
		return false
	}
	if p.Duration > 0 {
		return p.End() <= q.start
	}
	return p.Timestamp < q.start
}

// advance reads one element and queues any packets it yields for the
// track. It returns io.EOF at the end of the segment.
func (q *PacketSequence) advance() error {
	r := q.s.src
	end := q.s.info.end
	if !q.inCluster {
		if q.off >= end {
			return io.EOF
		}
		h, err := ebml.ReadHeader(r, q.off)
		if err != nil {
			return q.readErr(err, "Segment", q.off)
		}
		if h.ID == ebml.IDCluster {
			q.inCluster = true
			q.clusterEnd = h.End()
			q.clusterTime = 0
			q.off = h.DataOffset
			return nil
		}
		if h.Size == ebml.UnknownSize {
			return io.EOF
		}
		q.off = h.End()
		return nil
	}

	if (q.clusterEnd != ebml.UnknownSize && q.off >= q.clusterEnd) || q.off >= end {
		q.inCluster = false
		return nil
	}
	h, err := ebml.ReadHeader(r, q.off)
	if err != nil {
		return q.readErr(err, "Cluster", q.off)
	}
	if q.clusterEnd == ebml.UnknownSize && ebml.IsTopLevel(h.ID) {
		q.inCluster = false
		return nil
	}
	if h.Size == ebml.UnknownSize {
		return &ParseError{Element: elementName(h.ID), Offset: h.Offset, Err: ebml.ErrUnknownSize}
	}
	q.off = h.End()

	switch h.ID {
	case ebml.IDTimecode:
		v, err := ebml.ReadUint(r, h)
		if err != nil {
			return q.readErr(err, "Timecode", h.Offset)
		}
		q.clusterTime = int64(v)
	case ebml.IDSimpleBlock:
		return q.readSimpleBlock(h)
	case ebml.IDBlockGroup:
		return q.readBlockGroup(h)
	}
	return nil
}

// readErr maps truncation at the end of the data to io.EOF.
func (q *PacketSequence) readErr(err error, element string, off int64) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		q.log.Debug("data ends inside segment", "element", element, "offset", off)
		return io.EOF
	}
	return &ParseError{Element: element, Offset: off, Err: err}
}

func (q *PacketSequence) readSimpleBlock(h ebml.Header) error {
	track, err := peekBlockTrack(q.s.src, h.DataOffset)
	if err != nil {
		return q.readErr(err, "SimpleBlock", h.Offset)
	}
	if track != q.track.ID {
		return nil
	}
	data, err := ebml.ReadBytes(q.s.src, h)
	if err != nil {
		return q.readErr(err, "SimpleBlock", h.Offset)
	}
	b, err := parseBlock(data)
	if err != nil {
		return &ParseError{Element: "SimpleBlock", Offset: h.Offset, Err: err}
	}
	return q.queue(b, b.keyframe, 0)
}

func (q *PacketSequence) readBlockGroup(h ebml.Header) error {
	r := q.s.src
	var blockHdr ebml.Header
	var found, referenced bool
	var duration uint64
	ours := true
	err := ebml.Walk(r, h.DataOffset, h.End(), func(c ebml.Header) error {
		switch c.ID {
		case ebml.IDBlock:
			track, err := peekBlockTrack(r, c.DataOffset)
			if err != nil {
				return err
			}
			if track != q.track.ID {
				ours = false
				return ebml.ErrStop
			}
			blockHdr, found = c, true
		case ebml.IDBlockDuration:
			v, err := ebml.ReadUint(r, c)
			if err != nil {
				return err
			}
			duration = v
		case ebml.IDReferenceBlock:
			referenced = true
		}
		return nil
	})
	if err != nil {
		return q.readErr(err, "BlockGroup", h.Offset)
	}
	if !ours || !found {
		return nil
	}
	data, err := ebml.ReadBytes(r, blockHdr)
	if err != nil {
		return q.readErr(err, "Block", blockHdr.Offset)
	}
	b, err := parseBlock(data)
	if err != nil {
		return &ParseError{Element: "Block", Offset: blockHdr.Offset, Err: err}
	}
	return q.queue(b, !referenced, duration)
}

// queue converts the frames of a block into packets. durationTicks is the
// BlockDuration, 0 when absent.
func (q *PacketSequence) queue(b block, keyframe bool, durationTicks uint64) error {
	info := &q.s.info
	ts := info.seconds(q.clusterTime + int64(b.timecode))
	n := len(b.frames)

	frameDur := q.track.DefaultDuration
	if durationTicks > 0 {
		total := info.seconds(int64(durationTicks))
		if frameDur == 0 || n == 1 {
			frameDur = total / float64(n)
		}
	}

	for i, frame := range b.frames {
		data, err := q.track.decodeFrame(frame)
		if err != nil {
			return &ParseError{Element: "ContentEncoding", Offset: q.off, Err: err}
		}
		q.pending = append(q.pending, media.Packet{
			TrackID:    q.track.ID,
			Timestamp:  ts + float64(i)*frameDur,
			Duration:   frameDur,
			Data:       data,
			IsKeyframe: keyframe && (i == 0 || q.kind != media.KindVideo),
		})
	}
	return nil
}

// Release drops the sequence's claim on its track. Further pulls fail with
// ErrSequenceCanceled. Redundant calls are no-ops.
func (q *PacketSequence) Release() {
	q.released.Store(true)
	q.finish()
}

// Cancel cancels the sequence and drops its claim. Redundant calls, and
// calls after Release or session close, are no-ops.
func (q *PacketSequence) Cancel() {
	q.canceled.Store(true)
	q.finish()
}

func (q *PacketSequence) finish() {
	q.once.Do(func() {
		q.s.mu.Lock()
		if q.s.claims[q.track.ID] == q {
			delete(q.s.claims, q.track.ID)
		}
		q.s.mu.Unlock()
		q.log.Debug("packet sequence finished")
	})
}
