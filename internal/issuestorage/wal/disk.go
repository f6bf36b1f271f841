package wal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/natefinch/atomic"

	"beads-engine/internal/issuestorage"
)

const snapshotVersion = 1

// snapshot is the on-disk form of snapshot.json.
type snapshot struct {
	Version       int                        `json:"version"`
	WrittenAt     time.Time                  `json:"written_at"`
	Seq           int64                      `json:"seq"`
	Issues        []*issuestorage.Issue      `json:"issues"`
	Dependencies  []*issuestorage.Dependency `json:"dependencies"`
	Comments      []*issuestorage.Comment    `json:"comments"`
	NextCommentID int64                      `json:"next_comment_id"`
}

// diskState tracks how much of the files the published state reflects.
type diskState struct {
	snap    os.FileInfo // nil when there is no snapshot
	snapSeq int64

	offset  int64 // end of the last committed record read or written
	size    int64 // log size when last observed
	modTime time.Time
	lines   int   // lines consumed up to offset
	records int   // records in the log past the snapshot
	seq     int64 // highest committed seq seen
	torn    bool  // bytes past offset form an unfinished commit
}

// loadLocked rebuilds the state from scratch.
func (s *Store) loadLocked() error {
	st := newState()
	var disk diskState

	info, snap, err := s.readSnapshot()
	if err != nil {
		return err
	}
	if snap != nil {
		restoreSnapshot(st, snap)
		disk.snap = info
		disk.snapSeq = snap.Seq
		disk.seq = snap.Seq
	}

	var report issuestorage.LoadReport
	if err := s.readLog(st, &disk, &report); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = st
	s.report = report
	s.mu.Unlock()
	s.disk = disk

	if report.Skipped > 0 {
		s.logger.Warn("skipped unreadable log records", "dir", s.dir, "skipped", report.Skipped)
	}
	return nil
}

// refreshLocked brings the state up to date with the files, replaying
// only the log tail when the snapshot has not been rewritten.
func (s *Store) refreshLocked() error {
	info, err := statOptional(s.snapshotPath())
	if err != nil {
		return issuestorage.IOError("checking snapshot", err)
	}
	if snapshotChanged(s.disk.snap, info) {
		return s.loadLocked()
	}

	logInfo, err := statOptional(s.logPath())
	if err != nil {
		return issuestorage.IOError("checking log", err)
	}
	var size int64
	var mod time.Time
	if logInfo != nil {
		size, mod = logInfo.Size(), logInfo.ModTime()
	}
	if size < s.disk.offset {
		return s.loadLocked()
	}
	if size == s.disk.size && mod.Equal(s.disk.modTime) {
		return nil
	}

	st := s.current().clone()
	disk := s.disk
	disk.torn = false
	var report issuestorage.LoadReport
	if err := s.readLog(st, &disk, &report); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = st
	s.report.Records += report.Records
	s.report.Skipped += report.Skipped
	s.report.Corrupt = append(s.report.Corrupt, report.Corrupt...)
	s.mu.Unlock()
	s.disk = disk
	return nil
}

func (s *Store) readSnapshot() (os.FileInfo, *snapshot, error) {
	data, err := os.ReadFile(s.snapshotPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, issuestorage.IOError("reading snapshot", err)
	}
	info, err := os.Stat(s.snapshotPath())
	if err != nil {
		return nil, nil, issuestorage.IOError("reading snapshot", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, nil, issuestorage.NewError("load", "",
			fmt.Errorf("%w: %s: %v", issuestorage.ErrCorruption, SnapshotFile, err))
	}
	if snap.Version > snapshotVersion {
		return nil, nil, issuestorage.NewError("load", "",
			fmt.Errorf("%w: %s has unsupported version %d", issuestorage.ErrCorruption, SnapshotFile, snap.Version))
	}
	return info, &snap, nil
}

// readLog applies the log from disk.offset onwards, advancing disk and
// adding skipped lines to report. Records are buffered until the record
// that closes their commit, then applied together. Anything past the last
// commit is treated as a torn write: it is reported and left for
// appendLocked to cut off.
func (s *Store) readLog(st *state, disk *diskState, report *issuestorage.LoadReport) error {
	f, err := os.Open(s.logPath())
	if errors.Is(err, os.ErrNotExist) {
		disk.size, disk.modTime = 0, time.Time{}
		return nil
	}
	if err != nil {
		return issuestorage.IOError("opening log", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return issuestorage.IOError("opening log", err)
	}
	if _, err := f.Seek(disk.offset, io.SeekStart); err != nil {
		return issuestorage.IOError("seeking log", err)
	}

	corrupt := func(line int, off int64, err error) {
		report.Skipped++
		report.Corrupt = append(report.Corrupt, issuestorage.CorruptRecord{Line: line, Offset: off, Err: err.Error()})
	}

	type pendingRecord struct {
		line int
		off  int64
		rec  record
	}
	var pending []pendingRecord
	pos, lineNo := disk.offset, disk.lines

	br := bufio.NewReader(f)
	for {
		line, readErr := br.ReadBytes('\n')
		if len(line) == 0 && readErr == io.EOF {
			break
		}
		if readErr != nil && readErr != io.EOF {
			return issuestorage.IOError("reading log", readErr)
		}
		lineNo++
		start := pos

		if readErr == io.EOF {
			corrupt(lineNo, start, errors.New("incomplete final record"))
			disk.torn = true
			break
		}
		pos += int64(len(line))

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		r, err := decodeRecord(line)
		if err != nil {
			corrupt(lineNo, start, err)
			continue
		}
		pending = append(pending, pendingRecord{line: lineNo, off: start, rec: r})
		if !r.Commit {
			continue
		}

		for _, p := range pending {
			if p.rec.Seq > disk.seq {
				disk.seq = p.rec.Seq
			}
			if p.rec.Seq != 0 && p.rec.Seq <= disk.snapSeq {
				continue
			}
			disk.records++
			if err := apply(st, p.rec); err != nil {
				corrupt(p.line, p.off, fmt.Errorf("%s %s: %w", p.rec.Op, p.rec.ID, err))
				continue
			}
			report.Records++
		}
		pending = pending[:0]
		disk.offset, disk.lines = pos, lineNo
	}

	for _, p := range pending {
		corrupt(p.line, p.off, fmt.Errorf("%s %s: record from an unfinished commit", p.rec.Op, p.rec.ID))
	}
	if pos > disk.offset {
		disk.torn = true
	}
	disk.size, disk.modTime = info.Size(), info.ModTime()
	return nil
}

// appendLocked writes records to the log in one write and syncs it. The
// last record closes the commit. On failure the log is cut back to its
// previous length.
func (s *Store) appendLocked(records []record) error {
	seq := s.disk.seq
	var buf bytes.Buffer
	for i := range records {
		seq++
		records[i].Seq = seq
		records[i].Commit = i == len(records)-1
		data, err := json.Marshal(records[i])
		if err != nil {
			return fmt.Errorf("encoding log record: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	f, err := os.OpenFile(s.logPath(), os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return issuestorage.IOError("opening log", err)
	}
	defer f.Close()

	if s.disk.torn {
		s.logger.Warn("truncating incomplete log record", "dir", s.dir, "offset", s.disk.offset)
	}
	if err := f.Truncate(s.disk.offset); err != nil {
		return issuestorage.IOError("repairing log", err)
	}
	if _, err := f.WriteAt(buf.Bytes(), s.disk.offset); err != nil {
		_ = f.Truncate(s.disk.offset)
		return issuestorage.IOError("appending to log", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Truncate(s.disk.offset)
		return issuestorage.IOError("syncing log", err)
	}

	s.disk.torn = false
	s.disk.offset += int64(buf.Len())
	s.disk.lines += len(records)
	s.disk.records += len(records)
	s.disk.seq = seq
	if info, err := f.Stat(); err == nil {
		s.disk.size, s.disk.modTime = info.Size(), info.ModTime()
	}
	return nil
}

// compactLocked writes the published state as a new snapshot and empties
// the log. A crash between the two steps is harmless: replay skips
// records the snapshot already covers.
func (s *Store) compactLocked() error {
	snap := takeSnapshot(s.current(), s.disk.seq, s.now().UTC())
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := atomic.WriteFile(s.snapshotPath(), bytes.NewReader(data)); err != nil {
		return issuestorage.IOError("writing snapshot", err)
	}
	info, err := os.Stat(s.snapshotPath())
	if err != nil {
		return issuestorage.IOError("writing snapshot", err)
	}
	s.disk.snap = info
	s.disk.snapSeq = snap.Seq

	if err := os.Truncate(s.logPath(), 0); err != nil && !errors.Is(err, os.ErrNotExist) {
		return issuestorage.IOError("truncating log", err)
	}
	s.disk.offset, s.disk.lines, s.disk.records, s.disk.torn = 0, 0, 0, false
	s.disk.size, s.disk.modTime = 0, time.Time{}
	if info, err := os.Stat(s.logPath()); err == nil {
		s.disk.modTime = info.ModTime()
	}

	s.mu.Lock()
	s.report = issuestorage.LoadReport{}
	s.mu.Unlock()
	s.logger.Debug("compacted", "dir", s.dir, "seq", snap.Seq, "issues", len(snap.Issues))
	return nil
}

func takeSnapshot(st *state, seq int64, now time.Time) *snapshot {
	snap := &snapshot{
		Version:       snapshotVersion,
		WrittenAt:     now,
		Seq:           seq,
		Issues:        make([]*issuestorage.Issue, 0, len(st.issues)),
		Dependencies:  st.edgesWhere(nil),
		Comments:      []*issuestorage.Comment{},
		NextCommentID: st.nextCommentID,
	}
	ids := make([]string, 0, len(st.issues))
	for id := range st.issues {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		issue, _ := st.get(id)
		snap.Issues = append(snap.Issues, issue)
		snap.Comments = append(snap.Comments, st.commentsOf(id)...)
	}
	return snap
}

func restoreSnapshot(st *state, snap *snapshot) {
	for _, issue := range snap.Issues {
		if issue == nil || issue.ID == "" {
			continue
		}
		st.putIssue(issue)
		for _, l := range issue.Labels {
			st.addLabel(issue.ID, l)
		}
	}
	for _, d := range snap.Dependencies {
		if d != nil {
			st.putEdge(d)
		}
	}
	for _, c := range snap.Comments {
		if c != nil && st.exists(c.IssueID) {
			st.addComment(c)
		}
	}
	if snap.NextCommentID > st.nextCommentID {
		st.nextCommentID = snap.NextCommentID
	}
}

func statOptional(path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return info, err
}

func snapshotChanged(old, cur os.FileInfo) bool {
	if old == nil || cur == nil {
		return old != cur
	}
	return !os.SameFile(old, cur) || !old.ModTime().Equal(cur.ModTime()) || old.Size() != cur.Size()
}
