package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"paybybot/internal/parking"
	logx "paybybot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.payments.jsonl        (append-only JSON Lines)
//   - <prefix>.pending.snapshot.json (compacted pending pay jobs)
//   - <prefix>.pending.journal.jsonl (append-only put/delete journal)
//
// The journal is compacted into the snapshot on open and every 100 writes.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	paymentsPath string
	paymentsFile *os.File

	pendingSnapshotPath string
	pendingJournalFile  *os.File
	pending             map[string]parking.PendingPay

	pendingWrites int
}

type pendingRecord struct {
	Op  string             `json:"op"` // put | del
	Pay parking.PendingPay `json:"pay"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	paymentsPath := prefix + ".payments.jsonl"
	snapPath := prefix + ".pending.snapshot.json"
	journalPath := prefix + ".pending.journal.jsonl"

	pf, err := os.OpenFile(paymentsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	pending := map[string]parking.PendingPay{}
	if err := loadPendingSnapshot(snapPath, pending); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("pending snapshot unreadable", logx.Err(err))
	}
	if err := replayPendingJournal(journalPath, pending); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("pending journal unreadable", logx.Err(err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = pf.Close()
		return nil, err
	}

	s := &fileStore{
		log:                 log,
		paymentsPath:        paymentsPath,
		paymentsFile:        pf,
		pendingSnapshotPath: snapPath,
		pendingJournalFile:  jf,
		pending:             pending,
	}
	s.mu.Lock()
	if err := s.compactLocked(); err != nil {
		log.Debug("pending compact failed", logx.Err(err))
	}
	s.mu.Unlock()
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.paymentsFile != nil {
		err1 = s.paymentsFile.Close()
		s.paymentsFile = nil
	}
	if s.pendingJournalFile != nil {
		err2 = s.pendingJournalFile.Close()
		s.pendingJournalFile = nil
	}
	return errors.Join(err1, err2)
}

func (s *fileStore) AppendPayment(ctx context.Context, rec parking.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paymentsFile == nil {
		return ErrDisabled
	}
	return json.NewEncoder(s.paymentsFile).Encode(rec)
}

func (s *fileStore) ListPayments(ctx context.Context, limit int) ([]parking.PaymentRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.paymentsPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var all []parking.PaymentRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec parking.PaymentRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		all = append(all, rec)
		if len(all) > limit {
			all = all[1:]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	// newest first
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return all, nil
}

func (s *fileStore) PutPendingPay(ctx context.Context, p parking.PendingPay) error {
	if strings.TrimSpace(p.JobID) == "" {
		return errors.New("pending pay job id required")
	}
	return s.journal(pendingRecord{Op: "put", Pay: p}, func() { s.pending[p.JobID] = p })
}

func (s *fileStore) DeletePendingPay(ctx context.Context, jobID string) error {
	return s.journal(pendingRecord{Op: "del", Pay: parking.PendingPay{JobID: jobID}}, func() { delete(s.pending, jobID) })
}

func (s *fileStore) journal(rec pendingRecord, apply func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingJournalFile == nil {
		return ErrDisabled
	}
	apply()
	if err := json.NewEncoder(s.pendingJournalFile).Encode(rec); err != nil {
		return err
	}
	s.pendingWrites++
	if s.pendingWrites%100 == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("pending compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) ListPendingPay(ctx context.Context) ([]parking.PendingPay, error) {
	s.mu.Lock()
	out := make([]parking.PendingPay, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

func (s *fileStore) compactLocked() error {
	list := make([]parking.PendingPay, 0, len(s.pending))
	for _, p := range s.pending {
		list = append(list, p)
	}

	tmp := s.pendingSnapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(list); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.pendingSnapshotPath); err != nil {
		return err
	}
	if err := s.pendingJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.pendingJournalFile.Seek(0, 2)
	return err
}

func loadPendingSnapshot(path string, out map[string]parking.PendingPay) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var list []parking.PendingPay
	if err := json.NewDecoder(f).Decode(&list); err != nil {
		return err
	}
	for _, p := range list {
		out[p.JobID] = p
	}
	return nil
}

func replayPendingJournal(path string, out map[string]parking.PendingPay) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r pendingRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Pay.JobID == "" {
			continue
		}
		switch r.Op {
		case "put":
			out[r.Pay.JobID] = r.Pay
		case "del":
			delete(out, r.Pay.JobID)
		}
	}
	return sc.Err()
}
