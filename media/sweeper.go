package media

import "time"

// StartSweeper launches a background goroutine that periodically cross-checks
// the catalog against the blob store. Catalog rows without a blob are logged as
// consistency faults (streaming already answers 404 for them); blobs without a
// catalog row are orphans from interrupted admissions and get removed. Best
// effort: failures are logged and retried next round.
func (s *Service) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	go func() {
		for {
			time.Sleep(interval)
			s.SweepOnce()
		}
	}()
}

// SweepOnce runs a single consistency pass.
func (s *Service) SweepOnce() {
	catalogKeys, err := s.cat.AllKeys()
	if err != nil {
		s.log.Warnf("sweeper: catalog key scan failed: %v", err)
		return
	}
	diskKeys, err := s.store.Keys()
	if err != nil {
		s.log.Warnf("sweeper: blob key scan failed: %v", err)
		return
	}

	onDisk := make(map[string]bool, len(diskKeys))
	for _, k := range diskKeys {
		onDisk[k] = true
	}

	known := make(map[string]bool, len(catalogKeys))
	for _, k := range catalogKeys {
		known[k] = true
		if !onDisk[k] {
			s.log.Warnw("sweeper: catalog row has no blob on disk", "key", k)
		}
	}

	// Hold the admission lock while removing orphans so an upload between the
	// blob write and the catalog insert is not mistaken for one.
	s.admitMu.Lock()
	defer s.admitMu.Unlock()
	for _, k := range diskKeys {
		if known[k] {
			continue
		}
		if entry, err := s.cat.GetByKey(k); err != nil || entry != nil {
			continue
		}
		if err := s.store.Delete(k); err != nil {
			s.log.Warnw("sweeper: orphan blob removal failed", "key", k, "error", err)
		} else {
			s.log.Infow("sweeper: removed orphan blob", "key", k)
		}
	}
}
