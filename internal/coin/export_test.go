package coin

import "time"

// SetClock pins the ledger's notion of "today" for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}
