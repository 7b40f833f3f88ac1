package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// fakeStore is an in-memory Store used by engine tests. InTx holds a
// single mutex for the whole unit of work, mirroring the row-lock
// serialization the real store gets from the database.
type fakeStore struct {
	mu sync.Mutex

	users    map[string]User
	licenses map[string]License
	links    map[[2]int64]bool
	devices  map[int64]map[string]fakeDevice
	activity []ActivityRecord
	stats    map[int64]LicenseStats

	nextUserID     int64
	nextLicenseID  int64
	nextActivityID int64

	pingErr error
}

type fakeDevice struct {
	name       string
	lastActive time.Time
	active     bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[string]User),
		licenses: make(map[string]License),
		links:    make(map[[2]int64]bool),
		devices:  make(map[int64]map[string]fakeDevice),
		stats:    make(map[int64]LicenseStats),
	}
}

// seedLicense installs a license row ahead of a test run
func (s *fakeStore) seedLicense(lic License) License {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLicenseID++
	lic.ID = s.nextLicenseID
	s.licenses[lic.Key] = lic
	return lic
}

func (s *fakeStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&fakeTx{s: s})
}

type fakeTx struct {
	s *fakeStore
}

func (t *fakeTx) ResolveUser(ctx context.Context, userID string) (User, error) {
	if u, ok := t.s.users[userID]; ok {
		return u, nil
	}
	t.s.nextUserID++
	u := User{ID: t.s.nextUserID, UserID: userID, CreatedAt: time.Now()}
	t.s.users[userID] = u
	return u, nil
}

func (t *fakeTx) ResolveLicense(ctx context.Context, key string, defaults LicenseDefaults) (License, error) {
	if lic, ok := t.s.licenses[key]; ok {
		return lic, nil
	}
	t.s.nextLicenseID++
	lic := License{
		ID:         t.s.nextLicenseID,
		Key:        key,
		Status:     defaults.Status,
		Type:       defaults.Type,
		ExpiresAt:  defaults.ExpiresAt,
		MaxDevices: defaults.MaxDevices,
	}
	t.s.licenses[key] = lic
	return lic, nil
}

func (t *fakeTx) LinkUserLicense(ctx context.Context, userID, licenseID int64) error {
	t.s.links[[2]int64{userID, licenseID}] = true
	return nil
}

func (t *fakeTx) TouchDevice(ctx context.Context, licenseID int64, device DeviceInfo, at time.Time) (bool, error) {
	devs, ok := t.s.devices[licenseID]
	if !ok {
		return false, nil
	}
	d, ok := devs[device.DeviceID]
	if !ok {
		return false, nil
	}
	d.name = device.DeviceName
	d.lastActive = at
	d.active = true
	devs[device.DeviceID] = d
	return true, nil
}

func (t *fakeTx) CountActiveDevices(ctx context.Context, licenseID int64) (int, error) {
	count := 0
	for _, d := range t.s.devices[licenseID] {
		if d.active {
			count++
		}
	}
	return count, nil
}

func (t *fakeTx) InsertDevice(ctx context.Context, licenseID int64, device DeviceInfo, at time.Time) error {
	if t.s.devices[licenseID] == nil {
		t.s.devices[licenseID] = make(map[string]fakeDevice)
	}
	t.s.devices[licenseID][device.DeviceID] = fakeDevice{
		name:       device.DeviceName,
		lastActive: at,
		active:     true,
	}
	return nil
}

func (t *fakeTx) AppendActivity(ctx context.Context, licenseID, userID int64, rec *ActivityRecord) error {
	t.s.nextActivityID++
	rec.ID = t.s.nextActivityID
	t.s.activity = append(t.s.activity, *rec)
	return nil
}

func (t *fakeTx) BumpStats(ctx context.Context, licenseID int64, update StatsUpdate) error {
	st := t.s.stats[licenseID]
	st.TotalValidations++
	at := update.At
	st.LastValidation = &at
	st.LastIP = update.IPAddress
	if update.Valid {
		if update.NewDevice {
			st.ActiveDevices++
		}
	} else {
		st.FailedAttempts++
	}
	t.s.stats[licenseID] = st
	return nil
}

func (s *fakeStore) ReadStats(ctx context.Context, licenseKey string) (LicenseStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lic, ok := s.licenses[licenseKey]
	if !ok {
		return LicenseStats{LicenseKey: licenseKey}, nil
	}
	st := s.stats[lic.ID]
	st.LicenseKey = licenseKey
	return st, nil
}

func (s *fakeStore) RecentActivity(ctx context.Context, licenseKey string, limit int) ([]ActivityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ActivityRecord
	for i := len(s.activity) - 1; i >= 0 && len(out) < limit; i-- {
		if s.activity[i].LicenseKey == licenseKey {
			out = append(out, s.activity[i])
		}
	}
	return out, nil
}

func (s *fakeStore) SearchActivity(ctx context.Context, filter ActivityFilter) ([]ActivityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ActivityRecord
	for _, rec := range s.activity {
		if filter.LicenseKey != "" && rec.LicenseKey != filter.LicenseKey {
			continue
		}
		if filter.UserID != "" && rec.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		if filter.Start != nil && rec.CreatedAt.Before(*filter.Start) {
			continue
		}
		if filter.End != nil && rec.CreatedAt.After(*filter.End) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *fakeStore) WindowActivity(ctx context.Context, licenseKey string, since time.Time) ([]ActivityRecord, WindowStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		out   []ActivityRecord
		stats WindowStats
		ips   = map[string]bool{}
		devs  = map[string]bool{}
	)
	for _, rec := range s.activity {
		if rec.LicenseKey != licenseKey || rec.CreatedAt.Before(since) {
			continue
		}
		out = append(out, rec)
		stats.TotalAttempts++
		if rec.Status == OutcomeValid {
			stats.SuccessfulCount++
		} else {
			stats.FailedCount++
		}
		ips[rec.IPAddress] = true
		devs[strings.TrimSpace(string(rec.DeviceInfo))] = true
	}
	stats.UniqueIPs = int64(len(ips))
	stats.UniqueDevices = int64(len(devs))
	return out, stats, nil
}

func (s *fakeStore) Summary(ctx context.Context) (Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	summary := Summary{TotalLicenses: int64(len(s.stats))}
	for _, st := range s.stats {
		summary.TotalValidations += st.TotalValidations
		summary.TotalActiveDevices += st.ActiveDevices
		summary.TotalFailedAttempts += st.FailedAttempts
	}
	return summary, nil
}

func (s *fakeStore) RecentActivityAll(ctx context.Context, limit int) ([]ActivityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ActivityRecord
	for i := len(s.activity) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.activity[i])
	}
	return out, nil
}

func (s *fakeStore) Counts(ctx context.Context) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.activity)), int64(len(s.stats)), nil
}

func (s *fakeStore) Ping(ctx context.Context) error {
	return s.pingErr
}
