package localserver

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Rorqualx/turnstile-solver-go/internal/types"
)

func newTestStore(now *time.Time) *Store {
	s := NewStore()
	s.now = func() time.Time { return *now }
	return s
}

func TestStore_CreateAndGet(t *testing.T) {
	s := NewStore()
	a := s.Create(SessionRequest{Sitekey: "1xAAA", URL: "https://x.test", Action: "login", CData: "c"})
	b := s.Create(SessionRequest{Sitekey: "1xAAA", URL: "https://x.test"})

	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("ids not unique: %q %q", a.ID, b.ID)
	}
	if a.Status != StatusWaiting || a.Token != nil || a.CompletedAt != nil {
		t.Errorf("new session = %+v", a)
	}

	got, ok := s.Get(a.ID)
	if !ok {
		t.Fatal("Get() did not find created session")
	}
	if got.Sitekey != "1xAAA" || got.URL != "https://x.test" || got.Action != "login" || got.CData != "c" {
		t.Errorf("Get() = %+v", got)
	}
	if _, ok := s.Get("missing"); ok {
		t.Error("Get() found unknown id")
	}
}

func TestStore_CompleteFirstWins(t *testing.T) {
	s := NewStore()
	sess := s.Create(SessionRequest{Sitekey: "k", URL: "u"})

	got, accepted, err := s.Complete(sess.ID, "first")
	if err != nil || !accepted {
		t.Fatalf("Complete() = %v, %v", accepted, err)
	}
	if !got.Completed() || got.TokenValue() != "first" || got.CompletedAt == nil {
		t.Errorf("completed session = %+v", got)
	}

	got, accepted, err = s.Complete(sess.ID, "second")
	if err != nil || accepted {
		t.Fatalf("second Complete() = %v, %v; want not accepted", accepted, err)
	}
	if got.TokenValue() != "first" {
		t.Errorf("token = %q, want first", got.TokenValue())
	}

	stored, _ := s.Get(sess.ID)
	if stored.TokenValue() != "first" {
		t.Errorf("stored token = %q, want first", stored.TokenValue())
	}
}

func TestStore_CompleteUnknown(t *testing.T) {
	s := NewStore()
	if _, _, err := s.Complete("nope", "tok"); !errors.Is(err, types.ErrSessionNotFound) {
		t.Fatalf("error = %v, want ErrSessionNotFound", err)
	}
}

func TestStore_Cleanup(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(&now)

	old := s.Create(SessionRequest{Sitekey: "old"})
	now = now.Add(50 * time.Minute)
	young := s.Create(SessionRequest{Sitekey: "young"})
	now = now.Add(20 * time.Minute)

	if removed := s.Cleanup(time.Hour); removed != 1 {
		t.Fatalf("Cleanup() removed %d, want 1", removed)
	}
	if _, ok := s.Get(old.ID); ok {
		t.Error("old session survived cleanup")
	}
	if _, ok := s.Get(young.ID); !ok {
		t.Error("young session was removed")
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestStore_AllOrdered(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newTestStore(&now)
	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, s.Create(SessionRequest{}).ID)
		now = now.Add(time.Second)
	}
	all := s.All()
	for i, sess := range all {
		if sess.ID != ids[i] {
			t.Fatalf("All()[%d] = %s, want %s", i, sess.ID, ids[i])
		}
	}
}

func TestStore_ConcurrentComplete(t *testing.T) {
	s := NewStore()
	sess := s.Create(SessionRequest{})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, _ := s.Complete(sess.ID, "tok")
			_, _ = s.Get(sess.ID)
			if ok {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if accepted != 1 {
		t.Errorf("accepted = %d, want exactly 1", accepted)
	}
}

func TestStore_DomainStats(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(&now)

	a := s.Create(SessionRequest{Sitekey: "k", URL: "https://a.test/login"})
	s.Create(SessionRequest{Sitekey: "k", URL: "https://a.test/signup"})
	s.Create(SessionRequest{Sitekey: "k", URL: "https://b.test/"})

	now = now.Add(3 * time.Second)
	s.Complete(a.ID, "tok")
	s.Complete(a.ID, "again")

	now = now.Add(2 * time.Hour)
	if removed := s.Cleanup(time.Hour); removed != 3 {
		t.Fatalf("Cleanup() removed %d, want 3", removed)
	}

	all := s.DomainStats()
	if len(all) != 2 {
		t.Fatalf("DomainStats() = %+v", all)
	}
	got := all[0]
	if got.Domain != "a.test" || got.Sessions != 2 || got.Tokens != 1 || got.Expired != 1 {
		t.Errorf("a.test = %+v", got)
	}
	if got.AvgTokenTime() != 3*time.Second {
		t.Errorf("AvgTokenTime() = %v, want 3s", got.AvgTokenTime())
	}
	if all[1].Domain != "b.test" || all[1].Expired != 1 {
		t.Errorf("b.test = %+v", all[1])
	}
}
