package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/Ananth-NQI/rel8-backend/internal/models"
	"github.com/Ananth-NQI/rel8-backend/internal/storage"
)

const testPhone = "+12125551234"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *fakeSender) SendSMS(to, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, to+": "+body)
	return s.err
}

// failingStore fails every CreateResponse, including inside transactions.
type failingStore struct {
	storage.Store
}

func (f *failingStore) CreateResponse(context.Context, storage.NewResponse) (*models.Response, error) {
	return nil, errors.New("disk full")
}

func (f *failingStore) Transaction(ctx context.Context, fn func(tx storage.Store) error) error {
	return f.Store.Transaction(ctx, func(tx storage.Store) error {
		return fn(&failingStore{Store: tx})
	})
}

type testEnv struct {
	svc           *MessageService
	store         storage.Store
	conversations *storage.MemoryConversationStore
	clock         *fakeClock
	sender        *fakeSender
}

func newTestEnv(t *testing.T, store storage.Store) *testEnv {
	t.Helper()
	if store == nil {
		store = storage.NewMemoryStore()
	}
	env := &testEnv{
		store:         store,
		conversations: storage.NewMemoryConversationStore(30*time.Minute, zap.NewNop()),
		clock:         &fakeClock{now: t0},
		sender:        &fakeSender{},
	}
	env.svc = NewMessageService(MessageServiceOptions{
		Store:         env.store,
		Conversations: env.conversations,
		Clock:         env.clock,
		Sender:        env.sender,
		Logger:        zap.NewNop(),
		SiteURL:       "https://rel8.example.com",
		DefaultRegion: "US",
		AccessCodes:   func() (string, error) { return "0011223344556677", nil },
	})
	return env
}

// enrolled creates a configured user directly in the store.
func (env *testEnv) enrolled(t *testing.T, intervalHours int) *models.User {
	t.Helper()
	ctx := context.Background()
	user := &models.User{Username: "Alex", PhoneNumber: testPhone, AccessCode: "code"}
	if err := env.store.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	vars := storage.Variables{Predictor: "headache", Outcome: "gone", IntervalHours: intervalHours}
	if err := env.store.SetVariables(ctx, user.ID, vars, t0); err != nil {
		t.Fatalf("SetVariables() error = %v", err)
	}
	return user
}

func (env *testEnv) send(t *testing.T, at time.Time, body, sid string) string {
	t.Helper()
	env.clock.Set(at)
	reply, err := env.svc.ProcessMessage(context.Background(), InboundMessage{From: "+1 (212) 555-1234", Body: body, MessageSID: sid})
	if err != nil {
		t.Fatalf("ProcessMessage(%q) error = %v", body, err)
	}
	return reply
}

func (env *testEnv) sessions(t *testing.T, userID string) []*models.Session {
	t.Helper()
	sessions, err := env.store.ListSessions(context.Background(), userID)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	return sessions
}

func TestRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)
	user := env.enrolled(t, 4)

	if reply := env.send(t, t0, " Headache\n", "SM1"); reply != "" {
		t.Fatalf("predictor reply = %q, want none", reply)
	}
	sessions := env.sessions(t, user.ID)
	if len(sessions) != 1 || len(sessions[0].Responses) != 1 || !sessions[0].Responses[0].IsPredictor() {
		t.Fatalf("after predictor: %+v", sessions)
	}
	if sessions[0].Complete {
		t.Fatal("session should be open after the predictor")
	}
	if sessions[0].Responses[0].Message != "Headache" {
		t.Errorf("stored message = %q, want the trimmed text", sessions[0].Responses[0].Message)
	}

	if reply := env.send(t, t0.Add(time.Hour), "gone", "SM2"); reply != "" {
		t.Fatalf("outcome reply = %q, want none", reply)
	}
	sessions = env.sessions(t, user.ID)
	if len(sessions) != 1 || !sessions[0].Complete || len(sessions[0].Responses) != 2 {
		t.Fatalf("after outcome: %+v", sessions)
	}
	if !sessions[0].Responses[1].IsOutcome() {
		t.Fatalf("second response should be the outcome: %+v", sessions[0].Responses[1])
	}

	reply := env.send(t, t0.Add(time.Hour+time.Minute), "gone", "SM3")
	if reply != "we were expecting predictor: headache" {
		t.Fatalf("second outcome reply = %q", reply)
	}
	if got := env.sessions(t, user.ID); len(got) != 1 || len(got[0].Responses) != 2 {
		t.Fatalf("rejected outcome changed sessions: %+v", got)
	}

	history, err := env.svc.History(context.Background(), testPhone)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 || history[0].ElapsedSeconds == nil || *history[0].ElapsedSeconds != 3600 {
		t.Fatalf("History() = %+v, want one session with 3600s elapsed", history)
	}
}

func TestExpiredOutcomeIsDropped(t *testing.T) {
	env := newTestEnv(t, nil)
	user := env.enrolled(t, 2)

	env.send(t, t0, "headache", "SM1")
	reply := env.send(t, t0.Add(2*time.Hour+time.Second), "gone", "SM2")
	if reply != "we were expecting predictor: headache" {
		t.Fatalf("reply = %q", reply)
	}

	sessions := env.sessions(t, user.ID)
	if len(sessions) != 1 || !sessions[0].Complete || len(sessions[0].Responses) != 1 {
		t.Fatalf("expired session should be closed with only the predictor: %+v", sessions)
	}

	// A fresh predictor starts a new session.
	env.send(t, t0.Add(3*time.Hour), "headache", "SM3")
	sessions = env.sessions(t, user.ID)
	if len(sessions) != 2 || sessions[0].Complete {
		t.Fatalf("new predictor should open a second session: %+v", sessions)
	}

	history, err := env.svc.History(context.Background(), testPhone)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	for _, h := range history {
		if h.ElapsedSeconds != nil {
			t.Errorf("session %s has elapsed time without an outcome", h.ID)
		}
	}
}

func TestConcurrentPredictorCreatesOneSession(t *testing.T) {
	for _, sid := range []string{"SM1", ""} {
		name := "same message sid"
		if sid == "" {
			name = "no message sid"
		}
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			user := env.enrolled(t, 4)

			var wg sync.WaitGroup
			replies := make([]string, 10)
			for i := range replies {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					reply, err := env.svc.ProcessMessage(context.Background(), InboundMessage{From: testPhone, Body: "headache", MessageSID: sid})
					if err != nil {
						t.Errorf("ProcessMessage() error = %v", err)
					}
					replies[i] = reply
				}(i)
			}
			wg.Wait()

			sessions := env.sessions(t, user.ID)
			if len(sessions) != 1 || len(sessions[0].Responses) != 1 {
				t.Fatalf("want exactly one session and response, got %+v", sessions)
			}

			silent := 0
			for _, r := range replies {
				if r == "" {
					silent++
				} else if r != "we were expecting outcome: gone" {
					t.Errorf("unexpected reply %q", r)
				}
			}
			if sid != "" && silent != len(replies) {
				t.Errorf("duplicates of a delivered message should get no reply, got %v", replies)
			}
			if sid == "" && silent != 1 {
				t.Errorf("want one accepted predictor, got replies %v", replies)
			}
		})
	}
}

func TestFailedWriteLeavesNoSession(t *testing.T) {
	base := storage.NewMemoryStore()
	env := newTestEnv(t, &failingStore{Store: base})
	user := env.enrolled(t, 4)

	_, err := env.svc.ProcessMessage(context.Background(), InboundMessage{From: testPhone, Body: "headache", MessageSID: "SM1"})
	if err == nil {
		t.Fatal("ProcessMessage() should fail when the response cannot be written")
	}

	latest, err := base.LatestSession(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("LatestSession() error = %v", err)
	}
	if latest != nil {
		t.Fatalf("session left behind after a failed write: %+v", latest)
	}
}

func TestEnrollmentFlow(t *testing.T) {
	env := newTestEnv(t, nil)

	steps := []struct {
		text string
		want string
	}{
		{"hi", "Would you like to enroll? [Yes, No]"},
		{"yes", "What's your name?"},
		{"Alex", "Welcome Alex! Please go to https://rel8.example.com/register/?access-code=0011223344556677"},
		{"headache", "Hi Alex. You need to set up your variables first: https://rel8.example.com"},
	}
	for _, step := range steps {
		if got := env.send(t, t0, step.text, ""); got != step.want {
			t.Fatalf("reply to %q = %q, want %q", step.text, got, step.want)
		}
	}

	user, err := env.store.GetUserByPhone(context.Background(), testPhone)
	if err != nil {
		t.Fatalf("GetUserByPhone() error = %v", err)
	}
	if user.Username != "Alex" || user.AccessCode != "0011223344556677" {
		t.Fatalf("enrolled user = %+v", user)
	}
	if !user.CreatedAt.Equal(t0) {
		t.Errorf("CreatedAt = %v, want clock time %v", user.CreatedAt, t0)
	}
	if env.conversations.Len() != 0 {
		t.Errorf("conversation should be cleared after enrollment")
	}
}

func TestEnrollmentIgnoresRedelivery(t *testing.T) {
	env := newTestEnv(t, nil)

	env.send(t, t0, "hi", "SM1")
	if got := env.send(t, t0, "yes", "SM2"); got != "What's your name?" {
		t.Fatalf("reply to consent = %q", got)
	}
	if got := env.send(t, t0, "yes", "SM2"); got != "" {
		t.Fatalf("reply to redelivered consent = %q, want none", got)
	}
	if _, err := env.store.GetUserByPhone(context.Background(), testPhone); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("redelivered consent created a user, err = %v", err)
	}

	want := "Welcome Alex! Please go to https://rel8.example.com/register/?access-code=0011223344556677"
	if got := env.send(t, t0, "Alex", "SM3"); got != want {
		t.Fatalf("reply to name = %q", got)
	}
	user, err := env.store.GetUserByPhone(context.Background(), testPhone)
	if err != nil {
		t.Fatalf("GetUserByPhone() error = %v", err)
	}
	if user.Username != "Alex" {
		t.Fatalf("Username = %q, want Alex", user.Username)
	}
}

func TestEnrollmentIgnoresRedeliveredDecline(t *testing.T) {
	env := newTestEnv(t, nil)

	env.send(t, t0, "hi", "SM1")
	if got := env.send(t, t0, "no", "SM2"); got != "Sorry to hear that. Bye." {
		t.Fatalf("reply = %q", got)
	}
	if got := env.send(t, t0, "no", "SM2"); got != "" {
		t.Fatalf("reply to redelivered decline = %q, want none", got)
	}
	if got := env.send(t, t0, "hello again", "SM3"); got != "Would you like to enroll? [Yes, No]" {
		t.Fatalf("reply after reset = %q", got)
	}
}

func TestEnrollmentDeclined(t *testing.T) {
	env := newTestEnv(t, nil)

	env.send(t, t0, "hi", "")
	if got := env.send(t, t0, "no", ""); got != "Sorry to hear that. Bye." {
		t.Fatalf("reply = %q", got)
	}
	if env.conversations.Len() != 0 {
		t.Fatal("declining should reset the conversation")
	}
	if got := env.send(t, t0, "hello again", ""); got != "Would you like to enroll? [Yes, No]" {
		t.Fatalf("reply after reset = %q", got)
	}
	if _, err := env.store.GetUserByPhone(context.Background(), testPhone); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("no user should exist, got err = %v", err)
	}
}

func TestInvalidPhone(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.svc.ProcessMessage(context.Background(), InboundMessage{From: "not a number", Body: "hi"})
	if !errors.Is(err, ErrInvalidPhone) {
		t.Fatalf("error = %v, want ErrInvalidPhone", err)
	}
}

func TestSetVariables(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	user := &models.User{Username: "Alex", PhoneNumber: testPhone, AccessCode: "code"}
	if err := env.store.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	invalid := []storage.Variables{
		{Predictor: "", Outcome: "gone", IntervalHours: 2},
		{Predictor: "headache", Outcome: "  ", IntervalHours: 2},
		{Predictor: "headache", Outcome: "gone", IntervalHours: 0},
	}
	for _, vars := range invalid {
		if _, err := env.svc.SetVariables(ctx, testPhone, vars); !errors.Is(err, ErrInvalidVariables) {
			t.Errorf("SetVariables(%+v) error = %v, want ErrInvalidVariables", vars, err)
		}
	}

	if _, err := env.svc.SetVariables(ctx, "+12125550000", storage.Variables{Predictor: "a", Outcome: "b", IntervalHours: 1}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("SetVariables() for unknown user error = %v, want ErrNotFound", err)
	}

	got, err := env.svc.SetVariables(ctx, "(212) 555-1234", storage.Variables{Predictor: "Headache", Outcome: "Gone", IntervalHours: 4})
	if err != nil {
		t.Fatalf("SetVariables() error = %v", err)
	}
	if got.PredictorKeyword() != "headache" || got.OutcomeKeyword() != "gone" || got.IntervalHours() != 4 {
		t.Fatalf("variables = %q/%q/%d", got.PredictorKeyword(), got.OutcomeKeyword(), got.IntervalHours())
	}
	if len(env.sender.sent) != 1 {
		t.Fatalf("confirmations sent = %d, want 1", len(env.sender.sent))
	}

	env.sender.err = errors.New("twilio down")
	if _, err := env.svc.SetVariables(ctx, testPhone, storage.Variables{Predictor: "a", Outcome: "b", IntervalHours: 1}); err != nil {
		t.Fatalf("SetVariables() should not fail when the confirmation does: %v", err)
	}
}

func TestTrimBody(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  headache  ", "headache"},
		{"abcdefghijklmnopqrst", "abcdefghijklmnopqrst"},
		{"abcdefghijklmnopqrstu", "abcdefghijklmnopqrst..."},
		{"ééééééééééééééééééééé", "éééééééééééééééééééé..."},
		{"🙂🙂🙂🙂🙂🙂🙂🙂🙂🙂🙂🙂🙂🙂🙂🙂🙂🙂🙂🙂🙂🙂", "🙂🙂🙂🙂🙂🙂🙂🙂🙂🙂🙂🙂🙂🙂🙂🙂🙂🙂🙂🙂..."},
	}
	for _, tt := range tests {
		got := trimBody(tt.in)
		if got != tt.want {
			t.Errorf("trimBody(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("trimBody(%q) returned invalid UTF-8", tt.in)
		}
	}
}
