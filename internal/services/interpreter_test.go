package services

import (
	"reflect"
	"testing"
	"time"

	"github.com/Ananth-NQI/rel8-backend/internal/storage"
)

var (
	t0         = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	configured = UserConfig{Username: "Alex", PredictorKeyword: "headache", OutcomeKeyword: "gone", IntervalHours: 2}
)

func TestDecide(t *testing.T) {
	interp := NewInterpreter("https://rel8.example.com")
	open := &SessionSnapshot{ID: "s1", CreatedAt: t0}
	complete := &SessionSnapshot{ID: "s1", CreatedAt: t0, Complete: true}

	tests := []struct {
		name     string
		snapshot Snapshot
		want     Decision
	}{
		{
			name:     "missing variables",
			snapshot: Snapshot{User: UserConfig{Username: "Alex"}, Message: "headache", Now: t0},
			want: Decision{
				Action: ActionReject,
				Reason: ReasonConfigurationMissing,
				Reply:  "Hi Alex. You need to set up your variables first: https://rel8.example.com",
			},
		},
		{
			name: "missing interval",
			snapshot: Snapshot{
				User:    UserConfig{Username: "Alex", PredictorKeyword: "headache", OutcomeKeyword: "gone"},
				Message: "headache", Now: t0,
			},
			want: Decision{
				Action: ActionReject,
				Reason: ReasonConfigurationMissing,
				Reply:  "Hi Alex. You need to set up your variables first: https://rel8.example.com",
			},
		},
		{
			name:     "keyword mismatch",
			snapshot: Snapshot{User: configured, Message: "pizza", Now: t0},
			want:     Decision{Action: ActionReject, Reason: ReasonKeywordMismatch, Reply: replyKeywordMismatch},
		},
		{
			name:     "predictor with no sessions",
			snapshot: Snapshot{User: configured, Message: "  Headache ", Now: t0},
			want: Decision{
				Action: ActionStartSession,
				Effects: []Effect{
					{Kind: EffectCreateSession},
					{Kind: EffectCreateResponse, InNewSession: true, Response: storage.ResponsePredictor},
				},
			},
		},
		{
			name:     "predictor after complete session",
			snapshot: Snapshot{User: configured, Latest: complete, Message: "headache", Now: t0.Add(time.Hour)},
			want: Decision{
				Action: ActionStartSession,
				Effects: []Effect{
					{Kind: EffectCreateSession},
					{Kind: EffectCreateResponse, InNewSession: true, Response: storage.ResponsePredictor},
				},
			},
		},
		{
			name:     "predictor while session open",
			snapshot: Snapshot{User: configured, Latest: open, Message: "headache", Now: t0.Add(time.Hour)},
			want:     Decision{Action: ActionReject, Reason: ReasonSequenceViolation, Reply: "we were expecting outcome: gone"},
		},
		{
			name:     "predictor after expired session",
			snapshot: Snapshot{User: configured, Latest: open, Message: "headache", Now: t0.Add(3 * time.Hour)},
			want: Decision{
				Action: ActionStartSession,
				Effects: []Effect{
					{Kind: EffectCloseSession, SessionID: "s1"},
					{Kind: EffectCreateSession},
					{Kind: EffectCreateResponse, InNewSession: true, Response: storage.ResponsePredictor},
				},
			},
		},
		{
			name:     "outcome with no sessions",
			snapshot: Snapshot{User: configured, Message: "gone", Now: t0},
			want:     Decision{Action: ActionReject, Reason: ReasonSequenceViolation, Reply: "we were expecting predictor: headache"},
		},
		{
			name:     "outcome after complete session",
			snapshot: Snapshot{User: configured, Latest: complete, Message: "gone", Now: t0.Add(time.Hour)},
			want:     Decision{Action: ActionReject, Reason: ReasonSequenceViolation, Reply: "we were expecting predictor: headache"},
		},
		{
			name:     "outcome within interval",
			snapshot: Snapshot{User: configured, Latest: open, Message: "GONE", Now: t0.Add(time.Hour)},
			want: Decision{
				Action: ActionRecordOutcome,
				Effects: []Effect{
					{Kind: EffectCreateResponse, SessionID: "s1", Response: storage.ResponseOutcome},
					{Kind: EffectCloseSession, SessionID: "s1"},
				},
			},
		},
		{
			name:     "outcome exactly at the interval",
			snapshot: Snapshot{User: configured, Latest: open, Message: "gone", Now: t0.Add(2 * time.Hour)},
			want: Decision{
				Action: ActionRecordOutcome,
				Effects: []Effect{
					{Kind: EffectCreateResponse, SessionID: "s1", Response: storage.ResponseOutcome},
					{Kind: EffectCloseSession, SessionID: "s1"},
				},
			},
		},
		{
			name:     "outcome one second past the interval",
			snapshot: Snapshot{User: configured, Latest: open, Message: "gone", Now: t0.Add(2*time.Hour + time.Second)},
			want: Decision{
				Action:  ActionReject,
				Reason:  ReasonExpiryForced,
				Reply:   "we were expecting predictor: headache",
				Effects: []Effect{{Kind: EffectCloseSession, SessionID: "s1"}},
			},
		},
		{
			name: "same keyword for both prefers predictor",
			snapshot: Snapshot{
				User:    UserConfig{Username: "Alex", PredictorKeyword: "ping", OutcomeKeyword: "ping", IntervalHours: 2},
				Message: "ping", Now: t0,
			},
			want: Decision{
				Action: ActionStartSession,
				Effects: []Effect{
					{Kind: EffectCreateSession},
					{Kind: EffectCreateResponse, InNewSession: true, Response: storage.ResponsePredictor},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := interp.Decide(tt.snapshot)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Decide() = %+v\nwant %+v", got, tt.want)
			}
		})
	}
}

func TestDecideDoesNotModifySnapshot(t *testing.T) {
	latest := &SessionSnapshot{ID: "s1", CreatedAt: t0}
	snapshot := Snapshot{User: configured, Latest: latest, Message: "gone", Now: t0.Add(time.Hour)}

	NewInterpreter("").Decide(snapshot)

	if latest.Complete || latest.ID != "s1" || !latest.CreatedAt.Equal(t0) {
		t.Fatalf("Decide() modified the latest session: %+v", latest)
	}
}
